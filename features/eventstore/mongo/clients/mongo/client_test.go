package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

func TestClientAppendAssignsSeq(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	c := &client{coll: coll, counters: coll}

	e, err := c.Append(context.Background(), eventstore.EventInput{
		EventType: "chat.user_msg",
		ActorID:   "chat-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Seq)
	assert.NotEmpty(t, e.EventID)

	e2, err := c.Append(context.Background(), eventstore.EventInput{
		EventType: "chat.user_msg",
		ActorID:   "chat-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Seq)
}

func TestClientAppendValidation(t *testing.T) {
	t.Parallel()

	c := &client{coll: &fakeCollection{}, counters: &fakeCollection{}}

	_, err := c.Append(context.Background(), eventstore.EventInput{ActorID: "chat-1"})
	require.ErrorIs(t, err, eventstore.ErrEventTypeRequired)

	_, err = c.Append(context.Background(), eventstore.EventInput{EventType: "chat.user_msg"})
	require.ErrorIs(t, err, eventstore.ErrActorIDRequired)
}

func TestClientGetRecentFiltersBySinceSeqAndActor(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{findDocs: fakeEventDocuments(5)}
	c := &client{coll: coll, counters: coll}

	events, err := c.GetRecent(context.Background(), eventstore.Filter{SinceSeq: 2, ActorID: "chat-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(5), events[2].Seq)
}

func fakeEventDocuments(n int) []eventDocument {
	docs := make([]eventDocument, 0, n)
	for i := 1; i <= n; i++ {
		docs = append(docs, eventDocument{
			ID:        "01ARZ3NDEKTSV4RRFFQ69G5FA" + string(rune('0'+i)),
			Seq:       int64(i),
			EventType: "chat.user_msg",
			ActorID:   "chat-1",
			Timestamp: time.Unix(int64(i), 0).UTC(),
		})
	}
	return docs
}

// fakeCollection implements the collection seam without talking to a real
// MongoDB deployment. Find interprets the subset of the bson.D query shape
// that GetRecent actually builds (seq $gt, actor_id, event_type $regex);
// it does not attempt to emulate server-side SetLimit/SetSort.
type fakeCollection struct {
	seq      int64
	findDocs []eventDocument
}

func (c *fakeCollection) InsertOne(context.Context, any, ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return &mongodriver.InsertOneResult{InsertedID: bson.NewObjectID()}, nil
}

func (c *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (cursor, error) {
	q, ok := filter.(bson.D)
	if !ok {
		return &fakeCursor{docs: c.findDocs}, nil
	}

	var sinceSeq int64
	var actorID string
	for _, e := range q {
		switch e.Key {
		case "seq":
			if gt, ok := e.Value.(bson.D); ok {
				for _, inner := range gt {
					if inner.Key == "$gt" {
						sinceSeq, _ = inner.Value.(int64)
					}
				}
			}
		case "actor_id":
			actorID, _ = e.Value.(string)
		}
	}

	var out []eventDocument
	for _, doc := range c.findDocs {
		if doc.Seq <= sinceSeq {
			continue
		}
		if actorID != "" && doc.ActorID != actorID {
			continue
		}
		out = append(out, doc)
	}
	return &fakeCursor{docs: out}, nil
}

func (c *fakeCollection) FindOneAndUpdate(context.Context, any, any, ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	c.seq++
	return fakeSingleResult{seq: c.seq}
}

func (c *fakeCollection) Watch(context.Context, any) (changeStream, error) {
	return &fakeChangeStream{}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{}
}

type fakeSingleResult struct {
	seq int64
}

func (r fakeSingleResult) Decode(val any) error {
	doc, ok := val.(*counterDocument)
	if !ok {
		return nil
	}
	doc.ID = seqCounterID
	doc.Seq = r.seq
	return nil
}

type fakeIndexView struct{}

func (fakeIndexView) CreateMany(context.Context, []mongodriver.IndexModel, ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	return nil, nil
}

type fakeCursor struct {
	docs []eventDocument
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil
	}
	p, ok := val.(*eventDocument)
	if !ok {
		return nil
	}
	*p = c.docs[c.pos-1]
	return nil
}

func (c *fakeCursor) Err() error {
	return nil
}

func (c *fakeCursor) Close(context.Context) error {
	return nil
}

type fakeChangeStream struct{}

func (s *fakeChangeStream) Next(context.Context) bool  { return false }
func (s *fakeChangeStream) Decode(any) error            { return nil }
func (s *fakeChangeStream) Close(context.Context) error { return nil }
