// Package mongo implements the low-level MongoDB client used by the
// durable event store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/oklog/ulid/v2"
	"goa.design/clue/health"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

type (
	// Client exposes Mongo-backed operations for the durable event log.
	Client interface {
		health.Pinger

		Append(ctx context.Context, in eventstore.EventInput) (eventstore.Event, error)
		AppendAsync(ctx context.Context, in eventstore.EventInput)
		GetRecent(ctx context.Context, filter eventstore.Filter) ([]eventstore.Event, error)
		Watch(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func(), error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo    *mongodriver.Client
		coll     collection
		counters collection
		timeout  time.Duration
	}

	eventDocument struct {
		ID         string    `bson:"_id"`
		Seq        int64     `bson:"seq"`
		EventType  string    `bson:"event_type"`
		ActorID    string    `bson:"actor_id"`
		UserID     string    `bson:"user_id"`
		Timestamp  time.Time `bson:"timestamp"`
		Payload    any       `bson:"payload"`
		WakePolicy string    `bson:"wake_policy"`
		Importance string    `bson:"importance"`
		RunID      string    `bson:"run_id,omitempty"`
		TaskID     string    `bson:"task_id,omitempty"`
		CallID     string    `bson:"call_id,omitempty"`
		Capability string    `bson:"capability,omitempty"`
		Phase      string    `bson:"phase,omitempty"`
	}

	counterDocument struct {
		ID  string `bson:"_id"`
		Seq int64  `bson:"seq"`
	}
)

const (
	defaultCollection    = "sandbox_events"
	countersSuffix       = "_counters"
	seqCounterID         = "event_seq"
	defaultTimeout       = 5 * time.Second
	clientName           = "eventstore-mongo"
	subscriberQueueDepth = 256
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collectionName := opts.Collection
	if collectionName == "" {
		collectionName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	mcoll := db.Collection(collectionName)
	ccoll := db.Collection(collectionName + countersSuffix)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{
		mongo:    opts.Client,
		coll:     wrapper,
		counters: mongoCollection{coll: ccoll},
		timeout:  timeout,
	}, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Append assigns a globally monotonic seq via an atomic counter increment,
// then inserts the event document. Returns eventstore.StorageError on
// backing-store failure.
func (c *client) Append(ctx context.Context, in eventstore.EventInput) (eventstore.Event, error) {
	if in.EventType == "" {
		return eventstore.Event{}, eventstore.ErrEventTypeRequired
	}
	if in.ActorID == "" {
		return eventstore.Event{}, eventstore.ErrActorIDRequired
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	seq, err := c.nextSeq(ctx)
	if err != nil {
		return eventstore.Event{}, &eventstore.StorageError{Op: "append.next_seq", Cause: err}
	}

	e := eventstore.Event{
		Seq:       seq,
		EventID:   ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		EventType: in.EventType,
		ActorID:   in.ActorID,
		UserID:    in.UserID,
		Payload:   in.Payload,
		Metadata:  in.Metadata,
	}

	doc := toDocument(e)
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return eventstore.Event{}, &eventstore.StorageError{Op: "append.insert", Cause: err}
	}
	return e, nil
}

// AppendAsync fires Append on a background goroutine and drops the result.
// Losses are not surfaced to the caller; a production deployment should
// pair this with alerting on StorageError rates observed elsewhere.
func (c *client) AppendAsync(ctx context.Context, in eventstore.EventInput) {
	go func() {
		_, _ = c.Append(context.WithoutCancel(ctx), in)
	}()
}

func (c *client) nextSeq(ctx context.Context) (int64, error) {
	filter := bson.D{{Key: "_id", Value: seqCounterID}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc counterDocument
	if err := c.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

// GetRecent returns events with Seq > filter.SinceSeq, ascending by Seq,
// with filter.Limit clamped to [1, 1000].
func (c *client) GetRecent(ctx context.Context, filter eventstore.Filter) (events []eventstore.Event, err error) {
	limit := eventstore.ClampLimit(filter.Limit)

	q := bson.D{{Key: "seq", Value: bson.D{{Key: "$gt", Value: filter.SinceSeq}}}}
	if filter.EventTypePrefix != "" {
		q = append(q, bson.E{Key: "event_type", Value: bson.D{
			{Key: "$regex", Value: "^" + regexEscape(filter.EventTypePrefix)},
		}})
	}
	if filter.ActorID != "" {
		q = append(q, bson.E{Key: "actor_id", Value: filter.ActorID})
	}
	if filter.UserID != "" {
		q = append(q, bson.E{Key: "user_id", Value: filter.UserID})
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, q, options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, &eventstore.StorageError{Op: "get_recent.find", Cause: err}
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, &eventstore.StorageError{Op: "get_recent.decode", Cause: err}
		}
		events = append(events, fromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, &eventstore.StorageError{Op: "get_recent.cursor", Cause: err}
	}
	return events, nil
}

// Watch tails the collection for newly inserted documents via a MongoDB
// change stream, translating matches to eventstore.Event. A subscriber that
// cannot keep up is disconnected and a subscriber_lagged event is appended,
// matching the in-memory implementation's overflow behavior.
func (c *client) Watch(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func(), error) {
	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	stream, err := c.coll.Watch(ctx, pipeline)
	if err != nil {
		return nil, nil, &eventstore.StorageError{Op: "subscribe.watch", Cause: err}
	}

	out := make(chan eventstore.Event, subscriberQueueDepth)
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			var change struct {
				FullDocument eventDocument `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				continue
			}
			e := fromDocument(change.FullDocument)
			if e.Seq <= filter.SinceSeq || !filter.Matches(e) {
				continue
			}
			select {
			case out <- e:
			case <-streamCtx.Done():
				return
			default:
				c.AppendAsync(context.Background(), eventstore.EventInput{
					EventType: "eventstore.subscriber_lagged",
					ActorID:   "eventstore",
					Metadata:  eventstore.Metadata{WakePolicy: eventstore.DisplayOnly},
				})
				return
			}
		}
	}()

	return out, cancel, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toDocument(e eventstore.Event) eventDocument {
	return eventDocument{
		ID:         e.EventID,
		Seq:        e.Seq,
		EventType:  e.EventType,
		ActorID:    e.ActorID,
		UserID:     e.UserID,
		Timestamp:  e.Timestamp,
		Payload:    e.Payload,
		WakePolicy: string(e.Metadata.WakePolicy),
		Importance: string(e.Metadata.Importance),
		RunID:      e.Metadata.RunID,
		TaskID:     e.Metadata.TaskID,
		CallID:     e.Metadata.CallID,
		Capability: e.Metadata.Capability,
		Phase:      e.Metadata.Phase,
	}
}

func fromDocument(doc eventDocument) eventstore.Event {
	return eventstore.Event{
		Seq:       doc.Seq,
		EventID:   doc.ID,
		Timestamp: doc.Timestamp,
		EventType: doc.EventType,
		ActorID:   doc.ActorID,
		UserID:    doc.UserID,
		Payload:   doc.Payload,
		Metadata: eventstore.Metadata{
			WakePolicy: eventstore.WakePolicy(doc.WakePolicy),
			Importance: eventstore.Importance(doc.Importance),
			RunID:      doc.RunID,
			TaskID:     doc.TaskID,
			CallID:     doc.CallID,
			Capability: doc.Capability,
			Phase:      doc.Phase,
		},
	}
}

func regexEscape(s string) string {
	special := `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		b := s[i]
		for j := 0; j < len(special); j++ {
			if special[j] == b {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, b)
	}
	return string(out)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	models := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "event_type", Value: 1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "seq", Value: 1}}},
	}
	_, err := coll.Indexes().CreateMany(ctx, models)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	Watch(ctx context.Context, pipeline any) (changeStream, error)
	Indexes() indexView
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type singleResult interface {
	Decode(val any) error
}

type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoCollection) Watch(ctx context.Context, pipeline any) (changeStream, error) {
	p, ok := pipeline.(mongodriver.Pipeline)
	if !ok {
		return nil, fmt.Errorf("unexpected pipeline type %T", pipeline)
	}
	stream, err := c.coll.Watch(ctx, p)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
