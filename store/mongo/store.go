// Package mongo provides a MongoDB implementation of store.Store.
//
// Message ids are drawn from a counter document updated with $inc, so they
// are strictly increasing and never reused. Handling is a FindOneAndUpdate
// conditioned on handled_at being null, which MongoDB applies atomically per
// document.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/workspace-mailbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// counterID is the _id of the message id counter document.
const counterID = "message_id"

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	counters   *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.collection = s.db.Collection(s.opts.collection)
	s.counters = s.db.Collection(s.opts.collection + "_counters")

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "message_id", Value: 1}},
			Options: mongoopts.Index().SetUnique(true),
		},
		// List order within a workspace
		{Keys: bson.D{
			bson.E{Key: "workspace_id", Value: 1},
			bson.E{Key: "created_at", Value: -1},
			bson.E{Key: "message_id", Value: -1},
		}},
		{Keys: bson.D{
			bson.E{Key: "workspace_id", Value: 1},
			bson.E{Key: "type", Value: 1},
		}},
		{Keys: bson.D{
			bson.E{Key: "workspace_id", Value: 1},
			bson.E{Key: "mailbox_id", Value: 1},
		}},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// now returns the store clock truncated to BSON datetime precision so
// values read back compare equal to the ones written.
func (s *Store) now() time.Time {
	return s.opts.now().UTC().Truncate(time.Millisecond)
}

// nextID atomically reserves the next message id.
func (s *Store) nextID(ctx context.Context) (int64, error) {
	opts := mongoopts.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(mongoopts.After)

	var result struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": counterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&result)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return result.Seq, nil
}
