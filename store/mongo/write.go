package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/workspace-mailbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Insert stores a new message and returns it with its assigned id.
func (s *Store) Insert(ctx context.Context, data store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}

	doc := messageDoc{
		MessageID:   id,
		WorkspaceID: data.WorkspaceID,
		MailboxID:   data.MailboxID,
		Type:        string(data.Type),
		Payload:     string(data.NormalizedPayload()),
		CreatedAt:   s.now(),
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return docToMessage(&doc), nil
}

// MarkHandled sets handled_at if it is not already set.
func (s *Store) MarkHandled(ctx context.Context, workspaceID string, id int64) (*store.Message, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if id <= 0 {
		return nil, false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{
		"workspace_id": workspaceID,
		"message_id":   id,
		"handled_at":   nil,
	}
	update := bson.M{"$set": bson.M{"handled_at": s.now()}}
	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)

	var doc messageDoc
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return docToMessage(&doc), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("mark handled: %w", err)
	}

	// Either already handled or absent from this workspace.
	current, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, false, err
	}
	if current.HandledAt == nil {
		return nil, false, fmt.Errorf("mark handled: message %d still pending after update", id)
	}
	return current, false, nil
}

// Delete permanently removes a message.
func (s *Store) Delete(ctx context.Context, workspaceID string, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.deleteOne(ctx, workspaceID, id)
}

// DeleteMany removes every listed message present in the workspace inside
// one transaction, so either every matching document goes or none does.
// Standalone servers have no transactions; there each id is removed with
// its own FindOneAndDelete and, on failure, the rows already removed are
// returned together with the error.
func (s *Store) DeleteMany(ctx context.Context, workspaceID string, ids []int64) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return []*store.Message{}, nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return s.deleteEach(ctx, workspaceID, ids)
	}
	defer session.EndSession(ctx)

	var deleted []*store.Message
	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		// The callback is re-run on transient errors; start from scratch.
		var err error
		deleted, err = s.deleteEach(sessCtx, workspaceID, ids)
		return nil, err
	})
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			s.logger.Debug("transactions unavailable, deleting per document", "workspace_id", workspaceID)
			return s.deleteEach(ctx, workspaceID, ids)
		}
		// Aborted: nothing was removed.
		return nil, fmt.Errorf("delete messages: %w", txErr)
	}
	return deleted, nil
}

// deleteEach removes ids one by one and returns the removed rows, including
// those removed before a failure.
func (s *Store) deleteEach(ctx context.Context, workspaceID string, ids []int64) ([]*store.Message, error) {
	deleted := make([]*store.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.deleteOne(ctx, workspaceID, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, m)
	}
	return deleted, nil
}

// isTransactionNotSupported reports whether err comes from a deployment
// without transactions: IllegalOperation (20) on standalone servers, or
// OperationNotSupportedInTransaction (263).
func isTransactionNotSupported(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 20 || cmdErr.Code == 263
	}
	return false
}

func (s *Store) deleteOne(ctx context.Context, workspaceID string, id int64) (*store.Message, error) {
	var doc messageDoc
	err := s.collection.FindOneAndDelete(ctx, bson.M{"workspace_id": workspaceID, "message_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return docToMessage(&doc), nil
}
