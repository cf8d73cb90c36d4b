package mailbox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// BulkDeleteReport lists the outcome of a bulk delete. Both lists follow
// the order of the request with duplicates removed, and every requested id
// appears in exactly one of them.
type BulkDeleteReport struct {
	Deleted  []int64 `json:"deleted"`
	NotFound []int64 `json:"not_found"`
}

// DeletedCount returns the number of messages removed.
func (r *BulkDeleteReport) DeletedCount() int {
	if r == nil {
		return 0
	}
	return len(r.Deleted)
}

// NotFoundCount returns the number of ids that matched nothing.
func (r *BulkDeleteReport) NotFoundCount() int {
	if r == nil {
		return 0
	}
	return len(r.NotFound)
}

// TotalCount returns the number of distinct ids processed.
func (r *BulkDeleteReport) TotalCount() int {
	return r.DeletedCount() + r.NotFoundCount()
}

// HasMissing returns true if any requested id was not found.
func (r *BulkDeleteReport) HasMissing() bool {
	return r.NotFoundCount() > 0
}

// Err returns an error if some ids were not found, nil otherwise.
// Partial success is not a failure of BulkDelete itself; Err is for callers
// that require every id to exist.
func (r *BulkDeleteReport) Err() error {
	if !r.HasMissing() {
		return nil
	}
	return &BulkOperationError{Report: r}
}

// BulkOperationError reports the ids a bulk delete could not find.
type BulkOperationError struct {
	Report *BulkDeleteReport
}

// Error implements the error interface.
// Always returns a non-empty string describing the failure.
func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("mailbox: bulk delete missed %d of %d messages",
		e.Report.NotFoundCount(), e.Report.TotalCount())
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *BulkOperationError) Unwrap() error {
	return ErrNotFound
}

// PartialBulkDeleteError is returned with a report when the store failed
// after removing some messages. Report.Deleted lists what was removed;
// ids in neither list were not processed and may be retried.
type PartialBulkDeleteError struct {
	Report *BulkDeleteReport
	Err    error
}

func (e *PartialBulkDeleteError) Error() string {
	return fmt.Sprintf("%v (%d messages deleted before the failure)", e.Err, e.Report.DeletedCount())
}

func (e *PartialBulkDeleteError) Unwrap() error {
	return e.Err
}

// dedupeIDs returns ids in first-seen order without duplicates.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// BulkDelete removes the listed messages from the workspace. Ids that do not
// exist are reported, not treated as errors. An empty list is a no-op.
//
// If the store fails after removing some messages, BulkDelete returns the
// partial report with a *PartialBulkDeleteError wrapping ErrStorageFailure.
func (m *workspaceMailbox) BulkDelete(ctx context.Context, ids []int64) (*BulkDeleteReport, error) {
	if err := m.checkAccess(ctx); err != nil {
		return nil, err
	}
	if limit := m.service.opts.maxBulkDelete; len(ids) > limit {
		return nil, &ValidationError{
			Field:   "message_ids",
			Message: fmt.Sprintf("at most %d ids per request, got %d", limit, len(ids)),
		}
	}

	unique := dedupeIDs(ids)
	report := &BulkDeleteReport{
		Deleted:  make([]int64, 0, len(unique)),
		NotFound: make([]int64, 0),
	}
	if len(unique) == 0 {
		return report, nil
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "mailbox.bulk_delete",
		attribute.String("workspace_id", m.workspaceID),
		attribute.Int("requested", len(unique)),
	)
	start := time.Now()
	var bulkErr error
	defer func() {
		endSpan(bulkErr)
		m.service.otel.recordBulkDelete(ctx, time.Since(start), report.DeletedCount(), report.NotFoundCount(), bulkErr)
	}()

	if err := m.service.opSem.Acquire(ctx, 1); err != nil {
		bulkErr = err
		return nil, bulkErr
	}
	defer m.service.opSem.Release(1)

	// Ids that can never exist skip the store.
	candidates := make([]int64, 0, len(unique))
	for _, id := range unique {
		if id > 0 {
			candidates = append(candidates, id)
		}
	}

	removed, storeErr := m.service.store.DeleteMany(ctx, m.workspaceID, candidates)
	if storeErr != nil && len(removed) == 0 {
		bulkErr = classifyStoreError("bulk_delete", storeErr)
		return nil, bulkErr
	}

	gone := make(map[int64]*Message, len(removed))
	for _, msg := range removed {
		gone[msg.ID] = msg
	}
	deleted := make([]*Message, 0, len(removed))
	for _, id := range unique {
		if msg, ok := gone[id]; ok {
			report.Deleted = append(report.Deleted, id)
			deleted = append(deleted, msg)
		} else if storeErr == nil {
			report.NotFound = append(report.NotFound, id)
		}
	}

	// A store that failed part-way still removed these rows; their side
	// effects run before the failure is returned.
	hookErr := m.afterDelete(ctx, deleted)
	if storeErr != nil {
		if hookErr != nil {
			m.service.opts.logger.Error("post-delete side effects failed after partial bulk delete",
				"workspace_id", m.workspaceID, "error", hookErr)
		}
		bulkErr = &PartialBulkDeleteError{Report: report, Err: classifyStoreError("bulk_delete", storeErr)}
		return report, bulkErr
	}
	if hookErr != nil {
		bulkErr = hookErr
		return report, bulkErr
	}
	return report, nil
}
