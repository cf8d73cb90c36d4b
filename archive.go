package mailbox

import (
	"context"
	"errors"
)

// archive copies deleted messages to the configured archiver. Failures are
// logged; they are returned as an ArchiveError only when archive errors are
// fatal. The deletions have already committed either way.
func (s *service) archive(ctx context.Context, msgs []*Message) error {
	if s.opts.archiver == nil || len(msgs) == 0 {
		return nil
	}

	var failed []int64
	var errs []error
	for _, msg := range msgs {
		uri, err := s.opts.archiver.Archive(ctx, msg)
		if err != nil {
			s.logger.Error("failed to archive deleted message",
				"workspace_id", msg.WorkspaceID, "message_id", msg.ID, "error", err)
			failed = append(failed, msg.ID)
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("archived deleted message",
			"workspace_id", msg.WorkspaceID, "message_id", msg.ID, "uri", uri)
	}

	if len(failed) == 0 || !s.opts.archiveErrorsFatal {
		return nil
	}
	return &ArchiveError{MessageIDs: failed, Err: errors.Join(errs...)}
}
