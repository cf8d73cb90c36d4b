// Package mailbox provides per-workspace mailboxes for automation platforms.
//
// A mailbox message is produced by the platform (a failed job, a suspended
// flow waiting for approval, a system alert, an event trigger) and consumed
// by workspace administrators, who list messages, mark them as handled and
// delete them. Messages are partitioned by workspace; no operation reads or
// writes across workspaces.
//
// # Basic Usage
//
//	st := memory.New()
//
//	svc, err := mailbox.NewService(
//	    mailbox.WithStore(st),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Every operation requires a privileged caller
//	ctx = mailbox.ContextWithCaller(ctx, mailbox.Caller{Subject: "admin@acme", SuperAdmin: true})
//
//	mb := svc.Workspace("acme")
//	msgs, err := mb.List(ctx, mailbox.ListQuery{PerPage: 20})
//	res, err := mb.Handle(ctx, msgs[0].ID)
//	report, err := mb.BulkDelete(ctx, []int64{3, 4, 5})
//
// # Mailbox Operations
//
//   - List: newest-first pages, optionally filtered by type, mailbox id or message id
//   - Count: the number of messages matching a list query's filters
//   - Get: a single message
//   - Handle: pending to handled, exactly once; later calls report AlreadyHandled
//   - Delete / BulkDelete: permanent removal; bulk reports ids that were not found.
//     A store failure part-way through a bulk delete returns the partial
//     report with a *PartialBulkDeleteError.
//
// Messages are written by producers directly through store.Store.Insert;
// the payload package gives typed shapes to their payloads.
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB
//   - In-memory (store/memory) - for testing
//
// Deleted messages can be copied to object storage with WithArchiver
// (archive/s3, archive/gcs).
//
// # Events
//
// Mailbox publishes typed events using github.com/rbaliyan/event/v3.
// Pass WithRedisClient or WithEventTransport to deliver them; without
// either, a noop transport drops them.
//
//	events := svc.Events()
//	events.MessageHandled.Subscribe(ctx, handler)
//	events.MessageDeleted.Subscribe(ctx, handler)
//
// Available events:
//   - MessageHandled - when a message moves from pending to handled
//   - MessageDeleted - for every deleted message
package mailbox
