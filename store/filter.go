package store

// Filter narrows a workspace listing. Nil fields are not applied; set fields
// are combined with AND.
type Filter struct {
	Type      *MailboxType
	MailboxID *string
	MessageID *int64
}

// FilterBuilder builds a Filter fluently:
//
//	f := store.NewFilter().WithType(store.TypeSystemAlert).WithMailboxID("thread-1").Build()
type FilterBuilder struct {
	f Filter
}

// NewFilter returns an empty FilterBuilder.
func NewFilter() *FilterBuilder {
	return &FilterBuilder{}
}

func (b *FilterBuilder) WithType(t MailboxType) *FilterBuilder {
	b.f.Type = &t
	return b
}

func (b *FilterBuilder) WithMailboxID(id string) *FilterBuilder {
	b.f.MailboxID = &id
	return b
}

func (b *FilterBuilder) WithMessageID(id int64) *FilterBuilder {
	b.f.MessageID = &id
	return b
}

func (b *FilterBuilder) Build() Filter {
	return b.f
}

// IsEmpty reports whether no filter field is set.
func (f Filter) IsEmpty() bool {
	return f.Type == nil && f.MailboxID == nil && f.MessageID == nil
}

// Matches reports whether m satisfies every set field of the filter.
// Workspace scoping is the caller's responsibility.
func (f Filter) Matches(m *Message) bool {
	if f.Type != nil && m.Type != *f.Type {
		return false
	}
	if f.MailboxID != nil && (m.MailboxID == nil || *m.MailboxID != *f.MailboxID) {
		return false
	}
	if f.MessageID != nil && m.ID != *f.MessageID {
		return false
	}
	return true
}

// ListOptions configures offset pagination. The ordering is fixed:
// created_at descending, then message id descending.
type ListOptions struct {
	Limit  int
	Offset int
}
