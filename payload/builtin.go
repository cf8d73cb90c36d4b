package payload

import (
	"encoding/json"
	"errors"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// JobFailure reports a failed job run.
type JobFailure struct {
	JobID string `json:"job_id"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error"`
}

func (*JobFailure) MailboxType() store.MailboxType { return store.TypeJobFailure }

// ApprovalRequest asks an operator to resume or cancel a suspended job.
type ApprovalRequest struct {
	JobID     string   `json:"job_id"`
	ResumeURL string   `json:"resume_url,omitempty"`
	Approvers []string `json:"approvers,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (*ApprovalRequest) MailboxType() store.MailboxType { return store.TypeApprovalRequest }

// Severity of a system alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SystemAlert is an operational notice for workspace admins.
type SystemAlert struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (*SystemAlert) MailboxType() store.MailboxType { return store.TypeSystemAlert }

// Trigger carries the arguments of an event-driven run. Args is kept raw
// because its shape belongs to the triggered script.
type Trigger struct {
	Kind string          `json:"kind"`
	Args json.RawMessage `json:"args,omitempty"`
}

func (*Trigger) MailboxType() store.MailboxType { return store.TypeTrigger }

// Validate rejects alerts with an unknown severity.
func (a *SystemAlert) Validate() error {
	switch a.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return nil
	default:
		return errors.New("unknown severity " + string(a.Severity))
	}
}

// DefaultRegistry returns a registry with decoders for every mailbox type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(store.TypeJobFailure, JSONDecoder[JobFailure]())
	r.Register(store.TypeApprovalRequest, JSONDecoder[ApprovalRequest]())
	r.Register(store.TypeSystemAlert, func(raw json.RawMessage) (Payload, error) {
		p, err := JSONDecoder[SystemAlert]()(raw)
		if err != nil {
			return nil, err
		}
		if err := p.(*SystemAlert).Validate(); err != nil {
			return nil, err
		}
		return p, nil
	})
	r.Register(store.TypeTrigger, JSONDecoder[Trigger]())
	return r
}
