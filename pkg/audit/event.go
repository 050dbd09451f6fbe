// Package audit provides audit logging for configuration changes applied
// through the HTTP configuration interface.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event represents one auditable POST against a datapath's slice
// configuration.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user,omitempty"`
	Dpid      string        `json:"dpid"`
	Operation string        `json:"operation"`
	Changes   []Change      `json:"changes,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	ClientIP  string        `json:"client_ip,omitempty"`
}

// ChangeType categorizes a single change within an audit event.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// Change describes one piece of a configuration POST: a slice being
// installed, a tuple being discarded, or a MAC being learned.
type Change struct {
	Table    string            `json:"table"` // "slice", "disused", or "learn"
	Key      string            `json:"key"`   // tuple text, or a MAC for "learn"
	Type     ChangeType        `json:"type"`
	NewValue map[string]string `json:"new_value,omitempty"`
}

// Filter defines criteria for querying audit events.
type Filter struct {
	Dpid        string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event for a POST against dpid.
func NewEvent(user, dpid, operation string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		User:      user,
		Dpid:      dpid,
		Operation: operation,
	}
}

// WithChanges sets the changes the POST requested.
func (e *Event) WithChanges(changes []Change) *Event {
	e.Changes = changes
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithClientIP records the requesting client's address.
func (e *Event) WithClientIP(ip string) *Event {
	e.ClientIP = ip
	return e
}

func generateID() string {
	return uuid.New().String()
}
