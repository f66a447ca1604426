package domain

import "strings"

// Status enumerates order progression.
type Status string

const (
	StatusReceived  Status = "received"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Lifecycle is the main fulfillment sequence. Auto-advance walks it one step at a time.
var Lifecycle = []Status{StatusReceived, StatusPreparing, StatusReady, StatusCompleted}

var statusAliases = map[string]Status{
	"received":    StatusReceived,
	"new":         StatusReceived,
	"pending":     StatusReceived,
	"accepted":    StatusReceived,
	"in_queue":    StatusReceived,
	"in-queue":    StatusReceived,
	"preparing":   StatusPreparing,
	"in_prep":     StatusPreparing,
	"in_progress": StatusPreparing,
	"in-progress": StatusPreparing,
	"ready":       StatusReady,
	"staged":      StatusReady,
	"handoff":     StatusReady,
	"completed":   StatusCompleted,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"voided":      StatusCancelled,
	"refunded":    StatusCancelled,
}

// ParseStatus canonicalises a raw status string, accepting the legacy aliases still
// emitted by older point-of-sale clients.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := statusAliases[key]; ok {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether s is a member of the fixed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Next returns the following lifecycle status, if any.
func (s Status) Next() (Status, bool) {
	for i, status := range Lifecycle[:len(Lifecycle)-1] {
		if status == s {
			return Lifecycle[i+1], true
		}
	}
	return "", false
}

func (s Status) String() string { return string(s) }
