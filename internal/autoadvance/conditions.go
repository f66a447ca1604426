package autoadvance

import "time"

// ConditionKind classifies operator-visible problems.
type ConditionKind string

const (
	// ConditionPermanentFailure means an order's transition was rejected for good and
	// auto-advance is disabled for it.
	ConditionPermanentFailure ConditionKind = "permanent-failure"
	// ConditionStreamUnauthorized means the realtime stream refused the engine's
	// credentials and reconnection has stopped.
	ConditionStreamUnauthorized ConditionKind = "stream-unauthorized"
	// ConditionOverrideRejected means a staff override could not be persisted.
	ConditionOverrideRejected ConditionKind = "override-rejected"
)

// Condition is surfaced to operators through Engine.Conditions.
type Condition struct {
	Kind     ConditionKind
	OrderID  int64
	Target   string
	Message  string
	RaisedAt time.Time
}

const maxConditions = 256

func (e *Engine) raise(c Condition) {
	c.RaisedAt = e.clock.Now()
	e.conditions = append(e.conditions, c)
	if len(e.conditions) > maxConditions {
		e.conditions = e.conditions[len(e.conditions)-maxConditions:]
	}
}
