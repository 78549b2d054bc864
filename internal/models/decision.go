package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionOutcome classifies what the engine did with a request.
type DecisionOutcome string

const (
	OutcomeAdmitted    DecisionOutcome = "admitted"
	OutcomeBlocked     DecisionOutcome = "blocked"
	OutcomeDelayed     DecisionOutcome = "delayed"
	OutcomeIgnored     DecisionOutcome = "ignored"
	OutcomeRankChanged DecisionOutcome = "rank_changed"
)

// DecisionEvent is a single recorded rate-limit decision, persisted to the
// audit trail for compliance review.
type DecisionEvent struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Outcome    DecisionOutcome `json:"outcome" db:"outcome"`
	Method     string          `json:"method" db:"method"`
	Path       string          `json:"path" db:"path"`
	IdentityID string          `json:"identity_id" db:"identity_id"`
	Group      string          `json:"group" db:"group_name"`
	Rank       int             `json:"rank" db:"rank"`
	RuleReason string          `json:"rule_reason,omitempty" db:"rule_reason"`
	LimitedFor time.Duration   `json:"limited_for,omitempty" db:"limited_for_seconds"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

// DecisionStats summarizes every recorded decision event for a group,
// backing the admin reporting endpoint.
type DecisionStats struct {
	Group          string    `json:"group" db:"group_name"`
	TotalDecisions int64     `json:"total_decisions" db:"total_decisions"`
	AdmittedCount  int64     `json:"admitted_count" db:"admitted_count"`
	BlockedCount   int64     `json:"blocked_count" db:"blocked_count"`
	DelayedCount   int64     `json:"delayed_count" db:"delayed_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// DecisionQuery filters a decision-event listing.
type DecisionQuery struct {
	IdentityID *string
	Group      *string
	Outcome    *DecisionOutcome
	Since      *time.Time
	Limit      int
	Offset     int
}
