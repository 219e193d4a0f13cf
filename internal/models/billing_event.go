package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcomes recorded for processed billing events.
const (
	BillingOutcomeApplied   = "applied"
	BillingOutcomeNoop      = "noop"
	BillingOutcomeIgnored   = "ignored"
	BillingOutcomeRejected  = "rejected"
	BillingOutcomeUnmatched = "unmatched"
	BillingOutcomeReversed  = "reversed"
	// BillingOutcomeDuplicate is reported for redelivered events and never stored.
	BillingOutcomeDuplicate = "duplicate"
)

// BillingEvent records a processor event so redelivery is detected.
type BillingEvent struct {
	ID              uuid.UUID  `json:"id"`
	ProviderEventID string     `json:"provider_event_id"`
	EventType       string     `json:"event_type"`
	WorkspaceID     *uuid.UUID `json:"workspace_id,omitempty"`
	Outcome         string     `json:"outcome"`
	ReceivedAt      time.Time  `json:"received_at"`
}
