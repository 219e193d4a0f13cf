// Package subscription resolves workspace access status and guards billing state transitions.
package subscription

import (
	"math"
	"time"

	"github.com/crewdesk/backend/internal/models"
)

// AccessStatus is the label used for access-control decisions. It is derived on every
// request and never stored.
type AccessStatus string

const (
	StatusActive        AccessStatus = "active"
	StatusPastDue       AccessStatus = "past_due"
	StatusTrialActive   AccessStatus = "trial_active"
	StatusTrialExpiring AccessStatus = "trial_expiring"
	StatusExpired       AccessStatus = "expired"
)

// DefaultGracePeriod is how long a past_due workspace keeps access after subscription_end_date.
const DefaultGracePeriod = 3 * 24 * time.Hour

// Resolve computes the access status of ws at now. Rules are evaluated in order; the first match wins.
func Resolve(ws *models.Workspace, now time.Time) AccessStatus {
	if ws == nil {
		return StatusTrialActive
	}
	if ws.HasStripeSubscription() && ws.SubscriptionStatus == models.SubscriptionActive {
		if ws.SubscriptionEndDate == nil || ws.SubscriptionEndDate.After(now) {
			return StatusActive
		}
		return StatusExpired
	}
	switch ws.SubscriptionStatus {
	case models.SubscriptionPastDue:
		return StatusPastDue
	case models.SubscriptionCanceled, models.SubscriptionUnpaid, models.SubscriptionIncomplete:
		return StatusExpired
	}
	if ws.TrialEndDate == nil {
		return StatusTrialActive
	}
	days := TrialDaysLeft(*ws.TrialEndDate, now)
	switch {
	case days > 1:
		return StatusTrialActive
	case days >= 0:
		return StatusTrialExpiring
	default:
		return StatusExpired
	}
}

// TrialDaysLeft returns the whole days between now and end, rounded toward negative infinity.
func TrialDaysLeft(end, now time.Time) int {
	return int(math.Floor(end.Sub(now).Hours() / 24))
}

// GraceDeadline returns the moment a past_due workspace loses access, or nil when
// subscription_end_date is unknown.
func GraceDeadline(ws *models.Workspace, grace time.Duration) *time.Time {
	if ws == nil || ws.SubscriptionEndDate == nil {
		return nil
	}
	d := ws.SubscriptionEndDate.Add(grace)
	return &d
}

// Summary is the resolved status plus the figures a UI needs to render warnings.
type Summary struct {
	Status        AccessStatus              `json:"status"`
	Stored        models.SubscriptionStatus `json:"subscription_status"`
	Tier          models.SubscriptionTier   `json:"subscription_tier"`
	TrialDaysLeft *int                      `json:"trial_days_left,omitempty"`
	EndsAt        *time.Time                `json:"subscription_end_date,omitempty"`
	GraceUntil    *time.Time                `json:"grace_until,omitempty"`
	InGrace       bool                      `json:"in_grace"`
	Warning       bool                      `json:"warning"`
}

// Summarize resolves ws and annotates the result with trial and grace information.
func Summarize(ws *models.Workspace, now time.Time, grace time.Duration) Summary {
	if ws == nil {
		return Summary{Status: Resolve(nil, now)}
	}
	s := Summary{
		Status: Resolve(ws, now),
		Stored: ws.SubscriptionStatus,
		Tier:   ws.SubscriptionTier,
		EndsAt: ws.SubscriptionEndDate,
	}
	if ws.TrialEndDate != nil && !ws.HasStripeSubscription() {
		d := TrialDaysLeft(*ws.TrialEndDate, now)
		s.TrialDaysLeft = &d
	}
	switch s.Status {
	case StatusPastDue:
		s.GraceUntil = GraceDeadline(ws, grace)
		s.InGrace = s.GraceUntil == nil || now.Before(*s.GraceUntil)
		if !s.InGrace {
			s.Status = StatusExpired
		}
		s.Warning = true
	case StatusTrialExpiring:
		s.Warning = true
	}
	return s
}
