package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/crewdesk/backend/internal/models"
)

// ErrInvalidTransition is returned when a billing event asks for a state change the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("subscription: invalid transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	From models.SubscriptionStatus
	To   models.SubscriptionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("subscription: cannot move from %q to %q", e.From, e.To)
}

// Is reports ErrInvalidTransition so callers can use errors.Is.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

var transitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.SubscriptionTrial:      {models.SubscriptionActive, models.SubscriptionCanceled},
	models.SubscriptionActive:     {models.SubscriptionActive, models.SubscriptionPastDue, models.SubscriptionCanceled},
	models.SubscriptionPastDue:    {models.SubscriptionActive, models.SubscriptionPastDue, models.SubscriptionCanceled},
	models.SubscriptionCanceled:   {models.SubscriptionActive, models.SubscriptionCanceled},
	models.SubscriptionUnpaid:     {models.SubscriptionActive, models.SubscriptionCanceled},
	models.SubscriptionIncomplete: {models.SubscriptionActive, models.SubscriptionCanceled},
}

// CanTransition reports whether the lifecycle allows from -> to. An empty status is a trial.
func CanTransition(from, to models.SubscriptionStatus) bool {
	if from == "" {
		from = models.SubscriptionTrial
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Lifecycle is the only writer of a workspace's billing fields.
type Lifecycle struct {
	ws *models.Workspace
}

// New wraps ws. The workspace is mutated in place by the Mark methods.
func New(ws *models.Workspace) *Lifecycle {
	return &Lifecycle{ws: ws}
}

// Workspace returns the wrapped row.
func (l *Lifecycle) Workspace() *models.Workspace { return l.ws }

// LinkCustomer records the processor customer for the workspace.
func (l *Lifecycle) LinkCustomer(customerID string) bool {
	if customerID == "" {
		return false
	}
	if l.ws.StripeCustomerID != nil && *l.ws.StripeCustomerID == customerID {
		return false
	}
	l.ws.StripeCustomerID = &customerID
	return true
}

// MarkActive records a paid subscription. periodEnd only ever moves forward for the same
// subscription so a late, older event cannot shorten access. An empty tier keeps the current one.
func (l *Lifecycle) MarkActive(subscriptionID string, tier models.SubscriptionTier, periodEnd *time.Time) (bool, error) {
	if err := l.check(models.SubscriptionActive); err != nil {
		return false, err
	}
	changed := l.setStatus(models.SubscriptionActive)
	sameSub := subscriptionID == "" || (l.ws.StripeSubscriptionID != nil && *l.ws.StripeSubscriptionID == subscriptionID)
	if !sameSub {
		l.ws.StripeSubscriptionID = &subscriptionID
		changed = true
	}
	if tier != "" && l.ws.SubscriptionTier != tier {
		l.ws.SubscriptionTier = tier
		changed = true
	}
	if periodEnd != nil {
		if !sameSub || l.ws.SubscriptionEndDate == nil || periodEnd.After(*l.ws.SubscriptionEndDate) {
			end := periodEnd.UTC()
			l.ws.SubscriptionEndDate = &end
			changed = true
		}
	} else if !sameSub && l.ws.SubscriptionEndDate != nil {
		// The old subscription's end date says nothing about the new one.
		l.ws.SubscriptionEndDate = nil
		changed = true
	}
	return changed, nil
}

// MarkPastDue records a failed renewal. The grace period is measured from subscription_end_date,
// which is set from periodEnd only when none is known yet.
func (l *Lifecycle) MarkPastDue(periodEnd *time.Time) (bool, error) {
	if err := l.check(models.SubscriptionPastDue); err != nil {
		return false, err
	}
	changed := l.setStatus(models.SubscriptionPastDue)
	if periodEnd != nil && l.ws.SubscriptionEndDate == nil {
		end := periodEnd.UTC()
		l.ws.SubscriptionEndDate = &end
		changed = true
	}
	return changed, nil
}

// MarkCanceled ends the subscription. endedAt, when known, becomes subscription_end_date.
func (l *Lifecycle) MarkCanceled(endedAt *time.Time) (bool, error) {
	if err := l.check(models.SubscriptionCanceled); err != nil {
		return false, err
	}
	changed := l.setStatus(models.SubscriptionCanceled)
	if endedAt != nil && (l.ws.SubscriptionEndDate == nil || !l.ws.SubscriptionEndDate.Equal(endedAt.UTC())) {
		end := endedAt.UTC()
		l.ws.SubscriptionEndDate = &end
		changed = true
	}
	return changed, nil
}

func (l *Lifecycle) check(to models.SubscriptionStatus) error {
	if !CanTransition(l.ws.SubscriptionStatus, to) {
		return &TransitionError{From: l.ws.SubscriptionStatus, To: to}
	}
	return nil
}

func (l *Lifecycle) setStatus(to models.SubscriptionStatus) bool {
	if l.ws.SubscriptionStatus == to {
		return false
	}
	l.ws.SubscriptionStatus = to
	return true
}
