package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/subscription"
	"github.com/crewdesk/backend/pkg/metrics"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	MetadataWorkspaceCode = "workspace_code"
	MetadataTier          = "tier"
)

// Config holds processor settings.
type Config struct {
	// Prices maps a purchasable tier to its processor price id.
	Prices      map[models.SubscriptionTier]string
	GracePeriod time.Duration
}

// Result describes how one event was handled.
type Result struct {
	EventID   string
	Type      string
	Outcome   string
	Workspace *models.Workspace
}

// Changed reports whether the event mutated a workspace.
func (r *Result) Changed() bool {
	return r != nil && r.Outcome == models.BillingOutcomeApplied && r.Workspace != nil
}

// Processor applies verified processor events to workspaces.
type Processor struct {
	store   Store
	gateway Gateway
	cfg     Config
	tiers   map[string]models.SubscriptionTier
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(store Store, gateway Gateway, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = subscription.DefaultGracePeriod
	}
	tiers := make(map[string]models.SubscriptionTier, len(cfg.Prices))
	for tier, price := range cfg.Prices {
		if price != "" {
			tiers[price] = tier
		}
	}
	return &Processor{store: store, gateway: gateway, cfg: cfg, tiers: tiers, metrics: m, logger: logger, now: time.Now}
}

// GracePeriod returns the configured past_due grace window.
func (p *Processor) GracePeriod() time.Duration { return p.cfg.GracePeriod }

// Process handles ev exactly once. Dedup, lookup and mutation share one transaction, so a
// returned error leaves nothing recorded and the processor's redelivery retries the event.
func (p *Processor) Process(ctx context.Context, ev stripe.Event) (*Result, error) {
	if ev.ID == "" || ev.Data == nil {
		return nil, ErrMalformedEvent
	}
	res := &Result{EventID: ev.ID, Type: string(ev.Type)}
	err := p.store.RunInTx(ctx, func(tx Tx) error {
		fresh, err := tx.RecordEvent(ctx, &models.BillingEvent{
			ProviderEventID: ev.ID,
			EventType:       string(ev.Type),
			ReceivedAt:      p.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		if !fresh {
			res.Outcome = models.BillingOutcomeDuplicate
			return nil
		}
		outcome, ws, err := p.dispatch(ctx, tx, ev)
		if err != nil {
			return err
		}
		res.Outcome, res.Workspace = outcome, ws
		var wsID *uuid.UUID
		if ws != nil {
			id := ws.ID
			wsID = &id
		}
		return tx.SetEventOutcome(ctx, ev.ID, wsID, outcome)
	})
	if err != nil {
		p.metrics.WebhookEvent(res.Type, "error")
		return nil, err
	}
	p.metrics.WebhookEvent(res.Type, res.Outcome)
	log := p.logger.With(zap.String("event_id", ev.ID), zap.String("type", res.Type), zap.String("outcome", res.Outcome))
	if res.Workspace != nil {
		log = log.With(zap.String("workspace_id", res.Workspace.ID.String()))
	}
	log.Info("billing event processed")
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, tx Tx, ev stripe.Event) (string, *models.Workspace, error) {
	switch ev.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := unmarshal(ev, &cs); err != nil {
			return "", nil, err
		}
		return p.checkoutCompleted(ctx, tx, &cs)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := unmarshal(ev, &sub); err != nil {
			return "", nil, err
		}
		return p.subscriptionChanged(ctx, tx, string(ev.Type), &sub)
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := unmarshal(ev, &inv); err != nil {
			return "", nil, err
		}
		return p.invoiceSettled(ctx, tx, ev.Type == "invoice.payment_failed", &inv)
	default:
		return models.BillingOutcomeIgnored, nil, nil
	}
}

func unmarshal(ev stripe.Event, v any) error {
	if err := json.Unmarshal(ev.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.Type, err)
	}
	return nil
}

// resolve finds the workspace by code first and by processor customer second.
func (p *Processor) resolve(ctx context.Context, tx Tx, code, customerID string) (*models.Workspace, error) {
	if code != "" {
		ws, err := tx.WorkspaceByCode(ctx, code)
		if err == nil {
			return ws, nil
		}
		if !errors.Is(err, ErrWorkspaceNotFound) {
			return nil, fmt.Errorf("lookup workspace by code: %w", err)
		}
	}
	if customerID != "" {
		ws, err := tx.WorkspaceByCustomer(ctx, customerID)
		if err == nil {
			return ws, nil
		}
		if !errors.Is(err, ErrWorkspaceNotFound) {
			return nil, fmt.Errorf("lookup workspace by customer: %w", err)
		}
	}
	return nil, nil
}

func (p *Processor) checkoutCompleted(ctx context.Context, tx Tx, cs *stripe.CheckoutSession) (string, *models.Workspace, error) {
	if cs.Mode != "" && cs.Mode != stripe.CheckoutSessionModeSubscription {
		return models.BillingOutcomeIgnored, nil, nil
	}
	code := cs.Metadata[MetadataWorkspaceCode]
	if code == "" {
		code = cs.ClientReferenceID
	}
	customerID := customerOf(cs.Customer)
	subID := ""
	if cs.Subscription != nil {
		subID = cs.Subscription.ID
	}

	ws, err := p.resolve(ctx, tx, code, customerID)
	if err != nil {
		return "", nil, err
	}
	if ws == nil {
		return p.reverse(ctx, subID, code, customerID)
	}

	tier := p.tierFromMetadata(cs.Metadata)
	outcome, err := p.apply(ctx, tx, ws, func(l *subscription.Lifecycle) (bool, error) {
		linked := l.LinkCustomer(customerID)
		changed, err := l.MarkActive(subID, tier, nil)
		return linked || changed, err
	})
	return outcome, ws, err
}

// reverse undoes a payment that cannot be attributed to any workspace.
func (p *Processor) reverse(ctx context.Context, subID, code, customerID string) (string, *models.Workspace, error) {
	log := p.logger.With(zap.String("subscription_id", subID), zap.String("workspace_code", code), zap.String("customer_id", customerID))
	if subID == "" {
		log.Warn("unattributed checkout without subscription")
		return models.BillingOutcomeUnmatched, nil, nil
	}
	if p.gateway == nil {
		return "", nil, errors.New("unattributed checkout: no payment gateway configured")
	}
	if err := p.gateway.CancelSubscription(ctx, subID); err != nil {
		return "", nil, fmt.Errorf("cancel unattributed subscription: %w", err)
	}
	if err := p.gateway.RefundLatestPayment(ctx, subID); err != nil {
		return "", nil, fmt.Errorf("refund unattributed subscription: %w", err)
	}
	log.Warn("unattributed checkout reversed")
	return models.BillingOutcomeReversed, nil, nil
}

func (p *Processor) subscriptionChanged(ctx context.Context, tx Tx, eventType string, sub *stripe.Subscription) (string, *models.Workspace, error) {
	ws, err := p.resolve(ctx, tx, sub.Metadata[MetadataWorkspaceCode], customerOf(sub.Customer))
	if err != nil {
		return "", nil, err
	}
	if ws == nil {
		p.logger.Warn("subscription event for unknown workspace", zap.String("subscription_id", sub.ID))
		return models.BillingOutcomeUnmatched, nil, nil
	}
	replaced := ws.HasStripeSubscription() && *ws.StripeSubscriptionID != sub.ID
	if replaced && (eventType != "customer.subscription.created" || !activeStatus(sub.Status)) {
		// A stale event for a subscription the workspace has since replaced.
		return models.BillingOutcomeIgnored, ws, nil
	}

	status := sub.Status
	if eventType == "customer.subscription.deleted" {
		status = stripe.SubscriptionStatusCanceled
	}
	customerID := customerOf(sub.Customer)
	var fn func(l *subscription.Lifecycle) (bool, error)
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		tier := p.tierFromSubscription(sub)
		periodEnd := unixTime(sub.CurrentPeriodEnd)
		fn = func(l *subscription.Lifecycle) (bool, error) {
			linked := l.LinkCustomer(customerID)
			changed, err := l.MarkActive(sub.ID, tier, periodEnd)
			return linked || changed, err
		}
	case stripe.SubscriptionStatusPastDue:
		periodEnd := unixTime(sub.CurrentPeriodEnd)
		fn = func(l *subscription.Lifecycle) (bool, error) { return l.MarkPastDue(periodEnd) }
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		endedAt := unixTime(sub.EndedAt)
		if endedAt == nil {
			endedAt = unixTime(sub.CanceledAt)
		}
		fn = func(l *subscription.Lifecycle) (bool, error) { return l.MarkCanceled(endedAt) }
	default:
		return models.BillingOutcomeIgnored, ws, nil
	}
	outcome, err := p.apply(ctx, tx, ws, fn)
	return outcome, ws, err
}

func (p *Processor) invoiceSettled(ctx context.Context, tx Tx, failed bool, inv *stripe.Invoice) (string, *models.Workspace, error) {
	subID := ""
	if inv.Subscription != nil {
		subID = inv.Subscription.ID
	}
	if subID == "" {
		return models.BillingOutcomeIgnored, nil, nil
	}
	var meta map[string]string
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	ws, err := p.resolve(ctx, tx, meta[MetadataWorkspaceCode], customerOf(inv.Customer))
	if err != nil {
		return "", nil, err
	}
	if ws == nil {
		p.logger.Warn("invoice for unknown workspace", zap.String("invoice_id", inv.ID), zap.String("subscription_id", subID))
		return models.BillingOutcomeUnmatched, nil, nil
	}

	if failed {
		if ws.HasStripeSubscription() && *ws.StripeSubscriptionID != subID {
			return models.BillingOutcomeIgnored, ws, nil
		}
		// period_end of a renewal invoice is when the paid period ran out.
		periodEnd := unixTime(inv.PeriodEnd)
		outcome, err := p.apply(ctx, tx, ws, func(l *subscription.Lifecycle) (bool, error) {
			return l.MarkPastDue(periodEnd)
		})
		return outcome, ws, err
	}

	if ws.HasStripeSubscription() && *ws.StripeSubscriptionID != subID && ws.SubscriptionStatus != models.SubscriptionCanceled {
		// A late invoice for a subscription the workspace has since replaced.
		return models.BillingOutcomeIgnored, ws, nil
	}

	var tier models.SubscriptionTier
	var periodEnd *time.Time
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil {
				continue
			}
			if line.Price != nil && tier == "" {
				tier = p.tiers[line.Price.ID]
			}
			if line.Period != nil {
				if end := unixTime(line.Period.End); end != nil && (periodEnd == nil || end.After(*periodEnd)) {
					periodEnd = end
				}
			}
		}
	}
	if tier == "" {
		tier = p.tierFromMetadata(meta)
	}
	customerID := customerOf(inv.Customer)
	outcome, err := p.apply(ctx, tx, ws, func(l *subscription.Lifecycle) (bool, error) {
		linked := l.LinkCustomer(customerID)
		changed, err := l.MarkActive(subID, tier, periodEnd)
		return linked || changed, err
	})
	return outcome, ws, err
}

// apply runs fn against ws and persists the row when it changed. Invalid transitions are
// acknowledged since redelivering the same event cannot make them valid.
func (p *Processor) apply(ctx context.Context, tx Tx, ws *models.Workspace, fn func(l *subscription.Lifecycle) (bool, error)) (string, error) {
	changed, err := fn(subscription.New(ws))
	if errors.Is(err, subscription.ErrInvalidTransition) {
		p.logger.Warn("rejected subscription transition", zap.String("workspace_id", ws.ID.String()), zap.Error(err))
		return models.BillingOutcomeRejected, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return models.BillingOutcomeNoop, nil
	}
	if err := tx.SaveSubscription(ctx, ws); err != nil {
		return "", fmt.Errorf("save subscription: %w", err)
	}
	return models.BillingOutcomeApplied, nil
}

func (p *Processor) tierFromSubscription(sub *stripe.Subscription) models.SubscriptionTier {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				if tier, ok := p.tiers[item.Price.ID]; ok {
					return tier
				}
			}
		}
	}
	return p.tierFromMetadata(sub.Metadata)
}

func (p *Processor) tierFromMetadata(meta map[string]string) models.SubscriptionTier {
	tier, _ := models.ParseTier(meta[MetadataTier])
	return tier
}

// PriceFor returns the configured price id for tier.
func (p *Processor) PriceFor(tier models.SubscriptionTier) (string, bool) {
	price, ok := p.cfg.Prices[tier]
	return price, ok && price != ""
}

func activeStatus(s stripe.SubscriptionStatus) bool {
	return s == stripe.SubscriptionStatusActive || s == stripe.SubscriptionStatusTrialing
}

func customerOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
