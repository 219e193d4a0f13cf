package billing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/subscription"
	"github.com/crewdesk/backend/pkg/queue"
)

var errBoom = errors.New("boom")

// fakeStore is an in-memory Store. A failed transaction restores the pre-transaction state.
type fakeStore struct {
	mu         sync.Mutex
	workspaces map[uuid.UUID]models.Workspace
	events     map[string]models.BillingEvent
	saves      int
	saveErr    error
}

func newFakeStore(ws ...*models.Workspace) *fakeStore {
	f := &fakeStore{
		workspaces: make(map[uuid.UUID]models.Workspace),
		events:     make(map[string]models.BillingEvent),
	}
	for _, w := range ws {
		f.workspaces[w.ID] = *w
	}
	return f
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wsSnap := make(map[uuid.UUID]models.Workspace, len(f.workspaces))
	for k, v := range f.workspaces {
		wsSnap[k] = v
	}
	evSnap := make(map[string]models.BillingEvent, len(f.events))
	for k, v := range f.events {
		evSnap[k] = v
	}
	saves := f.saves
	if err := fn(f); err != nil {
		f.workspaces, f.events, f.saves = wsSnap, evSnap, saves
		return err
	}
	return nil
}

func (f *fakeStore) RecordEvent(_ context.Context, ev *models.BillingEvent) (bool, error) {
	if _, ok := f.events[ev.ProviderEventID]; ok {
		return false, nil
	}
	ev.ID = uuid.New()
	f.events[ev.ProviderEventID] = *ev
	return true, nil
}

func (f *fakeStore) SetEventOutcome(_ context.Context, providerEventID string, workspaceID *uuid.UUID, outcome string) error {
	ev, ok := f.events[providerEventID]
	if !ok {
		return errors.New("event not recorded")
	}
	ev.WorkspaceID, ev.Outcome = workspaceID, outcome
	f.events[providerEventID] = ev
	return nil
}

func (f *fakeStore) WorkspaceByCode(_ context.Context, code string) (*models.Workspace, error) {
	for _, w := range f.workspaces {
		if w.Code == code {
			return &w, nil
		}
	}
	return nil, ErrWorkspaceNotFound
}

func (f *fakeStore) WorkspaceByCustomer(_ context.Context, customerID string) (*models.Workspace, error) {
	for _, w := range f.workspaces {
		if w.StripeCustomerID != nil && *w.StripeCustomerID == customerID {
			return &w, nil
		}
	}
	return nil, ErrWorkspaceNotFound
}

func (f *fakeStore) SaveSubscription(_ context.Context, ws *models.Workspace) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.workspaces[ws.ID] = *ws
	return nil
}

func (f *fakeStore) get(id uuid.UUID) models.Workspace {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workspaces[id]
}

func (f *fakeStore) event(id string) (models.BillingEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	return ev, ok
}

type fakeGateway struct {
	mu        sync.Mutex
	canceled  []string
	refunded  []string
	cancelErr error
	refundErr error
	checkouts []CheckoutRequest
	portals   []string
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, id)
	return nil
}

func (g *fakeGateway) RefundLatestPayment(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunded = append(g.refunded, id)
	return nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	return "https://checkout.example/" + req.WorkspaceCode, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.portals = append(g.portals, customerID)
	return "https://portal.example/" + customerID, nil
}

type fakeArchiver struct {
	mu       sync.Mutex
	payloads []queue.BillingArchivePayload
}

func (a *fakeArchiver) EnqueueBillingArchive(_ context.Context, p queue.BillingArchivePayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = append(a.payloads, p)
	return nil
}

type published struct {
	workspaceID uuid.UUID
	summary     subscription.Summary
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) PublishStatus(_ context.Context, id uuid.UUID, s subscription.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{workspaceID: id, summary: s})
	return nil
}

func newEvent(id, typ string, object any) stripe.Event {
	raw, err := json.Marshal(object)
	if err != nil {
		panic(err)
	}
	return stripe.Event{ID: id, Type: stripe.EventType(typ), Data: &stripe.EventData{Raw: raw}}
}

func ptrString(s string) *string { return &s }
