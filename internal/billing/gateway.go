package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/refund"
	stripesub "github.com/stripe/stripe-go/v79/subscription"
	"go.uber.org/zap"
)

// CheckoutRequest describes a subscription checkout for one workspace.
type CheckoutRequest struct {
	WorkspaceCode string
	Tier          string
	PriceID       string
	CustomerID    string // reused when the workspace already has one
	Email         string
	SuccessURL    string
	CancelURL     string
}

// Gateway is the outbound side of the payment processor.
type Gateway interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
	RefundLatestPayment(ctx context.Context, subscriptionID string) error
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripeGateway calls the Stripe API.
type StripeGateway struct {
	logger *zap.Logger
}

// NewStripeGateway sets the Stripe API key and returns a gateway.
func NewStripeGateway(secretKey string, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	stripe.Key = secretKey
	return &StripeGateway{logger: logger}
}

// CancelSubscription cancels immediately. Already canceled subscriptions are left alone.
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	get := &stripe.SubscriptionParams{}
	get.Context = ctx
	sub, err := stripesub.Get(subscriptionID, get)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub.Status == stripe.SubscriptionStatusCanceled || sub.Status == stripe.SubscriptionStatusIncompleteExpired {
		return nil
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := stripesub.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	g.logger.Info("stripe subscription canceled", zap.String("subscription_id", subscriptionID))
	return nil
}

// RefundLatestPayment refunds the payment behind the subscription's latest invoice.
func (g *StripeGateway) RefundLatestPayment(ctx context.Context, subscriptionID string) error {
	get := &stripe.SubscriptionParams{}
	get.Context = ctx
	get.AddExpand("latest_invoice.payment_intent")
	sub, err := stripesub.Get(subscriptionID, get)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil || sub.LatestInvoice.PaymentIntent.ID == "" {
		g.logger.Warn("no payment to refund", zap.String("subscription_id", subscriptionID))
		return nil
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(sub.LatestInvoice.PaymentIntent.ID),
		Reason:        stripe.String(string(stripe.RefundReasonFraudulent)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + subscriptionID)
	if _, err := refund.New(params); err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return nil
		}
		return fmt.Errorf("create refund: %w", err)
	}
	g.logger.Info("stripe payment refunded",
		zap.String("subscription_id", subscriptionID),
		zap.String("payment_intent", sub.LatestInvoice.PaymentIntent.ID))
	return nil
}

// CreateCheckoutSession returns the hosted checkout URL.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	meta := map[string]string{MetadataWorkspaceCode: req.WorkspaceCode, MetadataTier: req.Tier}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.WorkspaceCode),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession returns the customer portal URL.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portal.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}
