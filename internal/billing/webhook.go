package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/subscription"
	"github.com/crewdesk/backend/pkg/queue"
	"github.com/crewdesk/backend/pkg/response"
)

// MaxBodyBytes caps the webhook payload that is read and verified.
const MaxBodyBytes = int64(65536)

// Archiver queues verified payloads for long-term storage.
type Archiver interface {
	EnqueueBillingArchive(ctx context.Context, payload queue.BillingArchivePayload) error
}

// Publisher pushes status changes to connected workspace members.
type Publisher interface {
	PublishStatus(ctx context.Context, workspaceID uuid.UUID, summary subscription.Summary) error
}

// WebhookHandler receives Stripe events.
type WebhookHandler struct {
	processor *Processor
	secret    string
	archiver  Archiver
	publisher Publisher
	logger    *zap.Logger
}

// NewWebhookHandler creates a webhook handler. archiver and publisher may be nil.
func NewWebhookHandler(p *Processor, secret string, archiver Archiver, publisher Publisher, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{processor: p, secret: secret, archiver: archiver, publisher: publisher, logger: logger}
}

// Stripe handles POST /webhooks/stripe.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook read failed", zap.Error(err))
		response.BadRequest(c, "invalid payload")
		return
	}
	if h.secret == "" {
		h.logger.Error("stripe webhook secret missing")
		response.Internal(c, "webhook not configured")
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		response.BadRequest(c, "signature verification failed")
		return
	}

	ctx := c.Request.Context()
	res, err := h.processor.Process(ctx, event)
	if errors.Is(err, ErrMalformedEvent) {
		h.logger.Warn("malformed webhook event", zap.String("event_id", event.ID), zap.Error(err))
		response.BadRequest(c, "invalid event payload")
		return
	}
	if err != nil {
		h.logger.Error("webhook processing failed", zap.String("event_id", event.ID), zap.String("type", string(event.Type)), zap.Error(err))
		response.Internal(c, "failed to process event")
		return
	}

	h.afterCommit(ctx, res, body)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// afterCommit runs the side effects of a committed event. Failures are logged only; the
// event itself is already applied.
func (h *WebhookHandler) afterCommit(ctx context.Context, res *Result, body []byte) {
	if res == nil || res.Outcome == models.BillingOutcomeDuplicate {
		return
	}
	if h.archiver != nil {
		err := h.archiver.EnqueueBillingArchive(ctx, queue.BillingArchivePayload{
			EventID:    res.EventID,
			EventType:  res.Type,
			Outcome:    res.Outcome,
			ReceivedAt: time.Now().UTC(),
			Raw:        body,
		})
		if err != nil {
			h.logger.Warn("archive enqueue failed", zap.String("event_id", res.EventID), zap.Error(err))
		}
	}
	if h.publisher != nil && res.Changed() {
		summary := subscription.Summarize(res.Workspace, time.Now(), h.processor.GracePeriod())
		if err := h.publisher.PublishStatus(ctx, res.Workspace.ID, summary); err != nil {
			h.logger.Warn("status publish failed", zap.String("workspace_id", res.Workspace.ID.String()), zap.Error(err))
		}
	}
}
