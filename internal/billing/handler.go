package billing

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/middleware"
	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/internal/subscription"
	"github.com/crewdesk/backend/pkg/response"
)

// Handler serves the signed-in billing endpoints.
type Handler struct {
	processor   *Processor
	gateway     Gateway
	frontendURL string
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler creates a billing handler.
func NewHandler(p *Processor, gateway Gateway, frontendURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{processor: p, gateway: gateway, frontendURL: frontendURL, logger: logger, now: time.Now}
}

// CheckoutRequestBody is the body for POST /billing/checkout.
type CheckoutRequestBody struct {
	Tier string `json:"tier" binding:"required"`
}

// Checkout handles POST /billing/checkout. Admin only.
func (h *Handler) Checkout(c *gin.Context) {
	var body CheckoutRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tier, ok := models.ParseTier(body.Tier)
	if !ok {
		response.BadRequest(c, ErrUnknownTier.Error())
		return
	}
	price, ok := h.processor.PriceFor(tier)
	if !ok {
		response.BadRequest(c, "tier not available")
		return
	}
	ws, _ := middleware.WorkspaceFromGin(c)
	req := CheckoutRequest{
		WorkspaceCode: ws.Code,
		Tier:          string(tier),
		PriceID:       price,
		SuccessURL:    h.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     h.frontendURL + "/billing/cancel",
	}
	if sess := session.FromGin(c); sess != nil {
		req.Email = sess.Email
	}
	if ws.StripeCustomerID != nil {
		req.CustomerID = *ws.StripeCustomerID
	}
	url, err := h.gateway.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("checkout session failed", zap.String("workspace_id", ws.ID.String()), zap.Error(err))
		response.Internal(c, "failed to create checkout session")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// Portal handles POST /billing/portal. Admin only.
func (h *Handler) Portal(c *gin.Context) {
	ws, _ := middleware.WorkspaceFromGin(c)
	if ws.StripeCustomerID == nil || *ws.StripeCustomerID == "" {
		response.Conflict(c, ErrNoCustomer.Error())
		return
	}
	url, err := h.gateway.CreatePortalSession(c.Request.Context(), *ws.StripeCustomerID, h.frontendURL+"/billing")
	if err != nil {
		h.logger.Error("portal session failed", zap.String("workspace_id", ws.ID.String()), zap.Error(err))
		response.Internal(c, "failed to create portal session")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// Status handles GET /billing/status.
func (h *Handler) Status(c *gin.Context) {
	ws, _ := middleware.WorkspaceFromGin(c)
	response.OK(c, subscription.Summarize(ws, h.now(), h.processor.GracePeriod()))
}

var upgradePage = template.Must(template.New("upgrade").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Subscription required</title></head>
<body>
<main>
<h1>Your subscription has ended</h1>
{{if .Name}}<p>{{.Name}} no longer has an active subscription{{if .Reason}} ({{.Reason}}){{end}}.</p>{{end}}
<p>Ask a workspace admin to choose a plan to restore access.</p>
<p><a href="{{.PlansURL}}">View plans</a></p>
</main>
</body>
</html>
`))

// Upgrade handles GET /billing/upgrade, the page expired browser sessions are redirected to.
func (h *Handler) Upgrade(c *gin.Context) {
	data := struct {
		Name, Reason, PlansURL string
	}{PlansURL: h.frontendURL + "/billing"}
	if ws, _ := middleware.WorkspaceFromGin(c); ws != nil {
		data.Name = ws.Name
		data.Reason = string(subscription.Summarize(ws, h.now(), h.processor.GracePeriod()).Status)
	}
	var buf bytes.Buffer
	if err := upgradePage.Execute(&buf, data); err != nil {
		h.logger.Error("render upgrade page", zap.Error(err))
		response.Internal(c, "failed to render page")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
