package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/subscription"
	"github.com/crewdesk/backend/pkg/metrics"
	"github.com/crewdesk/backend/pkg/response"
)

const (
	// WarningHeader carries a UI hint when access is granted under a degraded status.
	WarningHeader = "X-Subscription-Warning"
	// ContextSubscription is the key for the request's subscription.Summary.
	ContextSubscription = "subscription"
	// UpgradePath is where browsers of expired workspaces are sent.
	UpgradePath = "/billing/upgrade"
)

// DefaultAllowList stays reachable for expired tenants. Entries ending in "/" match as
// prefixes; the rest match exactly.
var DefaultAllowList = []string{
	"/static/",
	"/legal/",
	"/auth/",
	"/billing/",
	"/webhooks/",
	"/health",
	"/metrics",
	"/session",
	"/workspaces",
	"/workspaces/join",
	"/workspaces/select",
}

// GateConfig configures SubscriptionGate.
type GateConfig struct {
	GracePeriod time.Duration
	// FailOpen lets requests through when status cannot be evaluated; otherwise they get 503.
	FailOpen  bool
	AllowList []string
}

// SubscriptionGate enforces the resolved subscription status of the current workspace.
// Expired tenants get 402 (JSON) or a redirect to the upgrade page (browsers).
func SubscriptionGate(cfg GateConfig, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	if cfg.AllowList == nil {
		cfg.AllowList = DefaultAllowList
	}
	exact := make(map[string]bool)
	var prefixes []string
	for _, p := range cfg.AllowList {
		if strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
		} else {
			exact[p] = true
		}
	}
	allowed := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		if allowed(c.Request.URL.Path) {
			c.Next()
			return
		}
		if v, failed := c.Get(ContextWorkspaceErr); failed {
			err, _ := v.(error)
			gateFailure(c, cfg.FailOpen, err, m, logger)
			return
		}
		ws, _ := WorkspaceFromGin(c)
		if ws == nil {
			c.Next()
			return
		}
		summary, err := evaluate(ws, time.Now(), cfg.GracePeriod)
		if err != nil {
			gateFailure(c, cfg.FailOpen, err, m, logger)
			return
		}
		c.Set(ContextSubscription, summary)

		switch summary.Status {
		case subscription.StatusExpired:
			m.GateDecision("blocked")
			reject(c, summary)
			return
		case subscription.StatusPastDue:
			m.GateDecision("grace")
			c.Header(WarningHeader, string(subscription.StatusPastDue))
		case subscription.StatusTrialExpiring:
			m.GateDecision("warn")
			c.Header(WarningHeader, string(subscription.StatusTrialExpiring))
		default:
			m.GateDecision("allow")
		}
		c.Next()
	}
}

func evaluate(ws *models.Workspace, now time.Time, grace time.Duration) (s subscription.Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("evaluate subscription: %v", p)
		}
	}()
	return subscription.Summarize(ws, now, grace), nil
}

func gateFailure(c *gin.Context, failOpen bool, err error, m *metrics.Metrics, logger *zap.Logger) {
	logger.Error("subscription gate failed",
		zap.String("path", c.Request.URL.Path),
		zap.Bool("fail_open", failOpen),
		zap.Error(err))
	if failOpen {
		m.GateDecision("fail_open")
		c.Next()
		return
	}
	m.GateDecision("fail_closed")
	response.ServiceUnavailable(c, "subscription status unavailable")
	c.Abort()
}

func reject(c *gin.Context, s subscription.Summary) {
	if wantsHTML(c.Request) {
		c.Redirect(http.StatusSeeOther, UpgradePath)
		c.Abort()
		return
	}
	response.PaymentRequired(c, "subscription_expired", gin.H{
		"status": s.Status,
		"reason": expiryReason(s),
	})
	c.Abort()
}

func expiryReason(s subscription.Summary) string {
	switch s.Stored {
	case models.SubscriptionPastDue:
		return "payment_overdue"
	case models.SubscriptionCanceled, models.SubscriptionUnpaid, models.SubscriptionIncomplete:
		return "subscription_canceled"
	case models.SubscriptionActive:
		return "subscription_lapsed"
	}
	return "trial_ended"
}

// wantsHTML reports whether the client is a browser navigation rather than an API call.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}
