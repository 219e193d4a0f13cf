package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the stored billing state of a workspace.
type SubscriptionStatus string

const (
	SubscriptionTrial    SubscriptionStatus = "trial"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"

	// Legacy values that may still exist on old rows; never written by this service.
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// SubscriptionTier is the purchased plan.
type SubscriptionTier string

const (
	TierTrial      SubscriptionTier = "trial"
	TierStarter    SubscriptionTier = "starter"
	TierGrowth     SubscriptionTier = "growth"
	TierEnterprise SubscriptionTier = "enterprise"
	TierCorporate  SubscriptionTier = "corporate"
)

// ParseTier returns the tier for s and whether it is a purchasable tier.
func ParseTier(s string) (SubscriptionTier, bool) {
	switch t := SubscriptionTier(s); t {
	case TierStarter, TierGrowth, TierEnterprise, TierCorporate:
		return t, true
	}
	return "", false
}

// Company sizes accepted at provisioning time.
const (
	CompanySize1To10        = "1-10"
	CompanySize11To50       = "11-50"
	CompanySize51To200      = "51-200"
	CompanySize201To500     = "201-500"
	CompanySize500Plus      = "500+"
	CompanySizeNotSpecified = "not_specified"
)

// NormalizeCompanySize maps unrecognized size categories to CompanySizeNotSpecified.
func NormalizeCompanySize(s string) string {
	switch s {
	case CompanySize1To10, CompanySize11To50, CompanySize51To200, CompanySize201To500, CompanySize500Plus:
		return s
	}
	return CompanySizeNotSpecified
}

// WorkspaceCodeLength is the fixed length of a workspace join code.
const WorkspaceCodeLength = 8

// Workspace is a tenant.
type Workspace struct {
	ID           uuid.UUID `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Country      string    `json:"country,omitempty"`
	Industry     string    `json:"industry,omitempty"`
	CompanySize  string    `json:"company_size"`
	Phone        string    `json:"phone,omitempty"`
	CompanyEmail string    `json:"company_email"`
	CreatedBy    uuid.UUID `json:"created_by"`

	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	SubscriptionTier     SubscriptionTier   `json:"subscription_tier"`
	TrialEndDate         *time.Time         `json:"trial_end_date,omitempty"`
	SubscriptionEndDate  *time.Time         `json:"subscription_end_date,omitempty"`
	StripeCustomerID     *string            `json:"-"`
	StripeSubscriptionID *string            `json:"-"`

	ProvisioningTokenHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasStripeSubscription reports whether a processor subscription is linked.
func (w *Workspace) HasStripeSubscription() bool {
	return w.StripeSubscriptionID != nil && *w.StripeSubscriptionID != ""
}

// WorkspaceSummary is the public shape returned by create/join/list endpoints.
type WorkspaceSummary struct {
	ID                 uuid.UUID          `json:"id"`
	Code               string             `json:"code"`
	Name               string             `json:"name"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	SubscriptionTier   SubscriptionTier   `json:"subscription_tier"`
	TrialEndDate       *time.Time         `json:"trial_end_date,omitempty"`
	Role               Role               `json:"role,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Summary returns the public view of w.
func (w *Workspace) Summary() WorkspaceSummary {
	return WorkspaceSummary{
		ID:                 w.ID,
		Code:               w.Code,
		Name:               w.Name,
		SubscriptionStatus: w.SubscriptionStatus,
		SubscriptionTier:   w.SubscriptionTier,
		TrialEndDate:       w.TrialEndDate,
		CreatedAt:          w.CreatedAt,
	}
}

// Company is the single business record attached to a workspace.
type Company struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Name        string    `json:"name"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
