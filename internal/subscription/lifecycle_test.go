package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/backend/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.SubscriptionStatus
		want     bool
	}{
		{models.SubscriptionTrial, models.SubscriptionActive, true},
		{models.SubscriptionTrial, models.SubscriptionCanceled, true},
		{models.SubscriptionTrial, models.SubscriptionPastDue, false},
		{"", models.SubscriptionActive, true},
		{models.SubscriptionActive, models.SubscriptionPastDue, true},
		{models.SubscriptionActive, models.SubscriptionActive, true},
		{models.SubscriptionPastDue, models.SubscriptionActive, true},
		{models.SubscriptionPastDue, models.SubscriptionCanceled, true},
		{models.SubscriptionCanceled, models.SubscriptionActive, true},
		{models.SubscriptionCanceled, models.SubscriptionPastDue, false},
		{models.SubscriptionActive, models.SubscriptionTrial, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMarkActiveIsIdempotent(t *testing.T) {
	ws := &models.Workspace{SubscriptionStatus: models.SubscriptionTrial, SubscriptionTier: models.TierTrial}
	end := now.Add(30 * 24 * time.Hour)

	changed, err := New(ws).MarkActive("sub_1", models.TierGrowth, &end)
	require.NoError(t, err)
	assert.True(t, changed)
	snapshot := *ws

	changed, err = New(ws).MarkActive("sub_1", models.TierGrowth, &end)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, snapshot, *ws)
	assert.Equal(t, models.SubscriptionActive, ws.SubscriptionStatus)
	assert.Equal(t, "sub_1", *ws.StripeSubscriptionID)
}

func TestMarkActiveNeverShortensPeriod(t *testing.T) {
	later := now.Add(60 * 24 * time.Hour)
	ws := &models.Workspace{
		SubscriptionStatus:   models.SubscriptionActive,
		StripeSubscriptionID: ptrString("sub_1"),
		SubscriptionEndDate:  &later,
	}
	earlier := now.Add(30 * 24 * time.Hour)
	changed, err := New(ws).MarkActive("sub_1", "", &earlier)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, later, *ws.SubscriptionEndDate)
}

func TestMarkActiveNewSubscriptionResetsPeriod(t *testing.T) {
	later := now.Add(60 * 24 * time.Hour)
	ws := &models.Workspace{
		SubscriptionStatus:   models.SubscriptionCanceled,
		StripeSubscriptionID: ptrString("sub_old"),
		SubscriptionEndDate:  &later,
	}
	end := now.Add(30 * 24 * time.Hour)
	changed, err := New(ws).MarkActive("sub_new", models.TierStarter, &end)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "sub_new", *ws.StripeSubscriptionID)
	assert.Equal(t, end, *ws.SubscriptionEndDate)
}

func TestMarkPastDueFromTrialIsRejected(t *testing.T) {
	ws := &models.Workspace{SubscriptionStatus: models.SubscriptionTrial}
	changed, err := New(ws).MarkPastDue(nil)
	assert.False(t, changed)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.SubscriptionTrial, te.From)
	assert.Equal(t, models.SubscriptionTrial, ws.SubscriptionStatus)
}

func TestMarkPastDueKeepsKnownEndDate(t *testing.T) {
	end := now.Add(-time.Hour)
	ws := &models.Workspace{SubscriptionStatus: models.SubscriptionActive, SubscriptionEndDate: &end}
	other := now.Add(24 * time.Hour)
	changed, err := New(ws).MarkPastDue(&other)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, end, *ws.SubscriptionEndDate)

	changed, err = New(ws).MarkPastDue(&other)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMarkCanceled(t *testing.T) {
	ws := &models.Workspace{SubscriptionStatus: models.SubscriptionPastDue}
	ended := now
	changed, err := New(ws).MarkCanceled(&ended)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.SubscriptionCanceled, ws.SubscriptionStatus)

	changed, err = New(ws).MarkCanceled(&ended)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLinkCustomer(t *testing.T) {
	ws := &models.Workspace{}
	l := New(ws)
	assert.False(t, l.LinkCustomer(""))
	assert.True(t, l.LinkCustomer("cus_1"))
	assert.False(t, l.LinkCustomer("cus_1"))
	assert.Equal(t, "cus_1", *l.Workspace().StripeCustomerID)
}

func TestMarkActiveNewSubscriptionWithoutPeriodClearsStaleEnd(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := "sub_old"
	ws := &models.Workspace{
		SubscriptionStatus:   models.SubscriptionCanceled,
		StripeSubscriptionID: &sub,
		SubscriptionEndDate:  &old,
	}
	changed, err := New(ws).MarkActive("sub_new", models.TierGrowth, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, ws.SubscriptionEndDate)
	assert.Equal(t, StatusActive, Resolve(ws, time.Now()))
}
