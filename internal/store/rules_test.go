package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/trademonitor/internal/domain"
)

func sampleRule(userID int64) NewRule {
	return NewRule{
		UserID:          userID,
		Name:            "stop loss on RELIANCE",
		Enabled:         true,
		TriggerType:     domain.TriggerPrice,
		TriggerConfig:   json.RawMessage(`{"condition":"lte","price":2400,"reference":"ltp"}`),
		ActionType:      domain.ActionPlaceOrder,
		ActionConfig:    json.RawMessage(`{"symbol":"RELIANCE","transaction_type":"SELL","quantity":10,"order_type":"MARKET","product":"I"}`),
		InstrumentToken: strPtr("256265"),
		Symbol:          strPtr("RELIANCE"),
	}
}

func strPtr(s string) *string { return &s }

func TestStore_CreateAndGetRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)
	assert.NotZero(t, rule.ID)
	assert.Equal(t, "stop loss on RELIANCE", rule.Name)
	assert.True(t, rule.Enabled)

	fetched, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.ID, fetched.ID)
	priceCfg, ok := fetched.TriggerConfig.(*domain.PriceConfig)
	require.True(t, ok)
	assert.Equal(t, 2400.0, priceCfg.Price)
}

func TestStore_CreateRule_RejectsInvalidTriggerConfig(t *testing.T) {
	s := openTestStore(t)
	n := sampleRule(1)
	n.TriggerConfig = json.RawMessage(`{"condition":"bogus","price":1,"reference":"ltp"}`)
	_, err := s.CreateRule(context.Background(), n)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_UpdateRule_PartialPatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	newName := "renamed rule"
	updated, err := s.UpdateRule(ctx, rule.ID, RulePatch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "renamed rule", updated.Name)
	// trigger config should be untouched
	priceCfg := updated.TriggerConfig.(*domain.PriceConfig)
	assert.Equal(t, 2400.0, priceCfg.Price)
}

func TestStore_UpdateRule_RejectsInvalidReplacementConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	_, err = s.UpdateRule(ctx, rule.ID, RulePatch{TriggerConfig: json.RawMessage(`{"condition":"bogus","price":1,"reference":"ltp"}`)})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_DisableRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	require.NoError(t, s.DisableRule(ctx, rule.ID))
	fetched, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, fetched.Enabled)
}

func TestStore_DeleteRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	require.NoError(t, s.DeleteRule(ctx, rule.ID))
	_, err = s.GetRule(ctx, rule.ID)
	assert.Error(t, err)
}

func TestStore_ListActiveRules_ExcludesDisabledExpiredAndExhausted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	active, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	disabled := sampleRule(1)
	disabled.Enabled = false
	_, err = s.CreateRule(ctx, disabled)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	expired := sampleRule(1)
	expired.ExpiresAt = &past
	_, err = s.CreateRule(ctx, expired)
	require.NoError(t, err)

	zero := 0
	exhausted := sampleRule(1)
	exhausted.MaxFires = &zero
	_, err = s.CreateRule(ctx, exhausted)
	require.NoError(t, err)

	rules, err := s.ListActiveRules(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, active.ID, rules[0].ID)
}

func TestStore_ListActiveRules_ScopesByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)
	_, err = s.CreateRule(ctx, sampleRule(2))
	require.NoError(t, err)

	rules, err := s.ListActiveRules(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	all, err := s.ListActiveRules(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_PollChanges_ReturnsRowsUpdatedAfterCutoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-time.Minute)

	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	changed, err := s.PollChanges(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, rule.ID, changed[0].ID)
}

func TestStore_UpdateTriggerConfig_PersistsHighWaterMark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := sampleRule(1)
	n.TriggerType = domain.TriggerTrailingStop
	n.TriggerConfig = json.RawMessage(`{"trail_percent":5,"initial_price":100,"highest_price":100,"reference":"ltp"}`)
	rule, err := s.CreateRule(ctx, n)
	require.NoError(t, err)

	update := &domain.TrailingStopConfig{TrailPercent: 5, InitialPrice: 100, HighestPrice: 120, Reference: domain.ReferenceLTP}
	require.NoError(t, s.UpdateTriggerConfig(ctx, rule.ID, update))

	fetched, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	tsc := fetched.TriggerConfig.(*domain.TrailingStopConfig)
	assert.Equal(t, 120.0, tsc.HighestPrice)
}

func TestStore_IncrementFireCount_AccountsTransactionally(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	result := domain.ActionResult{Success: true, OrderID: "ORD123"}
	firedAt := time.Now().UTC()
	require.NoError(t, s.IncrementFireCount(ctx, rule.ID, 1, firedAt, json.RawMessage(`{}`), domain.ActionPlaceOrder, result))

	fetched, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.FireCount)
	require.NotNil(t, fetched.FiredAt)

	logs, err := s.ListFireLogs(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ActionPlaceOrder, logs[0].ActionTaken)
}

func TestStore_IncrementFireCount_AutoDisablesOnExhaustion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	one := 1
	n := sampleRule(1)
	n.MaxFires = &one
	rule, err := s.CreateRule(ctx, n)
	require.NoError(t, err)

	result := domain.ActionResult{Success: true, OrderID: "ORD1"}
	require.NoError(t, s.IncrementFireCount(ctx, rule.ID, 1, time.Now().UTC(), json.RawMessage(`{}`), domain.ActionPlaceOrder, result))

	fetched, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.FireCount)
	assert.False(t, fetched.Enabled)
}

func TestStore_PurgeFireLogsBefore_RemovesOnlyOldRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule(1))
	require.NoError(t, err)

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	recent := time.Now().UTC()
	result := domain.ActionResult{Success: true}
	require.NoError(t, s.IncrementFireCount(ctx, rule.ID, 1, old, json.RawMessage(`{}`), domain.ActionPlaceOrder, result))
	require.NoError(t, s.IncrementFireCount(ctx, rule.ID, 1, recent, json.RawMessage(`{}`), domain.ActionPlaceOrder, result))

	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	n, err := s.PurgeFireLogsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	remaining, err := s.ListFireLogs(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestStore_OCOBundle_CreateAndDisableSiblingsOnFire(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := OCOBundleRequest{
		UserID:          1,
		InstrumentToken: "256265",
		Symbol:          "RELIANCE",
		StopLoss: NewRule{
			UserID:          1,
			Name:            "RELIANCE stop loss",
			Enabled:         true,
			TriggerType:     domain.TriggerPrice,
			TriggerConfig:   json.RawMessage(`{"condition":"lte","price":2400,"reference":"ltp"}`),
			ActionType:      domain.ActionPlaceOrder,
			ActionConfig:    json.RawMessage(`{"symbol":"RELIANCE","transaction_type":"SELL","quantity":10,"order_type":"MARKET","product":"I"}`),
			InstrumentToken: strPtr("256265"),
			Symbol:          strPtr("RELIANCE"),
		},
		Target: NewRule{
			UserID:          1,
			Name:            "RELIANCE target",
			Enabled:         true,
			TriggerType:     domain.TriggerPrice,
			TriggerConfig:   json.RawMessage(`{"condition":"gte","price":2600,"reference":"ltp"}`),
			ActionType:      domain.ActionPlaceOrder,
			ActionConfig:    json.RawMessage(`{"symbol":"RELIANCE","transaction_type":"SELL","quantity":10,"order_type":"MARKET","product":"I"}`),
			InstrumentToken: strPtr("256265"),
			Symbol:          strPtr("RELIANCE"),
		},
		SquareOffAction: json.RawMessage(`{"symbol":"RELIANCE","transaction_type":"SELL","quantity":10,"order_type":"MARKET","product":"I"}`),
	}

	bundle, err := s.CreateOCOBundle(ctx, req)
	require.NoError(t, err)
	assert.NotZero(t, bundle.StopLossRuleID)
	assert.NotZero(t, bundle.TargetRuleID)
	assert.NotZero(t, bundle.SquareOffRuleID)

	sl, err := s.GetRule(ctx, bundle.StopLossRuleID)
	require.NoError(t, err)
	require.NotNil(t, sl.LinkedTradeID)
	assert.Equal(t, bundle.StopLossRuleID, *sl.LinkedTradeID)

	// target fires: stop-loss and square-off should be disabled, target itself untouched here.
	disabled, err := s.DisableLinkedSiblings(ctx, *sl.LinkedTradeID, bundle.TargetRuleID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{bundle.StopLossRuleID, bundle.SquareOffRuleID}, disabled)

	slAfter, err := s.GetRule(ctx, bundle.StopLossRuleID)
	require.NoError(t, err)
	assert.False(t, slAfter.Enabled)

	targetAfter, err := s.GetRule(ctx, bundle.TargetRuleID)
	require.NoError(t, err)
	assert.True(t, targetAfter.Enabled)
}

func TestStore_Credentials_SaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, s.SaveCredentials(ctx, 1, "access-1", "refresh-1", expires))

	access, refresh, exp, err := s.LoadCredentials(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	assert.Equal(t, "refresh-1", refresh)
	assert.True(t, exp.Equal(expires))
}

func TestStore_Credentials_UpsertOverwritesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, s.SaveCredentials(ctx, 1, "access-1", "refresh-1", expires))
	require.NoError(t, s.SaveCredentials(ctx, 1, "access-2", "refresh-2", expires.Add(time.Hour)))

	access, refresh, _, err := s.LoadCredentials(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "access-2", access)
	assert.Equal(t, "refresh-2", refresh)
}

func TestStore_Credentials_MissingUserReturnsError(t *testing.T) {
	s := openTestStore(t)
	_, _, _, err := s.LoadCredentials(context.Background(), 999)
	assert.Error(t, err)
}
