package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionConfig_PlaceOrder(t *testing.T) {
	t.Run("market order needs no price", func(t *testing.T) {
		cfg, err := ParseActionConfig(ActionPlaceOrder, []byte(`{"symbol":"RELIANCE","transaction_type":"BUY","quantity":10,"order_type":"MARKET","product":"I"}`))
		require.NoError(t, err)
		poc := cfg.(*PlaceOrderConfig)
		assert.Equal(t, "RELIANCE", poc.Symbol)
		assert.Nil(t, poc.Price)
	})

	t.Run("limit order without price rejected", func(t *testing.T) {
		_, err := ParseActionConfig(ActionPlaceOrder, []byte(`{"symbol":"RELIANCE","transaction_type":"BUY","quantity":10,"order_type":"LIMIT","product":"I"}`))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "price", ve.Field)
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		_, err := ParseActionConfig(ActionPlaceOrder, []byte(`{"symbol":"RELIANCE","transaction_type":"BUY","quantity":0,"order_type":"MARKET","product":"I"}`))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "quantity", ve.Field)
	})

	t.Run("blank symbol rejected", func(t *testing.T) {
		_, err := ParseActionConfig(ActionPlaceOrder, []byte(`{"symbol":"","transaction_type":"BUY","quantity":1,"order_type":"MARKET","product":"I"}`))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "symbol", ve.Field)
	})

	t.Run("invalid product rejected", func(t *testing.T) {
		_, err := ParseActionConfig(ActionPlaceOrder, []byte(`{"symbol":"RELIANCE","transaction_type":"BUY","quantity":1,"order_type":"MARKET","product":"X"}`))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "product", ve.Field)
	})
}

func TestParseActionConfig_ModifyOrder(t *testing.T) {
	t.Run("requires at least price or quantity", func(t *testing.T) {
		_, err := ParseActionConfig(ActionModifyOrder, []byte(`{"order_id":"ORD1"}`))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("price-only modification is valid", func(t *testing.T) {
		cfg, err := ParseActionConfig(ActionModifyOrder, []byte(`{"order_id":"ORD1","price":101.5}`))
		require.NoError(t, err)
		moc := cfg.(*ModifyOrderConfig)
		require.NotNil(t, moc.Price)
		assert.Equal(t, 101.5, *moc.Price)
		assert.Nil(t, moc.Quantity)
	})
}

func TestParseActionConfig_CancelRule(t *testing.T) {
	t.Run("valid rule id parses", func(t *testing.T) {
		cfg, err := ParseActionConfig(ActionCancelRule, []byte(`{"rule_id":42}`))
		require.NoError(t, err)
		crc := cfg.(*CancelRuleConfig)
		assert.EqualValues(t, 42, crc.RuleID)
	})

	t.Run("zero rule id rejected", func(t *testing.T) {
		_, err := ParseActionConfig(ActionCancelRule, []byte(`{"rule_id":0}`))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestParseActionConfig_UnknownType(t *testing.T) {
	_, err := ParseActionConfig(ActionType("teleport_order"), []byte(`{}`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "action_type", ve.Field)
}
