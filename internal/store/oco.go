package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// OCOBundleRequest is the CLI/REST producer surface's input for creating a
// one-cancels-other pair plus its companion auto-square-off rule, in a
// single transaction (spec §6).
//
// Each leg's own action_config is whatever closes the position (typically
// place_order); OCO linkage itself is carried by linked_trade_id, not by a
// cancel_rule action — disabling the sibling legs requires a store lookup
// ("find other active rules sharing this link") that a pure evaluator has
// no way to perform, so the daemon's dispatcher does it after any leg fires
// (see DisableLinkedSiblings). The standalone cancel_rule action type stays
// available for ad-hoc "rule X cancels rule Y" automation outside OCO.
type OCOBundleRequest struct {
	UserID          int64
	InstrumentToken string
	Symbol          string

	StopLoss NewRule
	Target   NewRule

	// SquareOffAction is the place_order config the 15:15 IST auto-square-off
	// leg issues if neither the stop-loss nor the target has fired by then.
	SquareOffAction json.RawMessage
}

// OCOBundle is the three rule ids CreateOCOBundle produces.
type OCOBundle struct {
	StopLossRuleID  int64
	TargetRuleID    int64
	SquareOffRuleID int64
}

// CreateOCOBundle inserts the stop-loss leg, the target leg, and a 15:15 IST
// auto-square-off rule as one transaction, then stamps all three rows with a
// shared linked_trade_id (the stop-loss leg's own id) so the dispatcher can
// find and disable siblings when any one of them fires.
func (s *Store) CreateOCOBundle(ctx context.Context, req OCOBundleRequest) (*OCOBundle, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin OCO bundle tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	insert := func(n NewRule) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO monitor_rules (user_id, name, enabled, trigger_type, trigger_config, action_type, action_config,
				instrument_token, symbol, linked_trade_id, linked_order_id, fire_count, max_fires, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			n.UserID, n.Name, n.Enabled, string(n.TriggerType), string(n.TriggerConfig), string(n.ActionType), string(n.ActionConfig),
			n.InstrumentToken, n.Symbol, n.LinkedTradeID, n.LinkedOrderID, n.MaxFires, n.ExpiresAt, now, now,
		)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	slID, err := insert(req.StopLoss)
	if err != nil {
		return nil, fmt.Errorf("insert stop-loss leg: %w", err)
	}
	tgID, err := insert(req.Target)
	if err != nil {
		return nil, fmt.Errorf("insert target leg: %w", err)
	}

	squareOff := NewRule{
		UserID:          req.UserID,
		Name:            fmt.Sprintf("%s auto square-off", req.Symbol),
		Enabled:         true,
		TriggerType:     "time",
		TriggerConfig:   json.RawMessage(`{"at":"15:15","on_days":["mon","tue","wed","thu","fri"],"market_only":true}`),
		ActionType:      "place_order",
		ActionConfig:    req.SquareOffAction,
		InstrumentToken: &req.InstrumentToken,
		Symbol:          &req.Symbol,
	}
	soID, err := insert(squareOff)
	if err != nil {
		return nil, fmt.Errorf("insert auto square-off leg: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE monitor_rules SET linked_trade_id = ? WHERE id IN (?, ?, ?)",
		slID, slID, tgID, soID,
	); err != nil {
		return nil, fmt.Errorf("link OCO bundle legs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit OCO bundle: %w", err)
	}

	return &OCOBundle{StopLossRuleID: slID, TargetRuleID: tgID, SquareOffRuleID: soID}, nil
}

// DisableLinkedSiblings disables every other enabled rule sharing the given
// linked_trade_id (OCO peer cancellation). The firing rule itself (firedID)
// is excluded since its own fire-count accounting is handled separately by
// IncrementFireCount.
func (s *Store) DisableLinkedSiblings(ctx context.Context, linkedTradeID, firedID int64) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id FROM monitor_rules WHERE linked_trade_id = ? AND id != ? AND enabled = 1",
		linkedTradeID, firedID,
	)
	if err != nil {
		return nil, fmt.Errorf("find OCO siblings for trade %d: %w", linkedTradeID, err)
	}
	defer rows.Close()

	var siblings []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan OCO sibling id: %w", err)
		}
		siblings = append(siblings, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range siblings {
		if err := s.DisableRule(ctx, id); err != nil {
			return nil, fmt.Errorf("disable OCO sibling %d: %w", id, err)
		}
	}
	return siblings, nil
}
