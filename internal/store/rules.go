package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantcore/trademonitor/internal/domain"
)

// ruleRow mirrors the monitor_rules columns in scannable form.
type ruleRow struct {
	id              int64
	userID          int64
	name            string
	enabled         bool
	triggerType     string
	triggerConfig   string
	actionType      string
	actionConfig    string
	instrumentToken sql.NullString
	symbol          sql.NullString
	linkedTradeID   sql.NullInt64
	linkedOrderID   sql.NullString
	fireCount       int
	maxFires        sql.NullInt64
	expiresAt       sql.NullTime
	firedAt         sql.NullTime
	createdAt       time.Time
	updatedAt       time.Time
}

func (r *ruleRow) toDomain() (*domain.Rule, error) {
	trigger, err := domain.ParseTriggerConfig(domain.TriggerType(r.triggerType), json.RawMessage(r.triggerConfig))
	if err != nil {
		return nil, fmt.Errorf("rule %d: trigger config: %w", r.id, err)
	}
	action, err := domain.ParseActionConfig(domain.ActionType(r.actionType), json.RawMessage(r.actionConfig))
	if err != nil {
		return nil, fmt.Errorf("rule %d: action config: %w", r.id, err)
	}

	rule := &domain.Rule{
		ID:            r.id,
		UserID:        r.userID,
		Name:          r.name,
		Enabled:       r.enabled,
		TriggerType:   domain.TriggerType(r.triggerType),
		TriggerConfig: trigger,
		ActionType:    domain.ActionType(r.actionType),
		ActionConfig:  action,
		FireCount:     r.fireCount,
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
	}
	if r.instrumentToken.Valid {
		rule.InstrumentToken = &r.instrumentToken.String
	}
	if r.symbol.Valid {
		rule.Symbol = &r.symbol.String
	}
	if r.linkedTradeID.Valid {
		rule.LinkedTradeID = &r.linkedTradeID.Int64
	}
	if r.linkedOrderID.Valid {
		rule.LinkedOrderID = &r.linkedOrderID.String
	}
	if r.maxFires.Valid {
		n := int(r.maxFires.Int64)
		rule.MaxFires = &n
	}
	if r.expiresAt.Valid {
		rule.ExpiresAt = &r.expiresAt.Time
	}
	if r.firedAt.Valid {
		rule.FiredAt = &r.firedAt.Time
	}
	return rule, nil
}

const ruleColumns = `id, user_id, name, enabled, trigger_type, trigger_config, action_type, action_config,
	instrument_token, symbol, linked_trade_id, linked_order_id, fire_count, max_fires,
	expires_at, fired_at, created_at, updated_at`

func scanRuleRow(scan func(...interface{}) error) (*ruleRow, error) {
	var row ruleRow
	err := scan(
		&row.id, &row.userID, &row.name, &row.enabled, &row.triggerType, &row.triggerConfig,
		&row.actionType, &row.actionConfig, &row.instrumentToken, &row.symbol,
		&row.linkedTradeID, &row.linkedOrderID, &row.fireCount, &row.maxFires,
		&row.expiresAt, &row.firedAt, &row.createdAt, &row.updatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// NewRule is the caller-supplied fields for CreateRule; ID/fire counters/
// timestamps are assigned by the store.
type NewRule struct {
	UserID          int64
	Name            string
	Enabled         bool
	TriggerType     domain.TriggerType
	TriggerConfig   json.RawMessage
	ActionType      domain.ActionType
	ActionConfig    json.RawMessage
	InstrumentToken *string
	Symbol          *string
	LinkedTradeID   *int64
	LinkedOrderID   *string
	MaxFires        *int
	ExpiresAt       *time.Time
}

// CreateRule validates the trigger/action config and inserts a new rule row,
// rejecting at write time on a ValidationError (spec §3).
func (s *Store) CreateRule(ctx context.Context, n NewRule) (*domain.Rule, error) {
	if _, err := domain.ParseTriggerConfig(n.TriggerType, n.TriggerConfig); err != nil {
		return nil, err
	}
	if _, err := domain.ParseActionConfig(n.ActionType, n.ActionConfig); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO monitor_rules (user_id, name, enabled, trigger_type, trigger_config, action_type, action_config,
			instrument_token, symbol, linked_trade_id, linked_order_id, fire_count, max_fires, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		n.UserID, n.Name, n.Enabled, string(n.TriggerType), string(n.TriggerConfig), string(n.ActionType), string(n.ActionConfig),
		n.InstrumentToken, n.Symbol, n.LinkedTradeID, n.LinkedOrderID, n.MaxFires, n.ExpiresAt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return s.GetRule(ctx, id)
}

// GetRule fetches a single rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (*domain.Rule, error) {
	row, err := scanRuleRow(s.conn.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM monitor_rules WHERE id = ?", id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rule %d: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return row.toDomain()
}

// RulePatch carries the subset of fields UpdateRule may change; nil means
// leave unchanged.
type RulePatch struct {
	Name          *string
	Enabled       *bool
	TriggerConfig json.RawMessage
	ActionConfig  json.RawMessage
	MaxFires      *int
	ExpiresAt     *time.Time
}

// UpdateRule applies a partial update, re-validating any replaced config
// against the rule's existing trigger/action type.
func (s *Store) UpdateRule(ctx context.Context, id int64, patch RulePatch) (*domain.Rule, error) {
	existing, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	name := existing.Name
	if patch.Name != nil {
		name = *patch.Name
	}
	enabled := existing.Enabled
	if patch.Enabled != nil {
		enabled = *patch.Enabled
	}
	triggerConfig, err := currentJSON(existing.TriggerConfig)
	if err != nil {
		return nil, err
	}
	if patch.TriggerConfig != nil {
		if _, err := domain.ParseTriggerConfig(existing.TriggerType, patch.TriggerConfig); err != nil {
			return nil, err
		}
		triggerConfig = patch.TriggerConfig
	}
	actionConfig, err := currentJSON(existing.ActionConfig)
	if err != nil {
		return nil, err
	}
	if patch.ActionConfig != nil {
		if _, err := domain.ParseActionConfig(existing.ActionType, patch.ActionConfig); err != nil {
			return nil, err
		}
		actionConfig = patch.ActionConfig
	}
	maxFires := existing.MaxFires
	if patch.MaxFires != nil {
		maxFires = patch.MaxFires
	}
	expiresAt := existing.ExpiresAt
	if patch.ExpiresAt != nil {
		expiresAt = patch.ExpiresAt
	}

	_, err = s.conn.ExecContext(ctx, `
		UPDATE monitor_rules SET name = ?, enabled = ?, trigger_config = ?, action_config = ?,
			max_fires = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		name, enabled, string(triggerConfig), string(actionConfig), maxFires, expiresAt, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update rule %d: %w", id, err)
	}
	return s.GetRule(ctx, id)
}

func currentJSON(cfg interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("re-marshal existing config: %w", err)
	}
	return b, nil
}

// DisableRule flips enabled=false, used both for manual disable and OCO
// peer cancellation.
func (s *Store) DisableRule(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE monitor_rules SET enabled = 0, updated_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("disable rule %d: %w", id, err)
	}
	return nil
}

// DeleteRule permanently removes a rule row.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM monitor_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return nil
}

// ListActiveRules returns every enabled, non-expired, non-exhausted rule,
// optionally scoped to a single user (userID <= 0 means all users).
func (s *Store) ListActiveRules(ctx context.Context, userID int64) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM monitor_rules
		WHERE enabled = 1 AND (expires_at IS NULL OR expires_at > ?) AND (max_fires IS NULL OR fire_count < max_fires)`
	args := []interface{}{time.Now().UTC()}
	if userID > 0 {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		row, err := scanRuleRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list active rules: %w", err)
		}
		rule, err := row.toDomain()
		if err != nil {
			s.log.Warn().Err(err).Int64("rule_id", row.id).Msg("skipping rule with unparseable config")
			continue
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// PollChanges returns every rule updated after since, for the daemon's
// reload-without-IPC path.
func (s *Store) PollChanges(ctx context.Context, since time.Time) ([]*domain.Rule, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT "+ruleColumns+" FROM monitor_rules WHERE updated_at > ?", since)
	if err != nil {
		return nil, fmt.Errorf("poll changes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		row, err := scanRuleRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("poll changes: %w", err)
		}
		rule, err := row.toDomain()
		if err != nil {
			s.log.Warn().Err(err).Int64("rule_id", row.id).Msg("skipping rule with unparseable config")
			continue
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// UpdateTriggerConfig persists a trailing-stop high-water-mark move (or any
// other evaluator-proposed trigger_config update) without touching the rest
// of the rule row.
func (s *Store) UpdateTriggerConfig(ctx context.Context, id int64, cfg domain.TriggerConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal trigger config update for rule %d: %w", id, err)
	}
	_, err = s.conn.ExecContext(ctx, "UPDATE monitor_rules SET trigger_config = ?, updated_at = ? WHERE id = ?",
		string(b), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update trigger config for rule %d: %w", id, err)
	}
	return nil
}

// IncrementFireCount applies fire-count accounting transactionally: bump
// fire_count, stamp fired_at, write the FireLog row, and auto-disable once
// the new count reaches max_fires. All in one transaction so a crash between
// steps can never leave an incremented count without its audit row, or vice
// versa (spec §4.7's idempotency requirement).
func (s *Store) IncrementFireCount(ctx context.Context, ruleID, userID int64, firedAt time.Time, triggerSnapshot json.RawMessage, actionTaken domain.ActionType, result domain.ActionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal action result for rule %d: %w", ruleID, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fire-count tx for rule %d: %w", ruleID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO monitor_logs (user_id, rule_id, trigger_snapshot, action_taken, action_result, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		userID, ruleID, string(triggerSnapshot), string(actionTaken), string(resultJSON), firedAt,
	); err != nil {
		return fmt.Errorf("insert fire log for rule %d: %w", ruleID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE monitor_rules SET fire_count = fire_count + 1, fired_at = ?, updated_at = ? WHERE id = ?",
		firedAt, firedAt, ruleID,
	); err != nil {
		return fmt.Errorf("increment fire count for rule %d: %w", ruleID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE monitor_rules SET enabled = 0 WHERE id = ? AND max_fires IS NOT NULL AND fire_count >= max_fires",
		ruleID,
	); err != nil {
		return fmt.Errorf("auto-disable exhausted rule %d: %w", ruleID, err)
	}

	return tx.Commit()
}

// ListFireLogs returns the audit trail for a single rule, newest first.
func (s *Store) ListFireLogs(ctx context.Context, ruleID int64, limit int) ([]domain.FireLog, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, user_id, rule_id, trigger_snapshot, action_taken, action_result, created_at FROM monitor_logs WHERE rule_id = ? ORDER BY created_at DESC LIMIT ?",
		ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list fire logs for rule %d: %w", ruleID, err)
	}
	defer rows.Close()

	var out []domain.FireLog
	for rows.Next() {
		var (
			l                       domain.FireLog
			triggerSnapshot, result string
			actionTaken             string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.RuleID, &triggerSnapshot, &actionTaken, &result, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fire log: %w", err)
		}
		l.TriggerSnapshot = json.RawMessage(triggerSnapshot)
		l.ActionTaken = domain.ActionType(actionTaken)
		l.ActionResult = json.RawMessage(result)
		out = append(out, l)
	}
	return out, rows.Err()
}

// PurgeFireLogsBefore deletes fire-log rows older than cutoff, returning the
// number of rows removed. Run periodically by the maintenance scheduler to
// bound the audit table's growth; monitor_rules rows are never purged this
// way since fire_count/enabled accounting depends on them indefinitely.
func (s *Store) PurgeFireLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM monitor_logs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge fire logs before %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
