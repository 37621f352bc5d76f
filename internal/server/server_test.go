package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/trademonitor/internal/domain"
	"github.com/quantcore/trademonitor/internal/session"
	"github.com/quantcore/trademonitor/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sessions := session.NewManager(
		&noopCredStore{},
		&noopRefresher{},
		func(ctx context.Context, userID int64, creds session.Credentials) (session.StreamPair, error) {
			return &noopPair{}, nil
		}, 50, nil, zerolog.Nop())

	srv := New(Config{Port: 0, Log: zerolog.Nop(), Store: st, Sessions: sessions, DevMode: true})
	return srv, st
}

type noopCredStore struct{}

func (noopCredStore) Load(context.Context, int64) (session.Credentials, error) {
	return session.Credentials{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}
func (noopCredStore) Save(context.Context, int64, session.Credentials) error { return nil }

type noopRefresher struct{}

func (noopRefresher) Refresh(context.Context, session.Credentials) (session.Credentials, error) {
	return session.Credentials{}, nil
}

type noopPair struct{}

func (noopPair) Subscribe(context.Context, []string) error   { return nil }
func (noopPair) Unsubscribe(context.Context, []string) error { return nil }
func (noopPair) Close() error                                { return nil }

func TestHandleHealth_ReturnsHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleSystemStatus_ReportsActiveSessionCount(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession(context.Background(), 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, float64(1), body["active_sessions"])
}

func TestHandleListSessions_ReturnsSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.sessions.EnsureSession(context.Background(), 7)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, int64(7), body.Sessions[0].UserID)
}

func TestHandleListRules_FiltersByUserID(t *testing.T) {
	srv, st := newTestServer(t)
	_, err := st.CreateRule(context.Background(), store.NewRule{
		UserID: 1, Name: "r1", Enabled: true,
		TriggerType: domain.TriggerPrice, TriggerConfig: json.RawMessage(`{"condition":"lte","price":90,"reference":"ltp"}`),
		ActionType: domain.ActionCancelOrder, ActionConfig: json.RawMessage(`{"order_id":"ORD1"}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/rules?user_id=1", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/rules?user_id=2", nil)
	rec2 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec2, req2)
	var body2 map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body2))
	assert.Empty(t, body2["rules"])
}

func TestHandleListRules_RejectsNonIntegerUserID(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/rules?user_id=abc", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRuleFireLog_ReturnsLogsForRule(t *testing.T) {
	srv, st := newTestServer(t)
	rule, err := st.CreateRule(context.Background(), store.NewRule{
		UserID: 1, Name: "r1", Enabled: true,
		TriggerType: domain.TriggerPrice, TriggerConfig: json.RawMessage(`{"condition":"lte","price":90,"reference":"ltp"}`),
		ActionType: domain.ActionCancelOrder, ActionConfig: json.RawMessage(`{"order_id":"ORD1"}`),
	})
	require.NoError(t, err)
	require.NoError(t, st.IncrementFireCount(context.Background(), rule.ID, 1, time.Now(), json.RawMessage(`{}`), domain.ActionCancelOrder, domain.ActionResult{Success: true}))

	req := httptest.NewRequest(http.MethodGet, "/api/rules/"+strconv.FormatInt(rule.ID, 10)+"/fire-log", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	logs, ok := body["fire_log"].([]interface{})
	require.True(t, ok)
	assert.Len(t, logs, 1)
}

func TestHandleRuleFireLog_RejectsNonIntegerID(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/rules/not-a-number/fire-log", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
