package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/normalize"
	"github.com/c360studio/nossacarteira/reconcile"
	"github.com/c360studio/nossacarteira/session"
	"github.com/c360studio/nossacarteira/syncstatus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator records the intents it receives and answers with err.
type fakeCoordinator struct {
	mu    sync.Mutex
	calls []string
	err   error
	gate  *confirm.Gate

	lastGoal   finance.Goal
	lastTx     finance.Transaction
	lastEdit   bool
	lastMonth  string
	lastAmount decimal.Decimal
	lastPatch  finance.UserPatch
	lastKey    finance.UserKey
	overrides  reconcile.Overrides
}

func (f *fakeCoordinator) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeCoordinator) Snapshot() reconcile.State { return reconcile.DefaultState() }

func (f *fakeCoordinator) Summary(month finance.MonthKey) finance.MonthSummary {
	f.record("summary:" + month.String())
	return finance.MonthSummary{Month: month.String()}
}

func (f *fakeCoordinator) SaveGoal(_ context.Context, goal finance.Goal) (string, error) {
	f.lastGoal = goal
	if err := f.record("save-goal"); err != nil {
		return "", err
	}
	if goal.ID == "" {
		return "new-goal", nil
	}
	return goal.ID, nil
}

func (f *fakeCoordinator) ContributeToGoal(_ context.Context, goalID string, amount decimal.Decimal) error {
	f.lastAmount = amount
	return f.record("contribute:" + goalID)
}

func (f *fakeCoordinator) DeleteGoal(goalID string) error {
	if err := f.record("delete-goal:" + goalID); err != nil {
		return err
	}
	f.gate.Request(confirm.Prompt{Title: "Excluir Meta?"}, func(context.Context) error {
		return f.record("deleted-goal:" + goalID)
	})
	return nil
}

func (f *fakeCoordinator) ToggleTransactionPaid(_ context.Context, id, month string) error {
	f.lastMonth = month
	return f.record("toggle:" + id)
}

func (f *fakeCoordinator) UpsertTransaction(_ context.Context, tx finance.Transaction, isEdit bool) (string, error) {
	f.lastTx, f.lastEdit = tx, isEdit
	if err := f.record("upsert"); err != nil {
		return "", err
	}
	if isEdit {
		return tx.ID, nil
	}
	return "doc-1", nil
}

func (f *fakeCoordinator) DeleteTransaction(id string) error {
	if err := f.record("delete-tx:" + id); err != nil {
		return err
	}
	f.gate.Request(confirm.Prompt{Title: "Excluir Lançamento?", Severity: confirm.SeverityDanger}, func(context.Context) error {
		return f.record("deleted-tx:" + id)
	})
	return nil
}

func (f *fakeCoordinator) SaveShoppingItem(_ context.Context, item finance.ShoppingItem) (string, error) {
	return "item-1", f.record("save-item:" + item.Text)
}

func (f *fakeCoordinator) ToggleShoppingItem(_ context.Context, id string) error {
	return f.record("toggle-item:" + id)
}

func (f *fakeCoordinator) DeleteShoppingItem(id string) error {
	return f.record("delete-item:" + id)
}

func (f *fakeCoordinator) UpdateUser(_ context.Context, key finance.UserKey, patch finance.UserPatch) error {
	f.lastKey, f.lastPatch = key, patch
	if !key.Valid() {
		return reconcile.ErrUnknownUser
	}
	return f.record("update-user")
}

func (f *fakeCoordinator) UpdateFamilySettings(_ context.Context, name string, threshold decimal.Decimal) error {
	return f.record("family:" + name + ":" + threshold.String())
}

func (f *fakeCoordinator) ForceFullResync(_ context.Context, overrides reconcile.Overrides) error {
	f.overrides = overrides
	return f.record("resync")
}

func (f *fakeCoordinator) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSession struct {
	mu       sync.Mutex
	state    session.State
	signouts int
}

func (s *fakeSession) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signouts++
	s.state = session.State{}
	return nil
}

type fixture struct {
	coord   *fakeCoordinator
	gate    *confirm.Gate
	tracker *syncstatus.Tracker
	sess    *fakeSession
	router  http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	gate := confirm.NewGate(nil)
	f := &fixture{
		coord:   &fakeCoordinator{gate: gate},
		gate:    gate,
		tracker: syncstatus.New(0, syncstatus.WithRegisterer(reg)),
		sess: &fakeSession{state: session.State{
			Identity: &session.Identity{UserID: "user_a", Name: "Alex", Household: "silva"},
		}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger), WithGatherer(reg)}, opts...)
	h := NewHandler(f.coord, f.tracker, f.gate, f.sess, opts...)
	h.now = func() time.Time { return time.Date(2025, time.December, 10, 12, 0, 0, 0, time.UTC) }
	f.router = h.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSessionAndState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[session.State](t, rec)
	require.NotNil(t, st.Identity)
	assert.Equal(t, "silva", st.Identity.Household)

	rec = f.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeBody[reconcile.State](t, rec)
	assert.Equal(t, finance.DefaultFamilyName, state.FamilyName)
	assert.Contains(t, rec.Body.String(), `"alertThreshold":15`, "amounts are JSON numbers")

	rec = f.do(t, http.MethodPost, "/api/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.sess.signouts)

	rec = f.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSummaryMonth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/summary?month=2025-11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"summary:2025-12", "summary:2025-11"}, f.coord.callLog())

	rec = f.do(t, http.MethodGet, "/api/summary?month=11-2025", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGoalIntents(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/goals", `{"title":"Viagem","targetAmount":5000,"currentAmount":"3200.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new-goal", decodeBody[IDResponse](t, rec).ID)
	assert.True(t, f.coord.lastGoal.CurrentAmount.Equal(decimal.RequireFromString("3200.50")))

	rec = f.do(t, http.MethodPost, "/api/goals/g1/contributions", `{"amount":-100}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.coord.lastAmount.Equal(decimal.NewFromInt(-100)))

	rec = f.do(t, http.MethodPost, "/api/goals/g1/contributions", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatedDeleteFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/transactions/t1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[ConfirmationResponse](t, rec)
	require.True(t, resp.Pending)
	assert.Equal(t, "Excluir Lançamento?", resp.Prompt.Title)

	rec = f.do(t, http.MethodGet, "/api/confirmation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[ConfirmationResponse](t, rec).Pending)

	rec = f.do(t, http.MethodPost, "/api/confirmation/confirm", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"delete-tx:t1", "deleted-tx:t1"}, f.coord.callLog())

	rec = f.do(t, http.MethodPost, "/api/confirmation/confirm", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing pending")

	rec = f.do(t, http.MethodDelete, "/api/goals/g1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/confirmation/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, f.coord.callLog(), "deleted-goal:g1")

	rec = f.do(t, http.MethodGet, "/api/confirmation", "")
	assert.False(t, decodeBody[ConfirmationResponse](t, rec).Pending)
}

func TestTransactionIntents(t *testing.T) {
	f := newFixture(t)

	body := `{"id":"ignored","title":"Mercado","amount":412.9,"category":"Mercado","date":"15/12/2025","spenderId":"user_a"}`
	rec := f.do(t, http.MethodPost, "/api/transactions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "doc-1", decodeBody[IDResponse](t, rec).ID)
	assert.False(t, f.coord.lastEdit)
	assert.Empty(t, f.coord.lastTx.ID, "create ignores a client id")

	rec = f.do(t, http.MethodPut, "/api/transactions/t9", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.coord.lastEdit)
	assert.Equal(t, "t9", f.coord.lastTx.ID, "edit uses the path id")

	rec = f.do(t, http.MethodPost, "/api/transactions/t9/toggle-paid", `{"month":"2025-12"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2025-12", f.coord.lastMonth)

	rec = f.do(t, http.MethodPost, "/api/transactions/t9/toggle-paid?month=2025-11", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2025-11", f.coord.lastMonth)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no session", reconcile.ErrNoSession, http.StatusServiceUnavailable},
		{"not found", reconcile.ErrNotFound, http.StatusNotFound},
		{"malformed date", normalize.ErrMalformedDate, http.StatusBadRequest},
		{"invalid month", reconcile.ErrInvalidMonth, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.coord.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/transactions", `{"date":"01/12/2025"}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], tt.err.Error())
		})
	}
}

func TestSettingsIntents(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/users/B", `{"name":"Jordan","income":6100.5}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, finance.UserB, f.coord.lastKey)
	require.NotNil(t, f.coord.lastPatch.Name)
	assert.Equal(t, "Jordan", *f.coord.lastPatch.Name)
	assert.Nil(t, f.coord.lastPatch.Avatar)

	rec = f.do(t, http.MethodPatch, "/api/users/C", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/family", `{"familyName":"Casa Azul","alertThreshold":25}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, f.coord.callLog(), "family:Casa Azul:25")

	rec = f.do(t, http.MethodPost, "/api/resync", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "empty body is allowed")
	assert.Nil(t, f.coord.overrides.FamilyName)

	rec = f.do(t, http.MethodPost, "/api/resync", `{"familyName":"Outra"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, f.coord.overrides.FamilyName)
	assert.Equal(t, "Outra", *f.coord.overrides.FamilyName)
}

func TestFamilyAndOptions(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/family", "")
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decodeBody[finance.FamilySettings](t, rec)
	assert.Equal(t, finance.DefaultFamilyName, settings.FamilyName)
	assert.True(t, finance.DefaultAlertThreshold.Equal(settings.AlertThreshold))

	rec = f.do(t, http.MethodGet, "/api/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	opts := decodeBody[OptionsResponse](t, rec)
	assert.Len(t, opts.Categories, len(finance.Categories))
	assert.Equal(t, finance.AvatarOptions, opts.Avatars)
	assert.Contains(t, opts.Avatars, finance.DefaultUsers().A.Avatar)

	f.sess.state = session.State{}
	rec = f.do(t, http.MethodGet, "/api/family", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShoppingIntents(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/shopping", `{"text":"Café"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "item-1", decodeBody[IDResponse](t, rec).ID)

	rec = f.do(t, http.MethodPost, "/api/shopping/item-1/toggle", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/shopping/item-1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []string{"save-item:Café", "toggle-item:item-1", "delete-item:item-1"}, f.coord.callLog())
}

func TestSyncAndMetrics(t *testing.T) {
	f := newFixture(t)

	done := f.tracker.Begin()
	rec := f.do(t, http.MethodGet, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SyncResponse{Busy: true, InFlight: 1}, decodeBody[SyncResponse](t, rec))
	done()

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nossacarteira_sync_busy")
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, r *bufio.Reader, n int) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	for len(events) < n {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func TestSyncStream(t *testing.T) {
	f := newFixture(t, WithHeartbeat(time.Hour))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sync/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	events := readEvents(t, reader, 1)
	assert.Equal(t, SSEEventIdle, events[0].name)

	done := f.tracker.Begin()
	done()

	events = readEvents(t, reader, 2)
	assert.Equal(t, SSEEventBusy, events[0].name)
	assert.Contains(t, events[0].data, `"busy":true`)
	assert.Equal(t, SSEEventIdle, events[1].name)
}

func TestSyncStreamHeartbeat(t *testing.T) {
	f := newFixture(t, WithHeartbeat(20*time.Millisecond))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sync/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, bufio.NewReader(resp.Body), 2)
	assert.Equal(t, SSEEventIdle, events[0].name)
	assert.Equal(t, SSEEventHeartbeat, events[1].name)
}
