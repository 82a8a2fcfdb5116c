// Package api exposes the reconciliation layer to local UI clients over
// HTTP. Reads return snapshots; writes are user intents forwarded to the
// coordinator. The sync indicator is also streamed as Server-Sent Events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/normalize"
	"github.com/c360studio/nossacarteira/reconcile"
	"github.com/c360studio/nossacarteira/session"
	"github.com/c360studio/nossacarteira/syncstatus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// maxBodySize limits request bodies.
const maxBodySize = 1 << 20 // 1 MB

// DefaultHeartbeat is the interval between SSE heartbeats.
const DefaultHeartbeat = 30 * time.Second

// Coordinator is the slice of the reconciliation layer the API drives.
type Coordinator interface {
	Snapshot() reconcile.State
	Summary(month finance.MonthKey) finance.MonthSummary

	SaveGoal(ctx context.Context, goal finance.Goal) (string, error)
	ContributeToGoal(ctx context.Context, goalID string, amount decimal.Decimal) error
	DeleteGoal(goalID string) error

	ToggleTransactionPaid(ctx context.Context, id, month string) error
	UpsertTransaction(ctx context.Context, tx finance.Transaction, isEdit bool) (string, error)
	DeleteTransaction(id string) error

	SaveShoppingItem(ctx context.Context, item finance.ShoppingItem) (string, error)
	ToggleShoppingItem(ctx context.Context, id string) error
	DeleteShoppingItem(id string) error

	UpdateUser(ctx context.Context, key finance.UserKey, patch finance.UserPatch) error
	UpdateFamilySettings(ctx context.Context, name string, threshold decimal.Decimal) error
	ForceFullResync(ctx context.Context, overrides reconcile.Overrides) error
}

// SyncStatus is the sync indicator.
type SyncStatus interface {
	Busy() bool
	InFlight() int
	OnChange(fn func(busy bool)) func()
}

// Confirmation is the destructive-intent guard.
type Confirmation interface {
	Pending() (confirm.Prompt, bool)
	Confirm(ctx context.Context) error
	Cancel()
}

// Session reports and ends the current session.
type Session interface {
	State() session.State
	SignOut(ctx context.Context) error
}

var (
	_ Coordinator  = (*reconcile.Coordinator)(nil)
	_ SyncStatus   = (*syncstatus.Tracker)(nil)
	_ Confirmation = (*confirm.Gate)(nil)
	_ Session      = (*session.Gate)(nil)
)

// Handler serves the HTTP API.
type Handler struct {
	coord     Coordinator
	status    SyncStatus
	confirm   Confirmation
	session   Session
	gatherer  prometheus.Gatherer
	heartbeat time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithGatherer sets the registry served at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		if g != nil {
			h.gatherer = g
		}
	}
}

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewHandler creates the API handler.
func NewHandler(coord Coordinator, status SyncStatus, confirmation Confirmation, sess Session, opts ...Option) *Handler {
	h := &Handler{
		coord:     coord,
		status:    status,
		confirm:   confirmation,
		session:   sess,
		gatherer:  prometheus.DefaultGatherer,
		heartbeat: DefaultHeartbeat,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.handleSession)
		r.Post("/logout", h.handleLogout)

		r.Get("/state", h.handleState)
		r.Get("/summary", h.handleSummary)
		r.Get("/options", h.handleOptions)
		r.Get("/family", h.handleFamily)
		r.Get("/sync", h.handleSync)
		r.Get("/sync/stream", h.handleSyncStream)

		// Goals
		r.Post("/goals", h.handleSaveGoal)
		r.Post("/goals/{id}/contributions", h.handleContribute)
		r.Delete("/goals/{id}", h.handleDeleteGoal)

		// Transactions
		r.Post("/transactions", h.handleCreateTransaction)
		r.Put("/transactions/{id}", h.handleEditTransaction)
		r.Post("/transactions/{id}/toggle-paid", h.handleTogglePaid)
		r.Delete("/transactions/{id}", h.handleDeleteTransaction)

		// Shopping list
		r.Post("/shopping", h.handleSaveShoppingItem)
		r.Post("/shopping/{id}/toggle", h.handleToggleShoppingItem)
		r.Delete("/shopping/{id}", h.handleDeleteShoppingItem)

		// Settings
		r.Patch("/users/{key}", h.handleUpdateUser)
		r.Put("/family", h.handleUpdateFamily)
		r.Post("/resync", h.handleResync)

		// Confirmation
		r.Get("/confirmation", h.handlePendingConfirmation)
		r.Post("/confirmation/confirm", h.handleConfirm)
		r.Post("/confirmation/cancel", h.handleCancel)
	})

	return r
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.State())
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SignOut(r.Context()); err != nil {
		h.logger.Error("Sign out failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sign out failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if !h.session.State().Ready() {
		h.writeError(w, http.StatusServiceUnavailable, reconcile.ErrNoSession.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.coord.Snapshot())
}

func (h *Handler) handleFamily(w http.ResponseWriter, r *http.Request) {
	if !h.session.State().Ready() {
		h.writeError(w, http.StatusServiceUnavailable, reconcile.ErrNoSession.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.coord.Snapshot().Settings())
}

// OptionsResponse lists the built-in choices offered by the UI forms.
type OptionsResponse struct {
	Categories []finance.Category `json:"categories"`
	Avatars    []string           `json:"avatars"`
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, OptionsResponse{
		Categories: finance.Categories,
		Avatars:    finance.AvatarOptions,
	})
}

// handleSummary handles GET /api/summary.
// Query parameters:
//   - month: YYYY-MM (default: current month)
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !h.session.State().Ready() {
		h.writeError(w, http.StatusServiceUnavailable, reconcile.ErrNoSession.Error())
		return
	}
	month := finance.MonthKeyOf(h.now())
	if param := r.URL.Query().Get("month"); param != "" {
		parsed, err := finance.ParseMonthKey(param)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid month: must be YYYY-MM")
			return
		}
		month = parsed
	}
	h.writeJSON(w, http.StatusOK, h.coord.Summary(month))
}

// SyncResponse is the response for GET /api/sync.
type SyncResponse struct {
	Busy     bool `json:"busy"`
	InFlight int  `json:"inFlight"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, SyncResponse{Busy: h.status.Busy(), InFlight: h.status.InFlight()})
}

// ConfirmationResponse is the response for GET /api/confirmation.
type ConfirmationResponse struct {
	Pending bool            `json:"pending"`
	Prompt  *confirm.Prompt `json:"prompt,omitempty"`
}

func (h *Handler) handlePendingConfirmation(w http.ResponseWriter, r *http.Request) {
	prompt, ok := h.confirm.Pending()
	resp := ConfirmationResponse{Pending: ok}
	if ok {
		resp.Prompt = &prompt
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := h.confirm.Confirm(r.Context()); err != nil {
		h.writeIntentError(w, "confirm", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.confirm.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	h.writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// statusFor maps intent errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrNoSession):
		return http.StatusServiceUnavailable
	case errors.Is(err, reconcile.ErrUnknownUser), errors.Is(err, reconcile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, normalize.ErrMalformedDate), errors.Is(err, reconcile.ErrInvalidMonth):
		return http.StatusBadRequest
	case errors.Is(err, confirm.ErrNoPrompt):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeIntentError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Intent failed", "op", op, "error", err)
	}
	h.writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
