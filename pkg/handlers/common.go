// Package handlers implements the local control surface: status, login,
// authorization code submission and logout.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/scheduler"
	"saxotrader/pkg/token"
)

// DefaultExchangeTimeout bounds a code exchange started from a request.
const DefaultExchangeTimeout = 30 * time.Second

// Session is the part of the auth session the control surface drives.
type Session interface {
	Status() auth.Status
	AuthorizationURL(scope, state string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*token.TokenSet, error)
	ExchangeCode(ctx context.Context, code string) (*token.TokenSet, error)
	Logout(ctx context.Context) error
}

// Scheduler is the part of the order scheduler the control surface reads.
type Scheduler interface {
	Status() scheduler.Status
	Wake()
}

// Runner reports whether a background loop is alive.
type Runner interface {
	Running() bool
}

// ControlHandler serves the control surface.
type ControlHandler struct {
	session         Session
	scheduler       Scheduler
	refresher       Runner
	scope           string
	logger          log.FieldLogger
	exchangeTimeout time.Duration
}

// Option customizes a ControlHandler.
type Option func(*ControlHandler)

// WithLogger overrides the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(h *ControlHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithScope sets the scope requested by /login.
func WithScope(scope string) Option {
	return func(h *ControlHandler) { h.scope = scope }
}

// WithExchangeTimeout bounds code exchanges.
func WithExchangeTimeout(d time.Duration) Option {
	return func(h *ControlHandler) {
		if d > 0 {
			h.exchangeTimeout = d
		}
	}
}

// NewControlHandler wires the control surface. sched and refresher may be nil.
func NewControlHandler(session Session, sched Scheduler, refresher Runner, opts ...Option) *ControlHandler {
	h := &ControlHandler{
		session:         session,
		scheduler:       sched,
		refresher:       refresher,
		logger:          log.StandardLogger(),
		exchangeTimeout: DefaultExchangeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers every endpoint on mux.
func (h *ControlHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /login", h.HandleLogin)
	mux.HandleFunc("GET /callback", h.HandleCallback)
	mux.HandleFunc("POST /authorize", h.HandleAuthorize)
	mux.HandleFunc("POST /logout", h.HandleLogout)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns a mux with every route registered.
func (h *ControlHandler) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	h.Routes(mux)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *ControlHandler) wake() {
	if h.scheduler != nil {
		h.scheduler.Wake()
	}
}
