package handlers

import (
	"net/http"
	"time"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/scheduler"
)

// StatusResponse combines session and scheduler state.
type StatusResponse struct {
	AuthState             auth.State              `json:"auth_state"`
	StateSince            time.Time               `json:"state_since"`
	AccessTokenExpiresAt  *time.Time              `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time              `json:"refresh_token_expires_at,omitempty"`
	AuthorizationPending  bool                    `json:"authorization_pending"`
	LastError             string                  `json:"last_error,omitempty"`
	SchedulerRunning      bool                    `json:"scheduler_running"`
	RefresherRunning      bool                    `json:"refresher_running"`
	NextFireTime          *time.Time              `json:"next_fire_time,omitempty"`
	Orders                []scheduler.OrderStatus `json:"orders"`
}

// HandleStatus returns the combined status as JSON.
func (h *ControlHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()
	resp := StatusResponse{
		AuthState:             st.State,
		StateSince:            st.Since,
		AccessTokenExpiresAt:  st.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: st.RefreshTokenExpiresAt,
		AuthorizationPending:  st.AuthorizationPending,
		LastError:             st.LastError,
		Orders:                []scheduler.OrderStatus{},
	}
	if h.scheduler != nil {
		sched := h.scheduler.Status()
		resp.SchedulerRunning = sched.Running
		resp.NextFireTime = sched.NextFireTime
		if sched.Orders != nil {
			resp.Orders = sched.Orders
		}
	}
	if h.refresher != nil {
		resp.RefresherRunning = h.refresher.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth reports liveness.
func (h *ControlHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"auth_state": h.session.Status().State.String(),
	})
}
