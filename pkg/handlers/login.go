package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/metrics"
)

// LoginResponse is returned by /login to JSON clients.
type LoginResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// AuthorizeRequest is the JSON body accepted by /authorize.
type AuthorizeRequest struct {
	Code string `json:"code"`
}

// HandleLogin starts (or resumes) an authorization and links to the broker.
func (h *ControlHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.session.AuthorizationURL(h.scope, "")
	wantsJSON := acceptsJSON(r)

	switch {
	case errors.Is(err, auth.ErrAlreadyAuthenticated):
		if wantsJSON {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		renderPage(w, http.StatusOK, authenticatedPage())
		return
	case err != nil:
		h.logger.WithError(err).Error("failed to start authorization")
		writeError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}

	if wantsJSON {
		writeJSON(w, http.StatusOK, LoginResponse{AuthorizationURL: authURL})
		return
	}
	renderPage(w, http.StatusOK, loginPage(authURL))
}

// HandleCallback receives the broker redirect and exchanges the code.
func (h *ControlHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		metrics.RecordCallbackFailure()
		h.logger.WithFields(log.Fields{
			"error":             errParam,
			"error_description": q.Get("error_description"),
		}).Warn("authorization denied by provider")
		renderPage(w, http.StatusBadRequest, failurePage(errParam+": "+q.Get("error_description")))
		return
	}

	code := q.Get("code")
	if code == "" {
		metrics.RecordCallbackFailure()
		renderPage(w, http.StatusBadRequest, failurePage("No authorization code returned."))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.exchangeTimeout)
	defer cancel()

	if _, err := h.session.HandleCallback(ctx, code, q.Get("state")); err != nil {
		metrics.RecordCallbackFailure()
		status, msg := exchangeFailure(err)
		h.logger.WithError(err).Warn("callback rejected")
		renderPage(w, status, failurePage(msg))
		return
	}

	metrics.RecordCallbackSuccess()
	h.wake()
	renderPage(w, http.StatusOK, successPage())
}

// HandleAuthorize accepts a pasted authorization code as a form field or a
// JSON body.
func (h *ControlHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	code, isJSON, err := readCode(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if code == "" {
		metrics.RecordCallbackFailure()
		if isJSON {
			writeError(w, http.StatusBadRequest, "code is required")
		} else {
			renderPage(w, http.StatusBadRequest, failurePage("An authorization code is required."))
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.exchangeTimeout)
	defer cancel()

	if _, err := h.session.ExchangeCode(ctx, code); err != nil {
		metrics.RecordCallbackFailure()
		status, msg := exchangeFailure(err)
		h.logger.WithError(err).Warn("authorization code rejected")
		if isJSON {
			writeError(w, status, msg)
		} else {
			renderPage(w, status, failurePage(msg))
		}
		return
	}

	metrics.RecordCallbackSuccess()
	h.wake()
	if isJSON {
		writeJSON(w, http.StatusOK, h.session.Status())
		return
	}
	renderPage(w, http.StatusOK, successPage())
}

// HandleLogout discards the session tokens.
func (h *ControlHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		h.logger.WithError(err).Error("logout failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.session.Status())
}

// exchangeFailure maps a session error to a response status and a message
// safe to show to the user.
func exchangeFailure(err error) (int, string) {
	var exchangeErr *auth.ExchangeError
	switch {
	case errors.Is(err, auth.ErrStateMismatch):
		return http.StatusBadRequest, "The state parameter does not match the pending authorization."
	case errors.Is(err, auth.ErrNoAuthorizationPending):
		return http.StatusConflict, "No authorization is pending. Start again from /login."
	case errors.As(err, &exchangeErr):
		return http.StatusBadGateway, "The broker rejected the authorization code."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The token endpoint did not answer in time."
	default:
		return http.StatusInternalServerError, "The authorization code could not be exchanged."
	}
}

func readCode(w http.ResponseWriter, r *http.Request) (code string, isJSON bool, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req AuthorizeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			return "", true, errors.New("invalid JSON body")
		}
		return strings.TrimSpace(req.Code), true, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", false, errors.New("invalid form body")
	}
	return strings.TrimSpace(r.PostFormValue("code")), false, nil
}

func acceptsJSON(r *http.Request) bool {
	return r.URL.Query().Get("format") == "json" ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
