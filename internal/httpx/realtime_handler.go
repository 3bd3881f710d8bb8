package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaxa2505/fudly-bot-sub003/internal/auth"
	"github.com/shaxa2505/fudly-bot-sub003/internal/registry"
	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
	"github.com/shaxa2505/fudly-bot-sub003/internal/token"
)

// RealtimeHandler exposes token issuance and the subscribe stream. The
// storefront's session middleware (outside this service) authenticates
// the caller and forwards the identity in X-User-Id.
type RealtimeHandler struct {
	Tokens   *token.Service
	Auth     *auth.Authorizer
	Registry *registry.Registry
	// RateGateConfigured mirrors whether the upstream limiter fronts
	// these endpoints; without it both of them deny outright.
	RateGateConfigured bool
	DefaultTTL         time.Duration
}

type IssueTokenReq struct {
	Scope      string `json:"scope"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type IssueTokenResp struct {
	Token     string    `json:"token"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *RealtimeHandler) Register(r *chi.Mux) {
	WithTimeout(r).Post("/realtime/token", h.issueToken)
	// no timeout middleware: the stream lives until drop
	r.Get("/realtime/subscribe", h.subscribe)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *RealtimeHandler) issueToken(w http.ResponseWriter, r *http.Request) {
	if !h.RateGateConfigured {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": registry.ReasonRateLimited})
		return
	}
	identity := r.Header.Get("X-User-Id")
	if identity == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": registry.ReasonUnauthorized})
		return
	}
	var req IssueTokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	sc, err := scope.Parse(req.Scope)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid scope"})
		return
	}

	// ownership is checked here AND again at admit; issuance alone
	// never grants a stream
	if d := h.Auth.Authorize(r.Context(), identity, sc); !d.Allowed() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": registry.ReasonUnauthorized})
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = h.DefaultTTL
	}
	t, err := h.Tokens.Issue(r.Context(), identity, sc, ttl)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, IssueTokenResp{Token: t.ID, Scope: sc.String(), ExpiresAt: t.ExpiresAt})
}

func (h *RealtimeHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.RateGateConfigured {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": registry.ReasonRateLimited})
		return
	}
	sc, err := scope.Parse(r.URL.Query().Get("scope"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid scope"})
		return
	}
	tokenID := r.URL.Query().Get("token")

	fl, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	connID := uuid.NewString()
	conn := newSSEConn(w, fl)
	if err := h.Registry.Admit(r.Context(), connID, conn, tokenID, sc); err != nil {
		reason := registry.ReasonUnauthorized
		var re *registry.RefusedError
		if errors.As(err, &re) {
			reason = re.Reason
		}
		writeJSON(w, statusFor(reason), map[string]string{"error": reason})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()
	conn.start()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			// transport-level disconnect; drop must run here too
			h.Registry.Drop(connID, "disconnect")
			return
		case <-conn.done:
			// registry closed us (expiry, re-auth denial, push failure)
			_, _ = fmt.Fprintf(w, "event: close\ndata: {\"reason\":%q}\n\n", conn.reason)
			fl.Flush()
			return
		case <-hb.C:
			if conn.heartbeat() != nil {
				h.Registry.Drop(connID, "disconnect")
				return
			}
		}
	}
}

func statusFor(reason string) int {
	switch reason {
	case registry.ReasonExpired:
		return http.StatusUnauthorized
	case registry.ReasonRateLimited:
		return http.StatusTooManyRequests
	case registry.ReasonUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}
