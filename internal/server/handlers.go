package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/HerbHall/routerctl/internal/audit"
	"github.com/HerbHall/routerctl/internal/auth"
	"github.com/HerbHall/routerctl/internal/netstate"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// clientAddr extracts the peer IP from the request. Forwarding headers are
// never consulted; the socket address is the identity the neighbor table
// can vouch for.
func clientAddr(r *http.Request) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}

// recordAudit writes one trail entry. MAC resolution and the write itself
// are best effort; a full audit store never blocks the operation.
func (s *Server) recordAudit(r *http.Request, action, detail string) {
	e := audit.Event{Action: action, Detail: detail}
	if ip, ok := clientAddr(r); ok {
		e.ClientIP = ip.String()
		if mac, err := s.ident.ResolveMAC(ip); err == nil {
			e.ClientMAC = mac.String()
		} else {
			s.logger.Warn("client MAC resolution failed",
				zap.String("ip", ip.String()),
				zap.Error(err),
			)
		}
	}
	if err := s.audit.Record(r.Context(), e); err != nil {
		s.logger.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

// sessionID pulls the bearer token out of the Authorization header.
func sessionID(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return uuid.Nil, auth.ErrUnauthenticated
	}
	id, err := uuid.Parse(token)
	if err != nil {
		return uuid.Nil, auth.ErrUnauthenticated
	}
	return id, nil
}

// requireSession rejects requests that do not carry the active session.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err == nil {
			err = s.sessions.Validate(id)
		}
		if err != nil {
			s.metrics.authDenied.Inc()
			if errors.Is(err, auth.ErrSessionExpired) {
				Unauthorized(w, "session expired", r.URL.Path)
			} else {
				Unauthorized(w, "authentication required", r.URL.Path)
			}
			return
		}
		next(w, r)
	}
}

// writeJSON writes v as a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "malformed request body", r.URL.Path)
		return
	}

	id, err := s.sessions.SignIn(req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrIncorrectPassword):
		s.recordAudit(r, audit.ActionSignInFailed, "")
		Unauthorized(w, "incorrect password", r.URL.Path)
		return
	case errors.Is(err, auth.ErrTooManyAttempts):
		RateLimited(w, "too many sign-in attempts", r.URL.Path)
		return
	case errors.Is(err, auth.ErrSessionCooldown):
		RateLimited(w, "an operator session was created too recently", r.URL.Path)
		return
	default:
		s.logger.Error("sign-in failed", zap.Error(err))
		InternalError(w, "sign-in failed", r.URL.Path)
		return
	}

	s.recordAudit(r, audit.ActionSignIn, "")
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": id.String()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.SignOut()
	s.recordAudit(r, audit.ActionSignOut, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	authenticated := false
	if id, err := sessionID(r); err == nil {
		authenticated = s.sessions.Validate(id) == nil
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	interfaces, err := s.network.Interfaces()
	if err != nil {
		s.logger.Error("interface enumeration failed", zap.Error(err))
		InternalError(w, "interface enumeration failed", r.URL.Path)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"interfaces": interfaces})
}

func (s *Server) handleSetLinkState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"interface_name"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		BadRequest(w, "malformed request body", r.URL.Path)
		return
	}
	target, err := netstate.ParseOperState(req.State)
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	confirmed, err := s.network.SetLinkState(req.Name, target)
	if err != nil {
		s.writeNetstateError(w, r, err, "link state change failed")
		return
	}

	s.recordAudit(r, audit.ActionSetLinkState, req.Name+" -> "+confirmed.String())
	s.writeJSON(w, http.StatusOK, map[string]string{
		"interface_name": req.Name,
		"oper_state":     confirmed.String(),
	})
}

func (s *Server) handleSetWirelessMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"interface_name"`
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		BadRequest(w, "malformed request body", r.URL.Path)
		return
	}
	mode, err := netstate.ParseWirelessMode(req.Mode)
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	confirmed, err := s.network.SetWirelessMode(req.Name, mode)
	if err != nil {
		s.writeNetstateError(w, r, err, "wireless mode change failed")
		return
	}

	s.recordAudit(r, audit.ActionSetWirelessMode, req.Name+" -> "+confirmed.String())
	s.writeJSON(w, http.StatusOK, map[string]string{
		"interface_name": req.Name,
		"mode":           confirmed.String(),
	})
}

// writeNetstateError maps network-state engine errors onto problem responses.
func (s *Server) writeNetstateError(w http.ResponseWriter, r *http.Request, err error, title string) {
	switch {
	case errors.Is(err, netstate.ErrInterfaceNotFound):
		NotFound(w, err.Error(), r.URL.Path)
	case errors.Is(err, netstate.ErrInvalidTarget):
		BadRequest(w, err.Error(), r.URL.Path)
	default:
		s.logger.Error(title, zap.Error(err))
		InternalError(w, title, r.URL.Path)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = n
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		InternalError(w, "audit query failed", r.URL.Path)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
