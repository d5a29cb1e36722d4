package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/daemon"
	"github.com/gatenode-ai/gatenode/internal/version"
)

// statusResponse extends the daemon snapshot with the daemon build version
// so clients can detect mismatched installs.
type statusResponse struct {
	daemon.DaemonStatus
	Version string `json:"version"`
}

// writeDomainError maps core error types onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *config.ConfigError
	switch {
	case access.IsPermissionDenied(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case daemon.IsInvalidState(err):
		writeError(w, http.StatusConflict, err.Error())
	case daemon.IsServiceUnavailable(err), errors.Is(err, daemon.ErrDaemonClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status, err := s.handle.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{DaemonStatus: status, Version: version.String()})
}

func (s *APIServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write(s.metrics.Export())
}

func (s *APIServer) handleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status, err := s.handle.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"needs_bootstrap": status.NeedsBootstrap,
		"user_count":      status.UserCount,
	})
}

type firstUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type firstUserResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// handleBootstrapFirstUser creates the owner account and mints its first
// admin API token. The raw token value appears in this response only; the
// store keeps a digest.
func (s *APIServer) handleBootstrapFirstUser(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req firstUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name and password are required")
		return
	}

	userID, err := s.handle.CreateFirstUser(r.Context(), req.Name, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rawToken, err := generateAPIToken()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.store != nil {
		token := store.APIToken{
			ID:        uuid.NewString(),
			TokenHash: hashToken(rawToken),
			Name:      "bootstrap",
			Role:      store.TokenRoleAdmin,
			UserID:    userID,
		}
		if err := s.store.SaveToken(r.Context(), token); err != nil {
			s.logger.Printf("[APIServer] persist bootstrap token: %v", err)
			writeError(w, http.StatusInternalServerError, "user created, token issuance failed")
			return
		}
	}

	writeJSON(w, http.StatusCreated, firstUserResponse{UserID: userID, Token: rawToken})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.serveConfigGet(w, r)
	case http.MethodPut:
		s.serveConfigPut(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) serveConfigGet(w http.ResponseWriter, r *http.Request) {
	handle := s.handle.WithIdentity(identityFromContext(r.Context()))
	settings, err := handle.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *APIServer) serveConfigPut(w http.ResponseWriter, r *http.Request) {
	var settings config.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}

	handle := s.handle.WithIdentity(identityFromContext(r.Context()))
	if err := handle.UpdateConfig(r.Context(), settings); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *APIServer) handleRestart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	handle := s.handle.WithIdentity(identityFromContext(r.Context()))
	if err := handle.Restart(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

// handleShutdown answers 202 and triggers the shutdown asynchronously: the
// daemon stops this very listener, so waiting inline would deadlock behind
// the graceful drain of the current request.
func (s *APIServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	handle := s.handle.WithIdentity(identityFromContext(r.Context()))
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := handle.Shutdown(ctx)
		if err != nil {
			s.logger.Printf("[APIServer] shutdown: %v", err)
		}
		done <- err
	}()

	// A denied or invalid request is refused before any subsystem stops, so
	// its reply arrives promptly. An accepted shutdown drains this very
	// request and cannot reply until the handler returns; answer 202 then.
	select {
	case err := <-done:
		if err != nil {
			writeDomainError(w, err)
			return
		}
	case <-time.After(250 * time.Millisecond):
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "shutting_down",
		"message": "daemon shutdown initiated",
	})
}
