package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config/store"
)

type identityContextKey struct{}

// tokenPrefix marks raw API token values so they are recognisable in
// operator configs and logs can redact them.
const tokenPrefix = "gn_"

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// generateAPIToken returns a fresh raw token value.
func generateAPIToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("server: generate token: %w", err)
	}
	return tokenPrefix + strings.ToLower(tokenEncoding.EncodeToString(buf)), nil
}

// hashToken derives the stored digest for a raw token value.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func extractAuthToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			return strings.TrimSpace(authHeader[7:])
		}
	}

	if headerToken := r.Header.Get("X-Gatenode-Token"); headerToken != "" {
		return strings.TrimSpace(headerToken)
	}

	// Browsers cannot set headers on websocket upgrades.
	if queryToken := r.URL.Query().Get("token"); queryToken != "" {
		return strings.TrimSpace(queryToken)
	}

	return ""
}

func identityFromContext(ctx context.Context) access.Identity {
	if ctx == nil {
		return access.Identity{}
	}
	if id, ok := ctx.Value(identityContextKey{}).(access.Identity); ok {
		return id
	}
	return access.Identity{}
}

// resolveToken maps a raw token to the identity of the user it was issued
// to. Unknown or malformed tokens resolve to nothing.
func (s *APIServer) resolveToken(ctx context.Context, raw string) (access.Identity, bool) {
	if s.store == nil || raw == "" {
		return access.Identity{}, false
	}
	token, err := s.store.LookupToken(ctx, hashToken(raw))
	if err != nil {
		if !store.IsNotFound(err) {
			s.logger.Printf("[APIServer] token lookup: %v", err)
		}
		return access.Identity{}, false
	}
	if token.UserID == "" {
		return access.System("api-token:"+token.ID, access.IdentityContext{NodeID: s.nodeID()}), true
	}
	return access.User(token.UserID, access.IdentityContext{NodeID: s.nodeID()}), true
}

func (s *APIServer) nodeID() string {
	if s.store == nil {
		return ""
	}
	return s.store.InstanceName()
}

// isLoopbackRequest reports whether the request arrived over the loopback
// interface. Forwarded headers are deliberately ignored.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isPublicEndpoint lists the routes reachable without credentials: status is
// harmless, and bootstrap must work before any token exists.
func isPublicEndpoint(r *http.Request) bool {
	if r == nil || r.URL == nil {
		return false
	}
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api/status", "/api/auth/bootstrap/status":
		return r.Method == http.MethodGet || r.Method == http.MethodOptions
	case "/api/auth/bootstrap/first-user":
		return r.Method == http.MethodPost || r.Method == http.MethodOptions
	}
	return false
}

// wrapWithSecurity resolves each request to an access identity before the
// handlers run. Tokens map to the issuing user; a tokenless loopback request
// maps to the owner system identity when local bypass is enabled. Everything
// else is rejected here so handlers only ever see authenticated identities.
func (s *APIServer) wrapWithSecurity(next http.Handler) http.Handler {
	corsHandler := s.wrapWithCORS(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			corsHandler.ServeHTTP(w, r)
			return
		}

		if raw := extractAuthToken(r); raw != "" {
			identity, ok := s.resolveToken(r.Context(), raw)
			if !ok {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			corsHandler.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if s.localBypass() && isLoopbackRequest(r) {
			identity := access.System("local-bridge", access.IdentityContext{
				Owner:  true,
				NodeID: s.nodeID(),
			})
			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			corsHandler.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		writeUnauthorized(w)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="gatenode"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

// wrapWithCORS adds CORS headers for the desktop bridge and configured
// origins, and answers preflight requests.
func (s *APIServer) wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type builtinOrigin struct {
	scheme  string
	host    string
	portAny bool
}

var builtinOrigins = []builtinOrigin{
	{scheme: "tauri", host: "localhost", portAny: false},
	{scheme: "https", host: "tauri.localhost", portAny: false},
	{scheme: "http", host: "localhost", portAny: true},
	{scheme: "http", host: "127.0.0.1", portAny: true},
}

func isBuiltinOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	hostname := u.Hostname()
	port := u.Port()
	for _, b := range builtinOrigins {
		if u.Scheme != b.scheme {
			continue
		}
		if hostname != b.host {
			continue
		}
		if !b.portAny && port != "" {
			continue
		}
		return true
	}
	return false
}

// originAllowed reports whether the given Origin header is acceptable.
func (s *APIServer) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err == nil && isBuiltinOrigin(parsed) {
		return true
	}

	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	for _, allowed := range s.corsOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
