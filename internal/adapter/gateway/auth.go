package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated API client.
type ClientInfo struct {
	Name string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against the configured token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from the gateway tokens.
func NewStaticTokenAuth(tokens []config.GatewayToken) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name},
		})
	}
	return a
}

// Open reports whether no tokens are configured, in which case every
// request is accepted.
func (s *StaticTokenAuth) Open() bool { return len(s.entries) == 0 }

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if s.Open() {
		return &ClientInfo{Name: "anonymous"}, nil
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.NewDomainError("Gateway.Authenticate", domain.ErrAuthInvalid, "")
}

// requestToken reads a bearer token from the Authorization header, falling
// back to the "token" query parameter for WebSocket clients.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// requireAuth rejects requests without a valid token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.Authenticate(requestToken(r)); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
