package statusapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"crease/internal/config"
)

// IssueToken returns the token the server should require. A configured
// status.api_token wins; otherwise a fresh random token is written to the
// token file, readable only by the owner.
func IssueToken(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("config is required")
	}
	if cfg.Status.APIToken != "" {
		return cfg.Status.APIToken, nil
	}
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	path := cfg.StatusTokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write status token: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("restrict status token: %w", err)
	}
	return token, nil
}

// LoadToken returns the token a client should present: the configured one,
// or the one the running daemon issued. Empty when neither exists.
func LoadToken(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if cfg.Status.APIToken != "" {
		return cfg.Status.APIToken
	}
	data, err := os.ReadFile(cfg.StatusTokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// NewClientFromConfig builds a client for the configured bind address that
// authenticates with LoadToken.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	client, err := NewClient(cfg.Status.APIBind)
	if err != nil {
		return nil, err
	}
	return client.WithToken(LoadToken(cfg)), nil
}

// RequireToken makes every route demand "Authorization: Bearer <token>".
// It must be called before Start. An empty token leaves the API open.
func (s *Server) RequireToken(token string) {
	if s == nil {
		return
	}
	s.token = strings.TrimSpace(token)
}

// authMiddleware rejects requests without the server's bearer token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
