package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"crease/internal/analysis"
	"crease/internal/logging"
	"crease/internal/services"
)

// ErrNotLoggedIn is returned when an operation needs a stored session.
var ErrNotLoggedIn = errors.New("not logged in")

// Manager keeps an analysis client and the stored session in step.
type Manager struct {
	client *analysis.Client
	store  *FileStore
	logger *slog.Logger

	mu      sync.Mutex
	current State
}

// NewManager builds a Manager.
func NewManager(client *analysis.Client, store *FileStore, logger *slog.Logger) *Manager {
	return &Manager{
		client: client,
		store:  store,
		logger: logging.NewComponentLogger(logger, "session"),
	}
}

// Restore loads the stored session and attaches its token to the client.
// It reports whether a session was found. An unreadable session is cleared.
func (m *Manager) Restore() (bool, error) {
	state, err := m.store.Load()
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			logging.WarnWithContext(m.logger, "stored session unreadable; clearing", "session_corrupt",
				logging.Error(err),
				logging.String(logging.FieldImpact, "you will need to log in again"),
				logging.String(logging.FieldErrorHint, "run crease login"),
			)
			_ = m.store.Clear()
			return false, nil
		}
		return false, err
	}
	if state.Empty() {
		return false, nil
	}
	m.mu.Lock()
	m.current = state
	m.mu.Unlock()
	m.client.SetToken(state.Token)
	return true, nil
}

// Current returns the active session.
func (m *Manager) Current() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, !m.current.Empty()
}

// Login authenticates and persists the issued token.
func (m *Manager) Login(ctx context.Context, creds analysis.Credentials) (*analysis.User, error) {
	resp, err := m.client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return m.remember(resp)
}

// Register creates an account and persists the issued token.
func (m *Manager) Register(ctx context.Context, reg analysis.Registration) (*analysis.User, error) {
	resp, err := m.client.Register(ctx, reg)
	if err != nil {
		return nil, err
	}
	return m.remember(resp)
}

func (m *Manager) remember(resp *analysis.AuthResponse) (*analysis.User, error) {
	state := State{Token: resp.Token, User: resp.User}
	if err := m.store.Save(state); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.mu.Lock()
	m.current = state
	m.mu.Unlock()
	m.client.SetToken(resp.Token)
	m.logger.Info("logged in",
		logging.String("username", resp.User.Username),
		logging.String(logging.FieldEventType, "session_login"),
	)
	return &resp.User, nil
}

// Verify confirms the stored token with the backend. A rejected token clears
// the stored session.
func (m *Manager) Verify(ctx context.Context) (*analysis.User, error) {
	if _, ok := m.Current(); !ok {
		return nil, ErrNotLoggedIn
	}
	user, err := m.client.VerifyToken(ctx)
	if err != nil {
		if services.KindOf(err) == services.KindUnauthorized {
			_ = m.forget()
			return nil, fmt.Errorf("%w: session expired", ErrNotLoggedIn)
		}
		return nil, err
	}
	return user, nil
}

// Logout tells the backend (best effort) and always clears the local session.
func (m *Manager) Logout(ctx context.Context) error {
	if _, ok := m.Current(); ok {
		if err := m.client.Logout(ctx); err != nil {
			logging.WarnWithContext(m.logger, "backend logout failed; clearing local session anyway", "session_logout_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the token may stay valid on the server until it expires"),
			)
		}
	}
	return m.forget()
}

// DeleteAccount deletes the account and clears the local session on success.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	if _, ok := m.Current(); !ok {
		return ErrNotLoggedIn
	}
	if err := m.client.DeleteAccount(ctx); err != nil {
		return err
	}
	return m.forget()
}

func (m *Manager) forget() error {
	m.mu.Lock()
	m.current = State{}
	m.mu.Unlock()
	m.client.SetToken("")
	return m.store.Clear()
}
