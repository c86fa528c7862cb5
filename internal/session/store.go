package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"crease/internal/analysis"
)

const (
	secretSize = 32
	keyInfo    = "crease-session-token"
)

// ErrCorrupt indicates the stored session could not be opened.
var ErrCorrupt = errors.New("stored session is unreadable")

// State is the persisted login.
type State struct {
	Token   string
	User    analysis.User
	SavedAt time.Time
}

// Empty reports whether no login is stored.
func (s State) Empty() bool {
	return s.Token == ""
}

type fileState struct {
	InstallID   string        `json:"install_id"`
	Nonce       string        `json:"nonce"`
	SealedToken string        `json:"sealed_token"`
	User        analysis.User `json:"user"`
	SavedAt     time.Time     `json:"saved_at"`
}

// FileStore persists session state as JSON next to a per-install secret.
type FileStore struct {
	path       string
	secretPath string
}

// NewFileStore builds a FileStore writing to path. The install secret lives
// beside it as install.key.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, secretPath: filepath.Join(filepath.Dir(path), "install.key")}
}

// Path returns the session file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads session state from disk. A missing file resolves to an empty state.
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read session: %w", err)
	}

	var stored fileState
	if err := json.Unmarshal(data, &stored); err != nil {
		return State{}, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}
	if stored.SealedToken == "" {
		return State{User: stored.User, SavedAt: stored.SavedAt}, nil
	}

	secret, err := s.secret(false)
	if err != nil {
		return State{}, err
	}
	token, err := open(secret, stored)
	if err != nil {
		return State{}, err
	}
	return State{Token: token, User: stored.User, SavedAt: stored.SavedAt}, nil
}

// Save seals the token and writes the session with restricted permissions.
func (s *FileStore) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure session directory: %w", err)
	}
	secret, err := s.secret(true)
	if err != nil {
		return err
	}

	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	stored, err := seal(secret, state)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing an absent session is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *FileStore) secret(create bool) ([]byte, error) {
	data, err := os.ReadFile(s.secretPath)
	if err == nil {
		if len(data) != secretSize {
			return nil, fmt.Errorf("%w: install secret has %d bytes", ErrCorrupt, len(data))
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read install secret: %w", err)
	}
	if !create {
		return nil, fmt.Errorf("%w: install secret missing", ErrCorrupt)
	}

	secret := make([]byte, secretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generate install secret: %w", err)
	}
	if err := os.WriteFile(s.secretPath, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write install secret: %w", err)
	}
	return secret, nil
}

func deriveAEAD(secret []byte, installID string) (cipher.AEAD, error) {
	reader := hkdf.New(sha256.New, secret, []byte(installID), []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("session cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func seal(secret []byte, state State) (fileState, error) {
	stored := fileState{
		InstallID: uuid.NewString(),
		User:      state.User,
		SavedAt:   state.SavedAt,
	}
	if state.Token == "" {
		return stored, nil
	}
	aead, err := deriveAEAD(secret, stored.InstallID)
	if err != nil {
		return fileState{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fileState{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(state.Token), []byte(state.User.Username))
	stored.Nonce = base64.StdEncoding.EncodeToString(nonce)
	stored.SealedToken = base64.StdEncoding.EncodeToString(sealed)
	return stored, nil
}

func open(secret []byte, stored fileState) (string, error) {
	aead, err := deriveAEAD(secret, stored.InstallID)
	if err != nil {
		return "", err
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil || len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce", ErrCorrupt)
	}
	sealed, err := base64.StdEncoding.DecodeString(stored.SealedToken)
	if err != nil {
		return "", fmt.Errorf("%w: bad token encoding", ErrCorrupt)
	}
	plain, err := aead.Open(nil, nonce, sealed, []byte(stored.User.Username))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(plain), nil
}
