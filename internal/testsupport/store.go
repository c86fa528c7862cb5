package testsupport

import (
	"testing"

	"crease/internal/config"
	"crease/internal/uploadstore"
)

// MustOpenStore opens an uploadstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *uploadstore.Store {
	t.Helper()

	store, err := uploadstore.Open(cfg)
	if err != nil {
		t.Fatalf("uploadstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
