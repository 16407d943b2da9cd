package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/civicroute/internal/ledger"
)

// createTestStore creates a new SQLite store in a temp dir for testing.
func createTestStore(t *testing.T, opts ...ledger.Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
