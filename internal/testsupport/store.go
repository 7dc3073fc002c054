package testsupport

import (
	"context"
	"testing"

	"bindery/internal/config"
	"bindery/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedBook inserts a catalogue entry with the given status.
func SeedBook(t testing.TB, st *store.Store, asin, title string, status store.BookStatus) {
	t.Helper()

	book := store.Book{
		ASIN:       asin,
		Title:      title,
		Author:     "Test Author",
		RuntimeMin: 60,
		Status:     status,
	}
	if _, err := st.UpsertBook(context.Background(), book); err != nil {
		t.Fatalf("store.UpsertBook: %v", err)
	}
}
