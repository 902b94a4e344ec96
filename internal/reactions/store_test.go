package reactions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "reactions.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close() //nolint:errcheck
	})
	return store
}

func TestStoreSetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "u1", "p1", "heart"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reaction, err := store.Get(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reaction != "heart" {
		t.Fatalf("expected stored reaction, got %q", reaction)
	}

	reaction, err = store.Get(ctx, "u1", "p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reaction != "" {
		t.Fatalf("expected empty reaction for unknown post, got %q", reaction)
	}
}

func TestStoreSetOverwritesExistingChoice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "u1", "p1", "heart"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Set(ctx, "u1", "p1", "sparkle"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reaction, err := store.Get(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reaction != "sparkle" {
		t.Fatalf("expected the later choice to win, got %q", reaction)
	}
}

func TestStoreListForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "u1", "p1", "heart"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Set(ctx, "u1", "p2", "sparkle"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Set(ctx, "u2", "p1", "clap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	choices, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(choices) != 2 || choices["p1"] != "heart" || choices["p2"] != "sparkle" {
		t.Fatalf("unexpected choices: %v", choices)
	}
}

func TestStoreClearUserRemovesOnlyThatUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "u1", "p1", "heart"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Set(ctx, "u2", "p1", "clap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.ClearUser(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	choices, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(choices) != 0 {
		t.Fatalf("expected swept user to have no choices, got %v", choices)
	}

	reaction, err := store.Get(ctx, "u2", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reaction != "clap" {
		t.Fatalf("other users must be untouched, got %q", reaction)
	}
}

func TestStoreValidatesIdentifiers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "", "p1", "heart"); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if err := store.Set(ctx, "u1", " ", "heart"); !errors.Is(err, ErrMissingPostID) {
		t.Fatalf("expected ErrMissingPostID, got %v", err)
	}
	if _, err := store.Get(ctx, "", "p1"); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if _, err := store.ListForUser(ctx, ""); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if err := store.ClearUser(ctx, ""); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}
