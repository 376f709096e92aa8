// Package testutil provides shared test helpers: a local note service and an
// in-memory fake of the remote.
package testutil

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/starford/quill/internal/backend"
	"github.com/starford/quill/internal/models"
)

// TestDB creates a temporary backend database that is automatically cleaned up.
func TestDB(t *testing.T) *backend.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "quill-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := backend.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBackend starts a local GraphQL note service and returns its endpoint.
func TestBackend(t *testing.T, apiKey string) (string, *backend.DB) {
	t.Helper()
	db := TestDB(t)
	srv := httptest.NewServer(backend.NewRouter(db, apiKey))
	t.Cleanup(srv.Close)
	return srv.URL + "/graphql", db
}

// ErrRemote is the default failure returned by a failing FakeRemote.
var ErrRemote = errors.New("remote unavailable")

// FakeRemote is an in-memory remote note service that records calls.
type FakeRemote struct {
	mu      sync.Mutex
	notes   []models.Note
	calls   []string
	listErr error
	mutErr  error
	block   chan struct{}
}

// NewFakeRemote returns a fake seeded with notes.
func NewFakeRemote(notes ...models.Note) *FakeRemote {
	return &FakeRemote{notes: notes}
}

// FailList makes ListNotes return err.
func (f *FakeRemote) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailMutations makes CreateNote and DeleteNote return err.
func (f *FakeRemote) FailMutations(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutErr = err
}

// Block holds every call until the returned function is invoked.
func (f *FakeRemote) Block() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns the operations seen so far, e.g. "create:<id>".
func (f *FakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Notes returns the fake's stored notes.
func (f *FakeRemote) Notes() []models.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Note(nil), f.notes...)
}

func (f *FakeRemote) enter(ctx context.Context, call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	block := f.block
	f.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListNotes implements the remote contract.
func (f *FakeRemote) ListNotes(ctx context.Context) ([]models.Note, error) {
	if err := f.enter(ctx, "list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Note{}, f.notes...), nil
}

// CreateNote implements the remote contract.
func (f *FakeRemote) CreateNote(ctx context.Context, n models.Note) error {
	if err := f.enter(ctx, "create:"+n.ID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return f.mutErr
	}
	f.notes = append(f.notes, n)
	return nil
}

// DeleteNote implements the remote contract.
func (f *FakeRemote) DeleteNote(ctx context.Context, id string) error {
	if err := f.enter(ctx, "delete:"+id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return f.mutErr
	}
	for i, n := range f.notes {
		if n.ID == id {
			f.notes = append(f.notes[:i], f.notes[i+1:]...)
			return nil
		}
	}
	return nil
}
