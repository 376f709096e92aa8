package notesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/state"
	"github.com/starford/quill/internal/testutil"
)

// syncBuffer is a bytes.Buffer safe for the controller's background logging.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type env struct {
	store      *state.Store
	remote     *testutil.FakeRemote
	ctrl       *Controller
	logs       *syncBuffer
	dispatched *[]string
}

func newEnv(t *testing.T, remote *testutil.FakeRemote, opts ...Option) *env {
	t.Helper()

	var mu sync.Mutex
	dispatched := []string{}
	store := state.NewStore(state.Initial(), func(a state.Action, _ state.State) {
		mu.Lock()
		dispatched = append(dispatched, a.Type())
		mu.Unlock()
	})

	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	opts = append([]Option{WithLogger(logger), WithIDGenerator(ids)}, opts...)
	ctrl := New(store, remote, Session{ClientID: "client-1"}, opts...)
	t.Cleanup(func() {
		ctrl.Wait()
		store.Close()
	})
	return &env{store: store, remote: remote, ctrl: ctrl, logs: logs, dispatched: &dispatched}
}

func noteOf(id string) models.Note {
	return models.Note{ID: id, ClientID: "other", Name: "n-" + id, Description: "d-" + id}
}

func noteIDs(notes []models.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func TestLoad_Success(t *testing.T) {
	e := newEnv(t, testutil.NewFakeRemote(noteOf("a"), noteOf("b")))
	require.Equal(t, PhaseUninitialized, e.ctrl.Phase())

	require.NoError(t, e.ctrl.Load(context.Background()))

	s := e.ctrl.State()
	require.Equal(t, []string{"a", "b"}, noteIDs(s.Notes))
	require.False(t, s.Loading)
	require.False(t, s.Error)
	require.Equal(t, PhaseReady, e.ctrl.Phase())
}

func TestLoad_FailureSetsErrorFlag(t *testing.T) {
	remote := testutil.NewFakeRemote(noteOf("a"))
	remote.FailList(testutil.ErrRemote)
	e := newEnv(t, remote)

	require.NoError(t, e.ctrl.Load(context.Background()))

	s := e.ctrl.State()
	require.False(t, s.Loading)
	require.True(t, s.Error)
	require.Empty(t, s.Notes)
	require.Equal(t, PhaseErrored, e.ctrl.Phase())
	require.Contains(t, e.logs.String(), "load notes failed")
}

func TestLoad_RunsOnce(t *testing.T) {
	remote := testutil.NewFakeRemote(noteOf("a"))
	e := newEnv(t, remote)

	require.NoError(t, e.ctrl.Load(context.Background()))
	err := e.ctrl.Load(context.Background())
	require.True(t, errors.Is(err, apperr.ErrAlreadyLoaded))
	require.Equal(t, []string{"list"}, remote.Calls())
}

func TestLoad_PhaseWhileInFlight(t *testing.T) {
	remote := testutil.NewFakeRemote(noteOf("a"))
	release := remote.Block()
	defer release()
	e := newEnv(t, remote)

	done := make(chan struct{})
	go func() {
		_ = e.ctrl.Load(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return len(remote.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, PhaseLoading, e.ctrl.Phase())
	require.True(t, e.ctrl.State().Loading)

	release()
	<-done
	require.Equal(t, PhaseReady, e.ctrl.Phase())
}

func TestErroredStillAcceptsMutations(t *testing.T) {
	remote := testutil.NewFakeRemote()
	remote.FailList(testutil.ErrRemote)
	e := newEnv(t, remote)
	require.NoError(t, e.ctrl.Load(context.Background()))

	e.ctrl.ChangeInput(models.FieldName, "A")
	e.ctrl.ChangeInput(models.FieldDescription, "B")
	_, v := e.ctrl.Create(context.Background())
	require.True(t, v.OK())

	s := e.ctrl.State()
	require.True(t, s.Error)
	require.Len(t, s.Notes, 1)
}

func TestChangeInput_Sparse(t *testing.T) {
	e := newEnv(t, testutil.NewFakeRemote())

	e.ctrl.ChangeInput(models.FieldName, "keep")
	e.ctrl.ChangeInput(models.FieldDescription, "x")

	require.Equal(t, models.Form{Name: "keep", Description: "x"}, e.ctrl.State().Form)
}

func TestCreate_InvalidDoesNothing(t *testing.T) {
	remote := testutil.NewFakeRemote()
	e := newEnv(t, remote)
	e.ctrl.ChangeInput(models.FieldDescription, "x")
	before := len(*e.dispatched)

	n, v := e.ctrl.Create(context.Background())

	require.False(t, v.OK())
	require.Equal(t, []string{models.FieldName}, v.Fields())
	require.Equal(t, models.Note{}, n)
	e.ctrl.Wait()
	require.Empty(t, e.store.State().Notes)
	require.Equal(t, "x", e.store.State().Form.Description)
	require.Empty(t, remote.Calls())
	require.Len(t, *e.dispatched, before)
}

func TestCreate_Optimistic(t *testing.T) {
	remote := testutil.NewFakeRemote()
	e := newEnv(t, remote)
	require.NoError(t, e.ctrl.Load(context.Background()))

	release := remote.Block()
	defer release()
	e.ctrl.ChangeInput(models.FieldName, "A")
	e.ctrl.ChangeInput(models.FieldDescription, "B")

	n, v := e.ctrl.Create(context.Background())
	require.True(t, v.OK())

	want := models.Note{ID: "id-1", ClientID: "client-1", Name: "A", Description: "B", Completed: false}
	require.Equal(t, want, n)

	// Local state reflects the note before the remote call resolves.
	s := e.ctrl.State()
	require.Equal(t, []models.Note{want}, s.Notes)
	require.Equal(t, models.Form{}, s.Form)
	require.Equal(t, 1, e.ctrl.Inflight())

	release()
	e.ctrl.Wait()
	require.Equal(t, 0, e.ctrl.Inflight())
	require.Equal(t, []models.Note{want}, remote.Notes())
}

func TestCreate_DispatchOrder(t *testing.T) {
	e := newEnv(t, testutil.NewFakeRemote())
	e.ctrl.ChangeInput(models.FieldName, "A")
	e.ctrl.ChangeInput(models.FieldDescription, "B")
	_, _ = e.ctrl.Create(context.Background())
	e.ctrl.Wait()
	e.store.Close()

	require.Equal(t, []string{"SET_INPUT", "SET_INPUT", "ADD_NOTE", "RESET_FORM"}, *e.dispatched)
}

func TestCreate_FailureKeepsLocalNote(t *testing.T) {
	remote := testutil.NewFakeRemote()
	remote.FailMutations(testutil.ErrRemote)
	e := newEnv(t, remote)

	e.ctrl.ChangeInput(models.FieldName, "A")
	e.ctrl.ChangeInput(models.FieldDescription, "B")
	n, _ := e.ctrl.Create(context.Background())
	e.ctrl.Wait()

	require.Equal(t, []string{n.ID}, noteIDs(e.ctrl.State().Notes))
	require.Empty(t, remote.Notes())
	require.Contains(t, e.logs.String(), "create note failed")
}

func TestCreate_UsesSessionClientID(t *testing.T) {
	e := newEnv(t, testutil.NewFakeRemote())
	for i := 0; i < 3; i++ {
		e.ctrl.ChangeInput(models.FieldName, "A")
		e.ctrl.ChangeInput(models.FieldDescription, "B")
		_, _ = e.ctrl.Create(context.Background())
	}
	e.ctrl.Wait()

	seen := map[string]bool{}
	for _, n := range e.ctrl.State().Notes {
		require.Equal(t, "client-1", n.ClientID)
		require.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
}

func TestDelete_Present(t *testing.T) {
	remote := testutil.NewFakeRemote(noteOf("a"), noteOf("b"), noteOf("c"))
	e := newEnv(t, remote)
	require.NoError(t, e.ctrl.Load(context.Background()))

	e.ctrl.Delete(context.Background(), "b")
	require.Equal(t, []string{"a", "c"}, noteIDs(e.ctrl.State().Notes))

	e.ctrl.Wait()
	require.Equal(t, []string{"a", "c"}, noteIDs(remote.Notes()))
	require.Contains(t, remote.Calls(), "delete:b")
}

func TestDelete_AbsentLeavesNotes(t *testing.T) {
	remote := testutil.NewFakeRemote(noteOf("a"), noteOf("b"))
	e := newEnv(t, remote)
	require.NoError(t, e.ctrl.Load(context.Background()))
	before := len(*e.dispatched)

	e.ctrl.Delete(context.Background(), "zzz")
	e.ctrl.Wait()

	require.Equal(t, []string{"a", "b"}, noteIDs(e.ctrl.State().Notes))
	require.Len(t, *e.dispatched, before)
	require.Contains(t, remote.Calls(), "delete:zzz")
}

func TestDelete_FailureDoesNotReinsert(t *testing.T) {
	remote := testutil.NewFakeRemote(noteOf("a"))
	e := newEnv(t, remote)
	require.NoError(t, e.ctrl.Load(context.Background()))
	remote.FailMutations(testutil.ErrRemote)

	e.ctrl.Delete(context.Background(), "a")
	e.ctrl.Wait()

	require.Empty(t, e.ctrl.State().Notes)
	require.Contains(t, e.logs.String(), "delete note failed")
}

func TestDeleteAndCreate_Concurrent(t *testing.T) {
	const count = 50
	seed := make([]models.Note, count)
	for i := range seed {
		seed[i] = noteOf(fmt.Sprintf("s%d", i))
	}
	remote := testutil.NewFakeRemote(seed...)
	e := newEnv(t, remote)
	require.NoError(t, e.ctrl.Load(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			e.ctrl.Delete(context.Background(), id)
		}(seed[i].ID)
		go func(i int) {
			defer wg.Done()
			_, v := e.ctrl.Submit(context.Background(), models.Form{
				Name:        fmt.Sprintf("name-%d", i),
				Description: "d",
			})
			if !v.OK() {
				t.Errorf("submit %d: %v", i, v)
			}
		}(i)
	}
	wg.Wait()
	e.ctrl.Wait()

	notes := e.ctrl.State().Notes
	require.Len(t, notes, count)
	for _, n := range notes {
		require.True(t, strings.HasPrefix(n.ID, "id-"), "deleted note %s is back", n.ID)
	}
	require.Len(t, remote.Notes(), count)
}

func TestSubmit_SetsFormAndCreates(t *testing.T) {
	e := newEnv(t, testutil.NewFakeRemote())
	e.ctrl.ChangeInput(models.FieldName, "stale")

	n, v := e.ctrl.Submit(context.Background(), models.Form{Name: "A", Description: "B"})
	require.True(t, v.OK())
	require.Equal(t, "A", n.Name)
	require.Equal(t, "B", n.Description)
	e.ctrl.Wait()

	require.Equal(t, models.Form{}, e.ctrl.State().Form)
	require.Equal(t, []string{"SET_INPUT", "SET_INPUT", "SET_INPUT", "ADD_NOTE", "RESET_FORM"}, *e.dispatched)
}

func TestSubmit_InvalidKeepsForm(t *testing.T) {
	remote := testutil.NewFakeRemote()
	e := newEnv(t, remote)

	n, v := e.ctrl.Submit(context.Background(), models.Form{Name: "A"})
	require.False(t, v.OK())
	require.Equal(t, []string{models.FieldDescription}, v.Fields())
	require.Equal(t, models.Note{}, n)
	e.ctrl.Wait()

	require.Equal(t, models.Form{Name: "A"}, e.ctrl.State().Form)
	require.Empty(t, e.ctrl.State().Notes)
	require.Empty(t, remote.Calls())
}

func TestSubmit_ConcurrentKeepsOwnValues(t *testing.T) {
	e := newEnv(t, testutil.NewFakeRemote())

	const count = 40
	created := make([]models.Note, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, v := e.ctrl.Submit(context.Background(), models.Form{
				Name:        fmt.Sprintf("name-%d", i),
				Description: fmt.Sprintf("desc-%d", i),
			})
			if !v.OK() {
				t.Errorf("submit %d: %v", i, v)
			}
			created[i] = n
		}(i)
	}
	wg.Wait()
	e.ctrl.Wait()

	for i, n := range created {
		require.Equal(t, fmt.Sprintf("name-%d", i), n.Name)
		require.Equal(t, fmt.Sprintf("desc-%d", i), n.Description)
	}
	require.Len(t, e.ctrl.State().Notes, count)
}

func TestMutation_IgnoresCallerCancellation(t *testing.T) {
	remote := testutil.NewFakeRemote()
	release := remote.Block()
	defer release()
	e := newEnv(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	e.ctrl.ChangeInput(models.FieldName, "A")
	e.ctrl.ChangeInput(models.FieldDescription, "B")
	_, _ = e.ctrl.Create(ctx)
	cancel()

	release()
	e.ctrl.Wait()
	require.Len(t, remote.Notes(), 1)
}

func TestMutation_Timeout(t *testing.T) {
	remote := testutil.NewFakeRemote()
	release := remote.Block()
	defer release()
	e := newEnv(t, remote, WithMutationTimeout(20*time.Millisecond))

	e.ctrl.Delete(context.Background(), "a")
	e.ctrl.Wait()

	require.True(t, strings.Contains(e.logs.String(), context.DeadlineExceeded.Error()))
}

func TestNoGoroutineLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := state.NewStore(state.Initial())
	ctrl := New(store, testutil.NewFakeRemote(), NewSession(""))
	_ = ctrl.Load(context.Background())
	ctrl.ChangeInput(models.FieldName, "A")
	ctrl.ChangeInput(models.FieldDescription, "B")
	n, _ := ctrl.Create(context.Background())
	ctrl.Delete(context.Background(), n.ID)
	ctrl.Wait()
	store.Close()
}

func TestNewSession(t *testing.T) {
	require.Equal(t, "fixed", NewSession("fixed").ClientID)
	a, b := NewSession(""), NewSession("")
	require.NotEmpty(t, a.ClientID)
	require.NotEqual(t, a.ClientID, b.ClientID)
}
