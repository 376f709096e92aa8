// Package notesync bridges user and session events to the remote note
// service. Local state is updated optimistically before each remote call and
// is never rolled back when the call fails.
package notesync

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/state"
)

// Load phases.
const (
	PhaseUninitialized = "uninitialized"
	PhaseLoading       = "loading"
	PhaseReady         = "ready"
	PhaseErrored       = "errored"
)

// Remote is the note service contract consumed by the controller.
type Remote interface {
	ListNotes(ctx context.Context) ([]models.Note, error)
	CreateNote(ctx context.Context, n models.Note) error
	DeleteNote(ctx context.Context, id string) error
}

// Session identifies one run of the application.
type Session struct {
	ClientID string
}

// NewSession returns a session with clientID, or a random one when empty.
func NewSession(clientID string) Session {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return Session{ClientID: clientID}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for load and mutation failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithMutationTimeout bounds each background create or delete call.
// Zero leaves calls unbounded.
func WithMutationTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.mutationTimeout = d
	}
}

// WithIDGenerator replaces the note id source. gen is called from the store
// goroutine, one call at a time.
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		c.newID = gen
	}
}

// Controller runs the initial load and the optimistic create and delete flows.
type Controller struct {
	store   *state.Store
	remote  Remote
	session Session

	logger          *slog.Logger
	mutationTimeout time.Duration
	newID           func() string

	loadStarted atomic.Bool
	loadDone    atomic.Bool

	wg       sync.WaitGroup
	inflight atomic.Int64
}

// New creates a controller.
func New(store *state.Store, remote Remote, session Session, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		remote:  remote,
		session: session,
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session the controller was built with.
func (c *Controller) Session() Session {
	return c.session
}

// State returns the current application state.
func (c *Controller) State() state.State {
	return c.store.State()
}

// Phase reports progress of the initial load.
func (c *Controller) Phase() string {
	if !c.loadStarted.Load() {
		return PhaseUninitialized
	}
	if !c.loadDone.Load() {
		return PhaseLoading
	}
	if c.store.State().Error {
		return PhaseErrored
	}
	return PhaseReady
}

// Load fetches the note list once. A failure sets the error flag and is
// logged; it is not returned. Calls after the first return
// apperr.ErrAlreadyLoaded without touching state.
func (c *Controller) Load(ctx context.Context) error {
	if !c.loadStarted.CompareAndSwap(false, true) {
		c.logger.Debug("load ignored, already started")
		return apperr.ErrAlreadyLoaded
	}
	defer c.loadDone.Store(true)

	notes, err := c.remote.ListNotes(ctx)
	if err != nil {
		c.logger.Error("load notes failed", slog.String("error", err.Error()))
		c.store.Dispatch(state.Error{})
		return nil
	}
	c.logger.Info("notes loaded", slog.Int("count", len(notes)))
	c.store.Dispatch(state.SetNotes{Notes: notes})
	return nil
}

// ChangeInput records a form keystroke.
func (c *Controller) ChangeInput(name, value string) {
	c.store.Dispatch(state.SetInput{Name: name, Value: value})
}

// Create submits the current form. Invalid input returns a failing
// Validation and changes nothing. Otherwise the note is appended locally,
// the form is reset and the remote create runs in the background.
func (c *Controller) Create(ctx context.Context) (models.Note, Validation) {
	return c.submit(ctx, nil)
}

// Submit sets both form fields to form and submits it in one step, so
// concurrent submissions never see each other's input. An invalid form is
// left in place.
func (c *Controller) Submit(ctx context.Context, form models.Form) (models.Note, Validation) {
	return c.submit(ctx, &form)
}

func (c *Controller) submit(ctx context.Context, input *models.Form) (models.Note, Validation) {
	var (
		n models.Note
		v Validation
	)
	c.store.Update(func(s state.State) []state.Action {
		var actions []state.Action
		form := s.Form
		if input != nil {
			form = *input
			actions = append(actions,
				state.SetInput{Name: models.FieldName, Value: form.Name},
				state.SetInput{Name: models.FieldDescription, Value: form.Description},
			)
		}
		if v = ValidateForm(form); !v.OK() {
			return actions
		}
		n = models.Note{
			ID:          c.newID(),
			ClientID:    c.session.ClientID,
			Name:        form.Name,
			Description: form.Description,
			Completed:   false,
		}
		return append(actions, state.AddNote{Note: n}, state.ResetForm{})
	})
	if !v.OK() {
		return models.Note{}, v
	}

	c.mutate(ctx, "create", n.ID, func(ctx context.Context) error {
		return c.remote.CreateNote(ctx, n)
	})
	return n, v
}

// Delete removes the note locally, then deletes it remotely in the
// background. An id not present locally leaves state untouched but is still
// sent to the service.
func (c *Controller) Delete(ctx context.Context, id string) {
	found := false
	c.store.Update(func(s state.State) []state.Action {
		idx := slices.IndexFunc(s.Notes, func(n models.Note) bool { return n.ID == id })
		if idx < 0 {
			return nil
		}
		found = true
		return []state.Action{state.SetNotes{Notes: slices.Delete(s.Notes, idx, idx+1)}}
	})
	if !found {
		c.logger.Debug("delete of unknown note", slog.String("id", id))
	}

	c.mutate(ctx, "delete", id, func(ctx context.Context) error {
		return c.remote.DeleteNote(ctx, id)
	})
}

// Inflight returns the number of remote mutations not yet finished.
func (c *Controller) Inflight() int {
	return int(c.inflight.Load())
}

// Wait blocks until every background mutation has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// mutate runs call on a tracked goroutine. Cancelling ctx does not abort it.
func (c *Controller) mutate(ctx context.Context, op, id string, call func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	c.inflight.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inflight.Add(-1)

		if c.mutationTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.mutationTimeout)
			defer cancel()
		}
		if err := call(ctx); err != nil {
			c.logger.Error(op+" note failed",
				slog.String("id", id),
				slog.String("error", err.Error()))
			return
		}
		c.logger.Debug(op+" note confirmed", slog.String("id", id))
	}()
}
