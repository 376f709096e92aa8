package state

import "sync/atomic"

// Listener is called after every transition with the action and the new state.
// It runs on the store goroutine and must not call back into the store.
type Listener func(action Action, next State)

// UpdateFunc derives actions from the current state. It runs on the store
// goroutine and must not call back into the store.
type UpdateFunc func(current State) []Action

type dispatchReq struct {
	update UpdateFunc
	resp   chan State
}

// Store owns the application state and applies actions one at a time.
//
// Concurrency model: a single internal loop goroutine owns the state. Public
// methods communicate with it through channels, so transitions never
// interleave and no mutexes are required.
type Store struct {
	listeners []Listener

	dispatchCh chan dispatchReq
	snapshotCh chan chan State

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool

	// last is written by the loop on exit so callers after Close still
	// observe the final state.
	last atomic.Pointer[State]
}

// NewStore starts a store holding initial.
func NewStore(initial State, listeners ...Listener) *Store {
	s := &Store{
		listeners:  listeners,
		dispatchCh: make(chan dispatchReq),
		snapshotCh: make(chan chan State),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go s.run(initial.Clone())
	return s
}

func (s *Store) run(current State) {
	defer close(s.stopped)
	defer func() {
		final := current.Clone()
		s.last.Store(&final)
	}()

	for {
		select {
		case <-s.stopCh:
			return

		case req := <-s.dispatchCh:
			for _, action := range req.update(current.Clone()) {
				current = Reduce(current, action)
				for _, l := range s.listeners {
					l(action, current.Clone())
				}
			}
			req.resp <- current.Clone()

		case resp := <-s.snapshotCh:
			resp <- current.Clone()
		}
	}
}

// Dispatch applies action and returns the resulting state.
func (s *Store) Dispatch(action Action) State {
	return s.Update(func(State) []Action {
		return []Action{action}
	})
}

// Update applies the actions fn derives from the current state as one step:
// no other dispatch or update runs between the read and the last action.
// It returns the resulting state.
func (s *Store) Update(fn UpdateFunc) State {
	if s.closed.Load() {
		return s.final()
	}
	req := dispatchReq{update: fn, resp: make(chan State, 1)}
	select {
	case s.dispatchCh <- req:
	case <-s.stopped:
		return s.final()
	}
	return <-req.resp
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	if s.closed.Load() {
		return s.final()
	}
	resp := make(chan State, 1)
	select {
	case s.snapshotCh <- resp:
	case <-s.stopped:
		return s.final()
	}
	return <-resp
}

// Close stops the store loop. Later calls observe the final state.
func (s *Store) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	<-s.stopped
}

func (s *Store) final() State {
	<-s.stopped
	if p := s.last.Load(); p != nil {
		return p.Clone()
	}
	return Initial()
}
