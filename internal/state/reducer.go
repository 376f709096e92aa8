// Package state holds the application state record and the pure reducer that
// transforms it.
package state

import (
	"slices"

	"github.com/starford/quill/internal/models"
)

// Status values derived from the loading and error flags.
const (
	StatusLoading = "loading"
	StatusReady   = "ready"
	StatusErrored = "errored"
)

// State is the single in-memory application record.
type State struct {
	Notes   []models.Note `json:"notes"`
	Loading bool          `json:"loading"`
	Error   bool          `json:"error"`
	Form    models.Form   `json:"form"`
}

// Initial returns the state a session starts with.
func Initial() State {
	return State{
		Notes:   []models.Note{},
		Loading: true,
	}
}

// Status reports the load outcome as seen by the presentation layer.
func (s State) Status() string {
	switch {
	case s.Error:
		return StatusErrored
	case s.Loading:
		return StatusLoading
	default:
		return StatusReady
	}
}

// Clone returns a copy whose notes slice is not shared with s.
func (s State) Clone() State {
	s.Notes = cloneNotes(s.Notes)
	return s
}

// Action is a state transition request.
type Action interface {
	// Type names the action for logs and event streams.
	Type() string
}

// SetNotes replaces the note list and ends loading.
type SetNotes struct {
	Notes []models.Note
}

// Error marks the initial load as failed.
type Error struct{}

// AddNote appends a note. Callers guarantee id uniqueness.
type AddNote struct {
	Note models.Note
}

// SetInput updates a single form field.
type SetInput struct {
	Name  string
	Value string
}

// ResetForm clears the form.
type ResetForm struct{}

func (SetNotes) Type() string  { return "SET_NOTES" }
func (Error) Type() string     { return "ERROR" }
func (AddNote) Type() string   { return "ADD_NOTE" }
func (SetInput) Type() string  { return "SET_INPUT" }
func (ResetForm) Type() string { return "RESET_FORM" }

// Reduce applies action to s and returns the resulting state. It never
// mutates s. Unknown actions return s unchanged.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case SetNotes:
		s.Notes = cloneNotes(a.Notes)
		s.Loading = false
	case Error:
		s.Error = true
		s.Loading = false
	case AddNote:
		notes := make([]models.Note, 0, len(s.Notes)+1)
		notes = append(notes, s.Notes...)
		s.Notes = append(notes, a.Note)
	case SetInput:
		switch a.Name {
		case models.FieldName:
			s.Form.Name = a.Value
		case models.FieldDescription:
			s.Form.Description = a.Value
		}
	case ResetForm:
		s.Form = models.Form{}
	}
	return s
}

func cloneNotes(notes []models.Note) []models.Note {
	if notes == nil {
		return []models.Note{}
	}
	return slices.Clone(notes)
}
