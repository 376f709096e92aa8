package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/notesync"
	"github.com/starford/quill/internal/respond"
	"github.com/starford/quill/internal/state"
)

// Controller is the subset of the sync controller the handlers route to.
type Controller interface {
	State() state.State
	Phase() string
	Inflight() int
	ChangeInput(name, value string)
	Create(ctx context.Context) (models.Note, notesync.Validation)
	Submit(ctx context.Context, form models.Form) (models.Note, notesync.Validation)
	Delete(ctx context.Context, id string)
}

var _ Controller = (*notesync.Controller)(nil)

// Handler holds API route handlers.
type Handler struct {
	ctrl Controller
}

// NewHandler creates a new Handler.
func NewHandler(ctrl Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// View converts a state record into its response form.
func View(s state.State) StateResponse {
	return StateResponse{
		Notes:   s.Notes,
		Loading: s.Loading,
		Error:   s.Error,
		Form:    s.Form,
		Status:  s.Status(),
	}
}

// Snapshot builds the presentation view of the controller's state,
// including load phase and in-flight mutation count.
func Snapshot(ctrl Controller) StateResponse {
	v := View(ctrl.State())
	v.Phase = ctrl.Phase()
	v.Inflight = ctrl.Inflight()
	return v
}

// GetState handles GET /api/state.
//
//	@Summary		Current application state
//	@Tags			state
//	@Produce		json
//	@Param			If-None-Match	header	string	false	"ETag from a previous response"
//	@Success		200		{object}	StateResponse
//	@Success		304		"Not modified"
//	@Security		BearerAuth
//	@Router			/state [get]
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(Snapshot(h.ctrl))
	if err != nil {
		respond.JSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	etag := checksum.Sum(body)
	w.Header().Set("ETag", `"`+etag+`"`)
	if strings.Trim(r.Header.Get("If-None-Match"), `"`) == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// SetInput handles PUT /api/form/{field}.
//
//	@Summary		Change a form field
//	@Tags			form
//	@Accept			json
//	@Produce		json
//	@Param			field	path		string			true	"Field name"	Enums(name, description)
//	@Param			body	body		SetInputRequest	true	"New value"
//	@Success		200		{object}	models.Form
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/form/{field} [put]
func (h *Handler) SetInput(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	if field != models.FieldName && field != models.FieldDescription {
		respond.JSON(w, http.StatusBadRequest, errorBody("unknown form field "+field))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SetInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.JSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	h.ctrl.ChangeInput(field, req.Value)
	respond.JSON(w, http.StatusOK, h.ctrl.State().Form)
}

// CreateNote handles POST /api/notes. It submits the current form; an
// optional body of {"name","description"} sets both fields first.
//
//	@Summary		Submit the form as a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Form	false	"Form values to set before submitting"
//	@Success		201		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	ValidationResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var form *models.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil && !errors.Is(err, io.EOF) {
		respond.JSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	var (
		note models.Note
		v    notesync.Validation
	)
	if form != nil {
		note, v = h.ctrl.Submit(r.Context(), *form)
	} else {
		note, v = h.ctrl.Create(r.Context())
	}
	if !v.OK() {
		respond.JSON(w, http.StatusUnprocessableEntity, ValidationResponse{
			Error:   "invalid form",
			Reasons: v.Reasons,
		})
		return
	}
	respond.JSON(w, http.StatusCreated, note)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		202		"Delete accepted"
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respond.JSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	h.ctrl.Delete(r.Context(), id)
	w.WriteHeader(http.StatusAccepted)
}
