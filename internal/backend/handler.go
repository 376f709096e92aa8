package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/respond"
)

// APIKeyHeader carries the service API key.
const APIKeyHeader = "x-api-key"

// rootFieldRe captures the first field of the operation's selection set.
var rootFieldRe = regexp.MustCompile(`^[^{]*\{\s*([A-Za-z_][A-Za-z0-9_]*)`)

type gqlRequest struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables"`
	OperationName string          `json:"operationName,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   any        `json:"data"`
	Errors []gqlError `json:"errors,omitempty"`
}

// Handler serves the listNotes, createNote and deleteNote operations.
type Handler struct {
	db *DB
}

// NewHandler creates a Handler backed by db.
func NewHandler(db *DB) *Handler {
	return &Handler{db: db}
}

// NewRouter mounts POST /graphql. A non-empty apiKey is required on every request.
func NewRouter(db *DB, apiKey string) chi.Router {
	h := NewHandler(db)
	r := chi.NewRouter()
	r.Use(APIKeyMiddleware(apiKey))
	r.Post("/graphql", h.ServeGraphQL)
	return r
}

// APIKeyMiddleware rejects requests without the expected x-api-key header.
// An empty key disables the check.
func APIKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get(APIKeyHeader) != key {
				respond.JSON(w, http.StatusUnauthorized, gqlResponse{Errors: []gqlError{{Message: "unauthorized"}}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ServeGraphQL handles POST /graphql.
func (h *Handler) ServeGraphQL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.JSON(w, http.StatusBadRequest, errorResponse("invalid JSON body"))
		return
	}

	m := rootFieldRe.FindStringSubmatch(req.Query)
	if m == nil {
		respond.JSON(w, http.StatusBadRequest, errorResponse("query has no selection set"))
		return
	}

	switch m[1] {
	case "listNotes":
		h.listNotes(w, r)
	case "createNote":
		h.createNote(w, r, req.Variables)
	case "deleteNote":
		h.deleteNote(w, r, req.Variables)
	default:
		respond.JSON(w, http.StatusOK, errorResponse("unknown field "+m[1]))
	}
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.db.ListNotes(r.Context())
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		respond.JSON(w, http.StatusOK, errorResponse("internal error"))
		return
	}
	respond.JSON(w, http.StatusOK, gqlResponse{Data: map[string]any{
		"listNotes": map[string]any{"items": notes},
	}})
}

func (h *Handler) createNote(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var vars struct {
		Input models.Note `json:"input"`
	}
	if err := json.Unmarshal(raw, &vars); err != nil {
		respond.JSON(w, http.StatusOK, errorResponse("invalid variables"))
		return
	}
	n := vars.Input
	if n.ID == "" || n.Name == "" || n.Description == "" {
		respond.JSON(w, http.StatusOK, errorResponse("id, name and description are required"))
		return
	}
	if err := h.db.CreateNote(r.Context(), n); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			respond.JSON(w, http.StatusOK, errorResponse("note "+n.ID+" already exists"))
		} else {
			slog.Error("create note failed", slog.String("id", n.ID), slog.String("error", err.Error()))
			respond.JSON(w, http.StatusOK, errorResponse("internal error"))
		}
		return
	}
	respond.JSON(w, http.StatusOK, gqlResponse{Data: map[string]any{"createNote": n}})
}

func (h *Handler) deleteNote(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var vars struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &vars); err != nil || vars.ID == "" {
		respond.JSON(w, http.StatusOK, errorResponse("id is required"))
		return
	}
	if err := h.db.DeleteNote(r.Context(), vars.ID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			respond.JSON(w, http.StatusOK, errorResponse("note "+vars.ID+" not found"))
		} else {
			slog.Error("delete note failed", slog.String("id", vars.ID), slog.String("error", err.Error()))
			respond.JSON(w, http.StatusOK, errorResponse("internal error"))
		}
		return
	}
	respond.JSON(w, http.StatusOK, gqlResponse{Data: map[string]any{
		"deleteNote": map[string]string{"id": vars.ID},
	}})
}

func errorResponse(msg string) gqlResponse {
	return gqlResponse{Errors: []gqlError{{Message: msg}}}
}
