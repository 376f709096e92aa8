package api

import (
	"github.com/starford/quill/internal/models"
)

// StateResponse is the application state as handed to the presentation layer.
type StateResponse struct {
	Notes    []models.Note `json:"notes" validate:"required"`
	Loading  bool          `json:"loading" example:"false"`
	Error    bool          `json:"error" example:"false"`
	Form     models.Form   `json:"form" validate:"required"`
	Status   string        `json:"status" example:"ready" enums:"loading,ready,errored"`
	Phase    string        `json:"phase,omitempty" example:"ready" enums:"uninitialized,loading,ready,errored"`
	Inflight int           `json:"inflight" example:"0"`
}

// SetInputRequest is the request body for a form field change.
type SetInputRequest struct {
	Value string `json:"value" example:"Groceries"`
}

// ValidationResponse lists rejected form fields.
type ValidationResponse struct {
	Error   string            `json:"error" example:"invalid form"`
	Reasons map[string]string `json:"reasons"`
}
