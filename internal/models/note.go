// Package models defines the domain types for Quill.
package models

// Note is a single user note. Field names match the remote GraphQL schema.
type Note struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Form is the draft being edited before submission.
type Form struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Form field names accepted by input changes.
const (
	FieldName        = "name"
	FieldDescription = "description"
)
