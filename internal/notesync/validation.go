package notesync

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quill/internal/models"
)

// Validation is the outcome of checking a form before submission.
// The zero value is a passing result.
type Validation struct {
	// Reasons maps a form field name to why it was rejected.
	Reasons map[string]string `json:"reasons,omitempty"`
}

// OK reports whether the form may be submitted.
func (v Validation) OK() bool {
	return len(v.Reasons) == 0
}

// Fields returns the rejected field names in sorted order.
func (v Validation) Fields() []string {
	out := make([]string, 0, len(v.Reasons))
	for f := range v.Reasons {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Error implements error so a failing Validation can be returned as one.
func (v Validation) Error() string {
	if v.OK() {
		return ""
	}
	msg := "invalid form:"
	for _, f := range v.Fields() {
		msg += " " + f + " " + v.Reasons[f] + ";"
	}
	return msg[:len(msg)-1]
}

// ValidateForm requires both name and description to be non-empty.
func ValidateForm(f models.Form) Validation {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required.Error("is required")),
		validation.Field(&f.Description, validation.Required.Error("is required")),
	)
	if err == nil {
		return Validation{}
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return Validation{Reasons: map[string]string{"form": err.Error()}}
	}
	reasons := make(map[string]string, len(errs))
	for field, fieldErr := range errs {
		reasons[field] = fieldErr.Error()
	}
	return Validation{Reasons: reasons}
}
