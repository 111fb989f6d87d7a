package gateway

import (
	"fmt"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

type ValidationError struct {
	FieldPath string
	Message   string
}

func (e ValidationError) Error() string {
	if e.FieldPath == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Add(fieldPath, message string) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	return strings.Join(ve.Messages(), "\n")
}

func (ve *ValidationErrors) Messages() []string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

// layerCheck collects the errors and warnings of one layer. Only errors fail the layer.
type layerCheck struct {
	errs  ValidationErrors
	warns ValidationErrors
}

func (c *layerCheck) result() *model.LayerResult {
	return &model.LayerResult{
		Passed:   !c.errs.HasErrors(),
		Messages: c.errs.Messages(),
		Warnings: c.warns.Messages(),
	}
}

// FormatStderr renders every error and warning of a result, errors first.
func FormatStderr(r *model.ValidationResult) string {
	var sb strings.Builder
	for _, name := range model.LayerOrder {
		layer := r.Layer(name)
		if layer == nil {
			continue
		}
		for _, msg := range layer.Messages {
			fmt.Fprintf(&sb, "error: [%s] %s\n", name, msg)
		}
	}
	for _, name := range model.LayerOrder {
		layer := r.Layer(name)
		if layer == nil {
			continue
		}
		for _, msg := range layer.Warnings {
			fmt.Fprintf(&sb, "warning: [%s] %s\n", name, msg)
		}
	}
	return sb.String()
}
