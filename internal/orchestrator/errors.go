package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

var (
	// ErrPhaseNotFound is returned when neither memory nor the ledger knows a phase.
	ErrPhaseNotFound = errors.New("phase not found")
	// ErrValidationFailed matches every ValidationFailedError via errors.Is.
	ErrValidationFailed = errors.New("phase failed validation")
	// ErrReasonRequired is returned by FailPhase when no failure reason is given.
	ErrReasonRequired = errors.New("failure reason is required")
)

// ValidationFailedError is bad input: the spec was refused admission and no
// state changed.
type ValidationFailedError struct {
	PhaseID string
	Result  *model.ValidationResult
}

func (e *ValidationFailedError) Error() string {
	var errs []string
	if e.Result != nil {
		errs = e.Result.Errors
	}
	if len(errs) == 0 {
		return fmt.Sprintf("phase %s failed validation", e.PhaseID)
	}
	return fmt.Sprintf("phase %s failed validation with %d error(s): %s",
		e.PhaseID, len(errs), strings.Join(errs, "; "))
}

func (e *ValidationFailedError) Is(target error) bool {
	return target == ErrValidationFailed
}
