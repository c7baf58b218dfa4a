package dispatch

import (
	"errors"
	"fmt"

	"rasweb/internal/controller"
	"rasweb/internal/images"
	"rasweb/internal/pending"
	"rasweb/pkg/shell"
	"rasweb/pkg/validate"
)

type Kind string

const (
	KindSubprocess    Kind = "subprocess"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindNoSpace       Kind = "no_space"
	KindUnknownAction Kind = "unknown_action"
	KindConfirmation  Kind = "confirmation"
	KindInternal      Kind = "internal"
)

// Failure describes why an action did not execute. For subprocess failures
// Command and Lines carry what the controller printed.
type Failure struct {
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Command string   `json:"command,omitempty"`
	Code    int      `json:"exitCode,omitempty"`
	Lines   []string `json:"lines,omitempty"`
}

// ErrConfirmation wraps every stale, reused or mismatched token.
var ErrConfirmation = errors.New("confirmation failed")

func confirmationError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfirmation, err)
}

// Classify maps an error from a controller, image store or system call onto a Failure.
func Classify(err error) *Failure {
	var ce *shell.CommandError
	var pe *controller.ParseError
	switch {
	case errors.As(err, &ce):
		return &Failure{Kind: KindSubprocess, Message: ce.Error(), Command: ce.Command(), Code: ce.Code, Lines: ce.Lines}
	case errors.Is(err, ErrConfirmation),
		errors.Is(err, pending.ErrExpired),
		errors.Is(err, pending.ErrUnknownToken),
		errors.Is(err, images.ErrNotConfirmed):
		return &Failure{Kind: KindConfirmation, Message: err.Error()}
	case errors.Is(err, validate.ErrInvalid):
		return &Failure{Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, images.ErrNotFound):
		return &Failure{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, images.ErrExists):
		return &Failure{Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, images.ErrNoSpace):
		return &Failure{Kind: KindNoSpace, Message: err.Error()}
	case errors.As(err, &pe):
		return &Failure{Kind: KindSubprocess, Message: pe.Error(), Lines: []string{pe.Text}}
	}
	return &Failure{Kind: KindInternal, Message: err.Error()}
}
