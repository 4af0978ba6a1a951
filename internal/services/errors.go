package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrPermanent     = errors.New("permanent failure")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
)

// Outcome is the three-way result of a capability call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// GenericRetryMessage is shown to users when transient retries are exhausted.
const GenericRetryMessage = "processing failed, please retry upload"

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify reduces err to a capability outcome. Unmarked errors are treated
// as transient so an unknown failure is retried rather than dropped.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPermanent), errors.Is(err, ErrNotFound):
		return OutcomePermanent
	default:
		return OutcomeTransient
	}
}

// FailureKind returns the short error kind persisted on the job record.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "transient"
	}
}

// UserMessage returns the user-facing failure reason for err. Permanent
// failures surface their detail; everything else gets the generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return UserMessageForKind(FailureKind(err), err.Error())
}

// UserMessageForKind rebuilds the user-facing reason from a persisted
// failure kind and message.
func UserMessageForKind(kind, message string) string {
	switch kind {
	case "":
		return ""
	case "validation", "permanent", "not_found":
	default:
		return GenericRetryMessage
	}
	msg := strings.TrimSpace(message)
	for _, marker := range []error{ErrValidation, ErrPermanent, ErrNotFound} {
		msg = strings.TrimPrefix(msg, marker.Error()+": ")
	}
	if msg == "" {
		return GenericRetryMessage
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
