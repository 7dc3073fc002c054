package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConflict      = errors.New("conflict")
	ErrPrepare       = errors.New("prepare failure")
	ErrEncode        = errors.New("encode failure")
	ErrMerge         = errors.New("merge failure")
	ErrTimeout       = errors.New("timeout")
	ErrStorage       = errors.New("storage error")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrExternalTool  = errors.New("external tool error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker so callers can classify it with errors.Is. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf returns a stable identifier for the marker carried by err. It is used
// for the error_kind log field and API error bodies.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPrepare):
		return "prepare"
	case errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, ErrMerge):
		return "merge"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "internal"
	}
}

// Message strips the marker prefixes Wrap adds and returns the innermost
// human-facing detail, falling back to the full error text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var detailed *DetailError
	if errors.As(err, &detailed) {
		return detailed.Detail
	}
	return err.Error()
}

// DetailError carries a user-facing message alongside a marker. Use Detail when
// the API should return a fixed sentence rather than the wrapped chain.
type DetailError struct {
	Marker error
	Detail string
}

func (e *DetailError) Error() string {
	if e.Marker == nil {
		return e.Detail
	}
	return e.Marker.Error() + ": " + e.Detail
}

func (e *DetailError) Unwrap() error { return e.Marker }

// Detailed returns a DetailError tagged with marker.
func Detailed(marker error, format string, args ...any) error {
	return &DetailError{Marker: marker, Detail: fmt.Sprintf(format, args...)}
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
