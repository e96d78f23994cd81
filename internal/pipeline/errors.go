package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrJobNotFound ErrorType = iota
	ErrUploadMissing
	ErrParse
	ErrUnsupportedFormat
	ErrEmptyDocument
	ErrTranslation
	ErrStructural
	ErrStorage
	ErrState
	ErrUnknown
)

// PipelineError is the job pipeline's error envelope. Type decides whether a
// failure is fatal for the job (parse family) or retryable (translation,
// storage).
type PipelineError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *PipelineError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrJobNotFound:
		return "JobNotFound"
	case ErrUploadMissing:
		return "UploadMissing"
	case ErrParse:
		return "Parse"
	case ErrUnsupportedFormat:
		return "UnsupportedFormat"
	case ErrEmptyDocument:
		return "EmptyDocument"
	case ErrTranslation:
		return "Translation"
	case ErrStructural:
		return "Structural"
	case ErrStorage:
		return "Storage"
	case ErrState:
		return "State"
	case ErrUnknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Type == errorType
	}
	return false
}

// fatalForJob reports whether an error should fail the job immediately
// instead of being retried. Parse-family failures are deterministic; running
// the same bytes again cannot succeed.
func fatalForJob(err error) bool {
	var perr *PipelineError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Type {
	case ErrParse, ErrUnsupportedFormat, ErrEmptyDocument, ErrUploadMissing:
		return true
	}
	return false
}
