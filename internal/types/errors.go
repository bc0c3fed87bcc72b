package types

import (
	"errors"
	"fmt"
)

const (
	CodeValidation         = "VALIDATION"
	CodeTabNotFound        = "TAB_NOT_FOUND"
	CodeMediaNotFound      = "MEDIA_NOT_FOUND"
	CodeScrubberNotFound   = "SCRUBBER_NOT_FOUND"
	CodeMarkerNotFound     = "MARKER_NOT_FOUND"
	CodeFixtureNotFound    = "FIXTURE_NOT_FOUND"
	CodeEvalFailure        = "EVAL_FAILURE"
	CodeEvalTimeout        = "EVAL_TIMEOUT"
	CodeCDPUnavailable     = "CDP_UNAVAILABLE"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeStoreFailure       = "STORE_FAILURE"
	CodeInternal           = "INTERNAL"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError. cause may be nil.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrorCode extracts the code from a CodedError chain, or CodeInternal.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
