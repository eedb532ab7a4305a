package protocol

import (
	"errors"
	"fmt"
)

// Frame error reasons. A FrameError always matches exactly one of these with errors.Is.
var (
	ErrTruncated           = errors.New("frame truncated")
	ErrMalformed           = errors.New("frame malformed")
	ErrDecompressionFailed = errors.New("frame decompression failed")
	ErrInvalidDocument     = errors.New("invalid command document")
)

// FrameError is scoped to a single frame. Callers skip the frame and keep reading.
type FrameError struct {
	Reason error
	Detail string
	Err    error
}

func newFrameError(reason, err error, format string, args ...any) *FrameError {
	return &FrameError{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func (e *FrameError) Error() string {
	msg := e.Reason.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FrameError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Reason returns a short label for err, suitable for metrics and log fields.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrDecompressionFailed):
		return "decompression_failed"
	case errors.Is(err, ErrInvalidDocument):
		return "invalid_document"
	default:
		return "unknown"
	}
}
