package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the startup probe could not reach the endpoint.
	ErrConnection = errors.New("inference endpoint unreachable")
	// ErrNotReady is returned by AnalyzeImage before a successful Initialize.
	ErrNotReady = errors.New("inference connection not established")
	// ErrFormatRejected marks a payload shape refused with HTTP 422.
	ErrFormatRejected = errors.New("payload format rejected")
	// ErrTransientUnavailable means the model kept reporting that it is loading.
	ErrTransientUnavailable = errors.New("model still loading")
	// ErrAllFormatsExhausted is returned when no payload shape produced a report.
	ErrAllFormatsExhausted = errors.New("all payload formats failed")
	// ErrQuotaExceeded indicates the provider returned a quota/limit error (HTTP 429).
	ErrQuotaExceeded = errors.New("inference quota exceeded")
)

// StatusError carries the HTTP detail of one failed attempt.
type StatusError struct {
	Shape      int
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("format %d: status %d: %s", e.Shape, e.StatusCode, e.Body)
}

// Is lets callers match a StatusError against the sentinel for its status code.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrFormatRejected:
		return e.StatusCode == 422
	case ErrQuotaExceeded:
		return e.StatusCode == 429
	}
	return false
}
