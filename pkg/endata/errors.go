package endata

import (
	"errors"
	"fmt"
)

// ErrNoRecord is returned when the registry answers cleanly but holds no
// record for the identifier (status != 1 or an empty table0). This is not
// a failure: the identifier simply does not exist.
var ErrNoRecord = errors.New("no record for identifier")

// ErrorClass represents a classification of lookup errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors (connect failure, timeout).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 200 response whose body is not the
	// expected envelope.
	ErrorClassDecode ErrorClass = "decode"
)

// LookupError represents a failed lookup attempt with classification context.
type LookupError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("endata %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("endata %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LookupError) Unwrap() error {
	return e.Err
}

// ShouldRetry reports whether a lookup error is worth another attempt.
// Transport-level failures (network, server, client status errors) are
// transient; decode errors and clean no-record answers are terminal for
// the identifier.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, ErrNoRecord) {
		return false
	}
	var le *LookupError
	if errors.As(err, &le) {
		switch le.Class {
		case ErrorClassNetwork, ErrorClassServer, ErrorClassClient:
			return true
		case ErrorClassDecode:
			return false
		}
	}
	return false
}

// classifyStatus categorizes a non-2xx HTTP status.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassServer
	}
}
