package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Class is the retry classification of a failed call.
type Class int

const (
	// ClassNone means the call succeeded.
	ClassNone Class = iota
	// ClassTransient covers timeouts, resets, rate limiting and 5xx responses.
	ClassTransient
	// ClassMalformed means the server answered but the body could not be decoded.
	ClassMalformed
	// ClassPermanent covers everything that will not get better by retrying.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassMalformed:
		return "malformed-response"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// MalformedError wraps a decode failure of an otherwise successful response.
// Servers sometimes answer with an HTML error page under a 200, so these are
// retried like transient errors.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// NewMalformedError wraps err as a malformed-response failure.
func NewMalformedError(err error) *MalformedError {
	return &MalformedError{Err: err}
}

// PermanentError wraps a failure that must not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as permanent with an optional HTTP status code.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// Classify maps an error onto a retry class. Explicit wrappers win; otherwise
// network-level heuristics decide between transient and permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var pe *PermanentError
	if asChain(err, &pe) {
		return ClassPermanent
	}
	var me *MalformedError
	if asChain(err, &me) {
		return ClassMalformed
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsRetryable reports whether the error is transient or a malformed response.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassMalformed:
		return true
	default:
		return false
	}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if asChain(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// asChain is errors.As that also inspects the eris root cause.
func asChain(err error, target any) bool {
	if errors.As(err, target) {
		return true
	}
	if cause := eris.Cause(err); cause != nil && cause != err {
		return errors.As(cause, target)
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return statusCode >= 500 && statusCode < 600
	}
}
