// Package apierr centralizes the error taxonomy shared by every HTTP
// handler: a small set of sentinel kinds, each carrying the HTTP status
// and response code it surfaces as.
package apierr

import (
	"errors"
	"net/http"
)

// Kind identifies one row of the error taxonomy.
type Kind int

const (
	KindValidation Kind = iota
	KindUnauthenticated
	KindForbidden
	KindRateLimited
	KindKVUnavailable
	KindStorageTransient
	KindStorageFatal
	KindConflict
	KindNotFound
	KindInternal
)

// Error is a classified application error. Handlers type-assert or use
// errors.As to recover the Kind and build the right HTTP response.
type Error struct {
	Kind    Kind
	Code    string // machine-readable code, e.g. "RATE_LIMIT_EXCEEDED"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string, err error) *Error {
	return newError(KindValidation, "VALIDATION_FAILED", message, err)
}

func Unauthenticated(message string) *Error {
	return newError(KindUnauthenticated, "UNAUTHENTICATED", message, nil)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, "FORBIDDEN", message, nil)
}

func RateLimited(message string) *Error {
	return newError(KindRateLimited, "RATE_LIMIT_EXCEEDED", message, nil)
}

func KVUnavailable(err error) *Error {
	return newError(KindKVUnavailable, "KV_UNAVAILABLE", "key-value store unavailable", err)
}

func StorageTransient(err error) *Error {
	return newError(KindStorageTransient, "STORAGE_TRANSIENT", "storage temporarily unavailable", err)
}

func StorageFatal(err error) *Error {
	return newError(KindStorageFatal, "STORAGE_FATAL", "storage operation failed", err)
}

func Conflict(message string) *Error {
	return newError(KindConflict, "CONFLICT", message, nil)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, "NOT_FOUND", message, nil)
}

func Internal(err error) *Error {
	return newError(KindInternal, "INTERNAL", "internal server error", err)
}

// StatusFor maps a classified error to its HTTP status code. Unclassified
// errors map to 500.
func StatusFor(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindKVUnavailable:
		return http.StatusServiceUnavailable
	case KindStorageTransient:
		return http.StatusServiceUnavailable
	case KindStorageFatal:
		return http.StatusInternalServerError
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Classify recovers the *Error from err, or wraps it as Internal if it
// isn't already classified.
func Classify(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
