package domain

import "errors"

var (
	// ErrConfig signals invalid or missing required settings.
	ErrConfig = errors.New("configuration error")
	// ErrNotFound signals a missing collection, job, or persistent index.
	ErrNotFound = errors.New("not found")
	// ErrIndexCorrupt signals a persisted index failing its magic/version/CRC check.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrExternalUnavailable signals an object store, vector store, or model I/O failure.
	ErrExternalUnavailable = errors.New("external service unavailable")
	// ErrTimeout signals an operation exceeding its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled signals cooperative cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrParse signals input content that prevents processing.
	ErrParse = errors.New("parse error")
	// ErrInternal signals an invariant violation.
	ErrInternal = errors.New("internal error")
)

// Kind maps an error to its stable kind string so external layers can
// translate mechanically. Unrecognized errors map to "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIndexCorrupt):
		return "index_corrupt"
	case errors.Is(err, ErrExternalUnavailable):
		return "external_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrParse):
		return "parse_error"
	default:
		return "internal"
	}
}
