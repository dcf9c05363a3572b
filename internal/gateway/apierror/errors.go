// Package apierror defines the gateway's error taxonomy and its mapping onto
// HTTP status codes. Components wrap their failures with these sentinels so
// the HTTP layer can translate without inspecting error strings.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the gateway error taxonomy.
var (
	// ErrAuthMissing indicates the request carried no bearer token.
	ErrAuthMissing = errors.New("gateway: missing authorization")

	// ErrAuthMalformed indicates the bearer token has an unrecognized prefix.
	ErrAuthMalformed = errors.New("gateway: malformed api key")

	// ErrAuthInvalid indicates no active key matched the presented token.
	ErrAuthInvalid = errors.New("gateway: invalid or inactive api key")

	// ErrAuthExpired indicates the matched key is past its expiry.
	ErrAuthExpired = errors.New("gateway: api key has expired")

	// ErrScopeDenied indicates the key is not scoped to the requested model.
	ErrScopeDenied = errors.New("gateway: api key does not have access to model")

	// ErrVersionUnresolved indicates the metadata store has no usable active
	// version for a custom model.
	ErrVersionUnresolved = errors.New("gateway: model version unresolved")

	// ErrArtifactNotFound indicates no artifact exists at the resolved path.
	ErrArtifactNotFound = errors.New("gateway: model artifact not found")

	// ErrArtifactInvalid indicates an artifact directory failed validation.
	ErrArtifactInvalid = errors.New("gateway: model artifact invalid")

	// ErrLoadFailed indicates the runtime could not load the model.
	ErrLoadFailed = errors.New("gateway: model load failed")

	// ErrOutOfMemory indicates the runtime ran out of device memory.
	ErrOutOfMemory = errors.New("gateway: out of device memory")

	// ErrGenerationTimeout indicates the generation worker missed its join
	// deadline.
	ErrGenerationTimeout = errors.New("gateway: generation timed out")

	// ErrGpuFault indicates a device fault was reported by the runtime.
	ErrGpuFault = errors.New("gateway: device fault")

	// ErrMetadataUnavailable indicates a transient metadata-store failure.
	ErrMetadataUnavailable = errors.New("gateway: metadata store unavailable")

	// ErrBadRequest indicates a malformed or unsupported request body.
	ErrBadRequest = errors.New("gateway: bad request")
)

// Error wraps an underlying failure with the operation and model it occurred
// on. It is errors.Is/As transparent with respect to the wrapped sentinel.
type Error struct {
	Op    string // operation that failed, e.g. "resolve", "load", "generate"
	Model string // logical model name involved, if any
	Err   error
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Model, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with operation and model context.
func New(op, model string, err error) error {
	return &Error{Op: op, Model: model, Err: err}
}

// HTTPStatus maps an error to the HTTP status the gateway surfaces for it.
// Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuthMissing),
		errors.Is(err, ErrAuthMalformed),
		errors.Is(err, ErrAuthInvalid),
		errors.Is(err, ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrScopeDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-visible message for an error. Internal failures
// keep their description; auth failures use fixed phrasing.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
