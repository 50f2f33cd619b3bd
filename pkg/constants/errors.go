package constants

import "errors"

// Errors
var (
	InvalidResponse = errors.New("invalid backend response") //nolint:stylecheck
	ErrNoRow        = errors.New("error no row")
)

var (
	ErrIDInUse            = errors.New("id already in use")
	ErrTimeout            = errors.New("timeout")
	ErrNoBaseURL          = errors.New("base url not set")
	ErrNoMarshaler        = errors.New("marshaler is not set")
	ErrNoUnmarshaler      = errors.New("unmarshaler is not set")
	ErrMethodNotAvailable = errors.New("method not available on this connection")
	ErrUnsupportedScheme  = errors.New("unsupported endpoint scheme")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrUnknownLiveQuery   = errors.New("unknown live query")
)
