package types

import "errors"

var (
	// ErrBadRequest marks malformed requests: bad grammar, unknown
	// templates or fields, methods a field does not permit.
	ErrBadRequest = errors.New("bad request")

	// ErrInternal marks contract violations between components.
	ErrInternal = errors.New("internal error")
)

// IsClientError reports whether err should be surfaced as a 4xx
func IsClientError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}
