package gatherly

import "errors"

// Error taxonomy for the messaging layer.
//
// Transport- and timeout-level failures are recovered automatically by
// falling back to the stateless transport; only terminal failures (both
// transports failed) surface to callers. Optimistic sends always roll back
// their provisional entry on a terminal failure.
var (
	// ErrTransportUnavailable means the persistent channel was unusable and
	// the fallback transport also failed. Surfaced to the caller.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrRequestTimeout means no correlated response arrived on the
	// persistent channel within the request timeout. It triggers the
	// fallback transport and is not user-visible unless that fails too.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrAuthenticationRequired means a command was attempted without a
	// valid session. Rejected locally before any network call.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrReconciliationMismatch means a pushed update could not be matched
	// to an existing cache entry. Resolved by forcing a full refetch rather
	// than fabricating a partial entry.
	ErrReconciliationMismatch = errors.New("no cache entry for pushed update")
)

// transportError wraps a fallback transport failure. It matches
// ErrTransportUnavailable under errors.Is while keeping the cause chain
// intact, so callers can still reach an *APIError with errors.As.
type transportError struct {
	cause error
}

func (e *transportError) Error() string {
	return "transport unavailable: " + e.cause.Error()
}

func (e *transportError) Is(target error) bool {
	return target == ErrTransportUnavailable
}

func (e *transportError) Unwrap() error {
	return e.cause
}
