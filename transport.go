package gatherly

import (
	"context"
	"errors"
)

// runWithFallback is the transport selector. It runs the channel variant
// of an operation when the persistent channel is connected, and falls back
// to the REST transport when the channel is down or the channel attempt
// fails (timeout included). The caller sees one result either way.
//
// A fallback failure is wrapped in ErrTransportUnavailable so callers can
// distinguish "both transports exhausted" from a single transport error.
func runWithFallback[T any](
	ctx context.Context,
	m *Messenger,
	channel func(context.Context) (*T, error),
	fallback func(context.Context) (*T, error),
) (*T, error) {
	if !m.session.Authenticated() {
		return nil, ErrAuthenticationRequired
	}

	if m.realtime.State() == StateConnected {
		res, err := channel(ctx)
		if err == nil {
			return res, nil
		}
		m.log.Warn("channel request failed, using fallback", "err", err)
	}

	res, err := fallback(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthenticationRequired) {
			return nil, err
		}
		return nil, &transportError{cause: err}
	}
	return res, nil
}
