package gatherly

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds how long a channel request waits for its
// correlated response before the transport selector falls back to REST.
const DefaultRequestTimeout = 3 * time.Second

// pendingRequest is a one-shot listener for a correlated response frame.
type pendingRequest struct {
	predicate func(json.RawMessage) bool
	ch        chan json.RawMessage
}

// bridge wraps the channel's fire-and-forget emissions in request/response
// semantics. The channel is not request-scoped: several requests for the
// same event name can be in flight at once, so each registers a predicate
// that picks its own response out of the stream. A listener is removed the
// moment it resolves, times out, or is cancelled; a response arriving
// after that is simply ignored.
type bridge struct {
	mu      sync.Mutex
	pending map[string][]*pendingRequest // response event -> in-flight listeners
}

func newBridge() *bridge {
	return &bridge{pending: make(map[string][]*pendingRequest)}
}

// expect registers a one-shot listener for respEvent. A nil predicate
// matches any payload.
func (b *bridge) expect(respEvent string, predicate func(json.RawMessage) bool) *pendingRequest {
	p := &pendingRequest{
		predicate: predicate,
		ch:        make(chan json.RawMessage, 1),
	}
	b.mu.Lock()
	b.pending[respEvent] = append(b.pending[respEvent], p)
	b.mu.Unlock()
	return p
}

// cancel removes a listener that resolved elsewhere or gave up.
func (b *bridge) cancel(respEvent string, p *pendingRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	listeners := b.pending[respEvent]
	for i, cand := range listeners {
		if cand == p {
			b.pending[respEvent] = append(listeners[:i], listeners[i+1:]...)
			break
		}
	}
	if len(b.pending[respEvent]) == 0 {
		delete(b.pending, respEvent)
	}
}

// resolve hands an inbound frame to the first matching listener and reports
// whether one consumed it. The listener is removed before delivery, so each
// request resolves at most once.
func (b *bridge) resolve(env Envelope) bool {
	b.mu.Lock()
	listeners := b.pending[env.Event]
	for i, p := range listeners {
		if p.predicate != nil && !p.predicate(env.Payload) {
			continue
		}
		b.pending[env.Event] = append(listeners[:i], listeners[i+1:]...)
		if len(b.pending[env.Event]) == 0 {
			delete(b.pending, env.Event)
		}
		b.mu.Unlock()
		p.ch <- env.Payload
		return true
	}
	b.mu.Unlock()
	return false
}

// Request emits cmd on the persistent channel and waits for the response
// event matched by predicate. It rejects with ErrRequestTimeout when no
// correlated response arrives within timeout (DefaultRequestTimeout when
// zero). The registered listener is removed on every exit path.
func (rt *RealtimeClient) Request(ctx context.Context, cmd Command, respEvent string, predicate func(json.RawMessage) bool, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = rt.config.RequestTimeout
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	p := rt.bridge.expect(respEvent, predicate)
	if err := rt.Send(ctx, cmd); err != nil {
		rt.bridge.cancel(respEvent, p)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-p.ch:
		return payload, nil
	case <-timer.C:
		rt.bridge.cancel(respEvent, p)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		rt.bridge.cancel(respEvent, p)
		return nil, ctx.Err()
	}
}

// requestAs issues a bridge request and decodes the response payload.
func requestAs[T any](ctx context.Context, rt *RealtimeClient, cmd Command, respEvent string, predicate func(json.RawMessage) bool) (*T, error) {
	payload, err := rt.Request(ctx, cmd, respEvent, predicate, 0)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](payload)
}

// payloadField extracts a single string field from a raw payload, for
// correlation predicates.
func payloadField(payload json.RawMessage, field string) string {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	var v string
	if err := json.Unmarshal(probe[field], &v); err != nil {
		return ""
	}
	return v
}

// matchThreadID builds a predicate correlating responses by thread_id.
func matchThreadID(threadID string) func(json.RawMessage) bool {
	return func(payload json.RawMessage) bool {
		return payloadField(payload, "thread_id") == threadID
	}
}

// matchRoomID builds a predicate correlating responses by room_id.
func matchRoomID(roomID string) func(json.RawMessage) bool {
	return func(payload json.RawMessage) bool {
		return payloadField(payload, "room_id") == roomID
	}
}
