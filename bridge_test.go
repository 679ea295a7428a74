package gatherly

import (
	"encoding/json"
	"testing"
)

func envelope(event, payload string) Envelope {
	return Envelope{Event: event, Payload: json.RawMessage(payload)}
}

func TestBridge(t *testing.T) {
	t.Run("response resolves matching listener", func(t *testing.T) {
		b := newBridge()
		p := b.expect(EventThreads, nil)

		if !b.resolve(envelope(EventThreads, `{"threads":[]}`)) {
			t.Fatal("expected resolution")
		}
		select {
		case payload := <-p.ch:
			if string(payload) != `{"threads":[]}` {
				t.Fatalf("wrong payload: %s", payload)
			}
		default:
			t.Fatal("payload not delivered")
		}
	})

	t.Run("predicate picks the right in-flight request", func(t *testing.T) {
		b := newBridge()
		p1 := b.expect(EventMessages, matchThreadID("t1"))
		p2 := b.expect(EventMessages, matchThreadID("t2"))

		if !b.resolve(envelope(EventMessages, `{"thread_id":"t2","messages":[]}`)) {
			t.Fatal("expected resolution for t2")
		}

		select {
		case <-p1.ch:
			t.Fatal("t1 listener must not receive t2's response")
		default:
		}
		select {
		case payload := <-p2.ch:
			if payloadField(payload, "thread_id") != "t2" {
				t.Fatalf("wrong payload: %s", payload)
			}
		default:
			t.Fatal("t2 listener not resolved")
		}
	})

	t.Run("listener resolves at most once", func(t *testing.T) {
		b := newBridge()
		p := b.expect(EventThreads, nil)

		if !b.resolve(envelope(EventThreads, `{}`)) {
			t.Fatal("first resolve should claim the listener")
		}
		if b.resolve(envelope(EventThreads, `{}`)) {
			t.Fatal("second response has no listener and must be unclaimed")
		}
		<-p.ch
	})

	t.Run("cancelled listener ignores late response", func(t *testing.T) {
		b := newBridge()
		p := b.expect(EventThreads, nil)
		b.cancel(EventThreads, p)

		if b.resolve(envelope(EventThreads, `{}`)) {
			t.Fatal("cancelled listener must not resolve")
		}
	})

	t.Run("unrelated event is unclaimed", func(t *testing.T) {
		b := newBridge()
		b.expect(EventThreads, nil)

		if b.resolve(envelope(EventNewDirectMessage, `{"id":"m1"}`)) {
			t.Fatal("push event must fall through to the dispatcher")
		}
	})
}

func TestCorrelationPredicates(t *testing.T) {
	t.Run("matchSentMessage requires thread and content", func(t *testing.T) {
		pred := matchSentMessage("t1", "me", "hello")

		if !pred(json.RawMessage(`{"id":"42","thread_id":"t1","sender_id":"me","content":"hello"}`)) {
			t.Fatal("expected match")
		}
		if pred(json.RawMessage(`{"id":"43","thread_id":"t1","sender_id":"me","content":"other"}`)) {
			t.Fatal("different content must not match")
		}
		if pred(json.RawMessage(`{"id":"44","thread_id":"t2","sender_id":"me","content":"hello"}`)) {
			t.Fatal("different thread must not match")
		}
	})

	t.Run("payloadField tolerates malformed payloads", func(t *testing.T) {
		if payloadField(json.RawMessage(`not json`), "thread_id") != "" {
			t.Fatal("expected empty field for malformed payload")
		}
		if payloadField(json.RawMessage(`{"thread_id":7}`), "thread_id") != "" {
			t.Fatal("expected empty field for non-string value")
		}
	})
}
