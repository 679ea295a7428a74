package gatherly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// wsHandler is a scripted channel peer: it confirms the handshake and then
// answers frames through respond.
func wsHandler(t *testing.T, respond func(cmd Command) *Envelope) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		auth, _ := json.Marshal(Envelope{Event: "authenticated"})
		if err := conn.Write(ctx, websocket.MessageText, auth); err != nil {
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var cmd Command
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			if respond == nil {
				continue
			}
			if env := respond(cmd); env != nil {
				out, _ := json.Marshal(env)
				if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
					return
				}
			}
		}
	}
}

func newRealtimeTestClient(t *testing.T, respond func(cmd Command) *Envelope, dispatcher *Dispatcher) *RealtimeClient {
	t.Helper()
	srv := httptest.NewServer(wsHandler(t, respond))
	t.Cleanup(srv.Close)

	session := NewSession()
	session.SetToken("test-token")
	session.SetUser(UserSnapshot{ID: "me"})

	rt := NewRealtimeClient(srv.URL, session, dispatcher, nil)
	t.Cleanup(func() { rt.Disconnect() })
	return rt
}

func TestRealtimeConnect(t *testing.T) {
	t.Run("handshake reaches connected state", func(t *testing.T) {
		rt := newRealtimeTestClient(t, nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := rt.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if err := rt.WaitReady(ctx); err != nil {
			t.Fatalf("wait ready failed: %v", err)
		}
		if rt.State() != StateConnected {
			t.Fatalf("expected connected, got %s", rt.State())
		}
	})

	t.Run("unauthenticated session is rejected locally", func(t *testing.T) {
		rt := NewRealtimeClient("http://127.0.0.1:1", NewSession(), nil, nil)
		if err := rt.Connect(context.Background()); !errors.Is(err, ErrAuthenticationRequired) {
			t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
		}
	})

	t.Run("failed connect settles waiters", func(t *testing.T) {
		session := NewSession()
		session.SetToken("test-token")
		session.SetUser(UserSnapshot{ID: "me"})
		rt := NewRealtimeClient("http://127.0.0.1:1", session, nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- rt.WaitReady(ctx) }()
		time.Sleep(20 * time.Millisecond)

		if err := rt.Connect(ctx); err == nil {
			t.Fatal("expected dial failure")
		}

		select {
		case err := <-errCh:
			if err == nil {
				t.Fatal("expected the dial error, got nil")
			}
		case <-time.After(time.Second):
			t.Fatal("waiter never settled")
		}
		if rt.State() != StateDisconnected {
			t.Fatalf("expected disconnected, got %s", rt.State())
		}
	})

	t.Run("disconnect settles waiters", func(t *testing.T) {
		rt := newRealtimeTestClient(t, nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- rt.WaitReady(ctx) }()

		time.Sleep(20 * time.Millisecond)
		rt.Disconnect()

		select {
		case err := <-errCh:
			if !errors.Is(err, ErrTransportUnavailable) {
				t.Fatalf("expected ErrTransportUnavailable, got %v", err)
			}
		case <-ctx.Done():
			t.Fatal("waiter never settled")
		}
	})
}

func TestRealtimeRequest(t *testing.T) {
	t.Run("round trip resolves the pending request", func(t *testing.T) {
		respond := func(cmd Command) *Envelope {
			if cmd.Event != EventGetThreads {
				return nil
			}
			payload, _ := json.Marshal(ThreadList{Threads: []Thread{testThread("t1", "alice", "")}})
			return &Envelope{Event: EventThreads, Payload: payload}
		}
		rt := newRealtimeTestClient(t, respond, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		list, err := requestAs[ThreadList](ctx, rt, Command{Event: EventGetThreads}, EventThreads, nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if len(list.Threads) != 1 || list.Threads[0].ID != "t1" {
			t.Fatalf("unexpected response: %+v", list)
		}
	})

	t.Run("silent server times out", func(t *testing.T) {
		rt := newRealtimeTestClient(t, nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		_, err := rt.Request(ctx, Command{Event: EventGetThreads}, EventThreads, nil, 50*time.Millisecond)
		if !errors.Is(err, ErrRequestTimeout) {
			t.Fatalf("expected ErrRequestTimeout, got %v", err)
		}
	})

	t.Run("unclaimed frames reach the dispatcher", func(t *testing.T) {
		store := NewStore("me")
		store.ApplyThreadList([]Thread{testThread("t1", "alice", "")})
		disp := NewDispatcher(store, nil)

		respond := func(cmd Command) *Envelope {
			if cmd.Event != EventJoinUserRoom {
				return nil
			}
			// Unsolicited push right after the bootstrap joins.
			payload, _ := json.Marshal(testMessage("m1", "t1", "alice", "hi", "2026-03-01T10:00:00Z"))
			return &Envelope{Event: EventNewDirectMessage, Payload: payload}
		}
		rt := newRealtimeTestClient(t, respond, disp)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(store.Messages("t1")) == 1 {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("push never reached the store")
	})
}
