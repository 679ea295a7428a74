package gatherly

import (
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testThread(id, otherID, lastAt string) Thread {
	return Thread{
		ID:            id,
		OtherUser:     UserSnapshot{ID: otherID, Username: "user-" + otherID},
		LastMessageAt: lastAt,
	}
}

func testMessage(id, threadID, senderID, content, createdAt string) Message {
	return Message{
		ID:        id,
		ThreadID:  threadID,
		SenderID:  senderID,
		Content:   content,
		Status:    StatusSent,
		CreatedAt: createdAt,
	}
}

// ============================================================================
// Thread list
// ============================================================================

func TestStoreThreadOrdering(t *testing.T) {
	t.Run("incoming message moves thread to front", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyThreadList([]Thread{
			testThread("t1", "alice", "2026-03-01T10:00:00Z"),
			testThread("t2", "bob", "2026-03-01T11:00:00Z"),
		})

		msg := testMessage("m1", "t2", "bob", "hi", "2026-03-01T12:00:00Z")
		if err := s.ApplyIncomingMessage(msg); err != nil {
			t.Fatalf("apply failed: %v", err)
		}

		threads := s.Threads()
		if len(threads) != 2 {
			t.Fatalf("expected 2 threads, got %d", len(threads))
		}
		if threads[0].ID != "t2" || threads[1].ID != "t1" {
			t.Fatalf("expected order [t2 t1], got [%s %s]", threads[0].ID, threads[1].ID)
		}
		if threads[0].LastMessageAt != "2026-03-01T12:00:00Z" {
			t.Fatalf("last_message_at not updated: %s", threads[0].LastMessageAt)
		}
		if threads[0].LastMessage == nil || threads[0].LastMessage.ID != "m1" {
			t.Fatal("last_message pointer not updated")
		}
	})

	t.Run("thread list replace keeps loaded pages for survivors", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyThreadList([]Thread{testThread("t1", "alice", ""), testThread("t2", "bob", "")})
		s.ApplyMessagePage(MessagePage{
			ThreadID: "t1",
			Messages: []Message{testMessage("m1", "t1", "alice", "hello", "2026-03-01T10:00:00Z")},
		})

		s.ApplyThreadList([]Thread{testThread("t1", "alice", "")})
		if got := s.Messages("t1"); len(got) != 1 {
			t.Fatalf("expected surviving page, got %d messages", len(got))
		}
		if got := s.Messages("t2"); len(got) != 0 {
			t.Fatalf("expected pruned page for dropped thread, got %d messages", len(got))
		}
	})
}

func TestStoreIncomingMessage(t *testing.T) {
	t.Run("duplicate ids are merged once", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyThreadList([]Thread{testThread("t1", "alice", "")})

		msg := testMessage("m1", "t1", "alice", "hi", "2026-03-01T10:00:00Z")
		if err := s.ApplyIncomingMessage(msg); err != nil {
			t.Fatalf("first apply failed: %v", err)
		}
		if err := s.ApplyIncomingMessage(msg); err != nil {
			t.Fatalf("second apply failed: %v", err)
		}

		if got := s.Messages("t1"); len(got) != 1 {
			t.Fatalf("expected 1 message after duplicate push, got %d", len(got))
		}
		th, _ := s.Thread("t1")
		if th.UnreadCount != 1 {
			t.Fatalf("expected unread 1, got %d", th.UnreadCount)
		}
	})

	t.Run("own message does not bump unread", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyThreadList([]Thread{testThread("t1", "alice", "")})

		if err := s.ApplyIncomingMessage(testMessage("m1", "t1", "me", "hi", "2026-03-01T10:00:00Z")); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		th, _ := s.Thread("t1")
		if th.UnreadCount != 0 {
			t.Fatalf("expected unread 0 for own message, got %d", th.UnreadCount)
		}
	})

	t.Run("unknown thread is a reconciliation mismatch", func(t *testing.T) {
		s := NewStore("me")
		err := s.ApplyIncomingMessage(testMessage("m1", "ghost", "alice", "hi", "2026-03-01T10:00:00Z"))
		if !errors.Is(err, ErrReconciliationMismatch) {
			t.Fatalf("expected ErrReconciliationMismatch, got %v", err)
		}
		if _, ok := s.Thread("ghost"); ok {
			t.Fatal("store must not fabricate a thread from a push")
		}
	})
}

// ============================================================================
// Read receipts
// ============================================================================

func TestStoreReadReceipts(t *testing.T) {
	setup := func() *Store {
		s := NewStore("me")
		s.ApplyThreadList([]Thread{testThread("t1", "alice", "")})
		s.ApplyMessagePage(MessagePage{
			ThreadID: "t1",
			Messages: []Message{
				testMessage("m1", "t1", "me", "mine", "2026-03-01T10:00:00Z"),
				testMessage("m2", "t1", "alice", "theirs", "2026-03-01T10:01:00Z"),
			},
		})
		return s
	}

	t.Run("other participant reading flips only my messages", func(t *testing.T) {
		s := setup()
		s.ApplyReadReceipt("t1", "alice")

		msgs := s.Messages("t1")
		if msgs[0].Status != StatusRead {
			t.Fatal("my message should be read")
		}
		if msgs[1].Status == StatusRead {
			t.Fatal("reader's own message must not flip")
		}
	})

	t.Run("self reading resets unread count", func(t *testing.T) {
		s := setup()
		s.ApplyIncomingMessage(testMessage("m3", "t1", "alice", "more", "2026-03-01T10:02:00Z"))
		th, _ := s.Thread("t1")
		if th.UnreadCount != 1 {
			t.Fatalf("precondition: unread 1, got %d", th.UnreadCount)
		}

		s.ApplyReadReceipt("t1", "me")
		th, _ = s.Thread("t1")
		if th.UnreadCount != 0 {
			t.Fatalf("expected unread reset, got %d", th.UnreadCount)
		}
		msgs := s.Messages("t1")
		for _, m := range msgs {
			if m.SenderID == "me" && m.Status == StatusRead {
				t.Fatal("own messages must not flip on own receipt")
			}
		}
	})
}

// ============================================================================
// Provisional entries
// ============================================================================

func TestStoreProvisional(t *testing.T) {
	newStoreWithThread := func() *Store {
		s := NewStore("me")
		s.ApplyThreadList([]Thread{testThread("t1", "alice", "")})
		return s
	}

	t.Run("reconcile replaces in place", func(t *testing.T) {
		s := newStoreWithThread()
		local := Message{ID: "local-abc", ThreadID: "t1", SenderID: "me", Content: "hi", Pending: true, CreatedAt: nowRFC3339()}
		s.AppendProvisional(local)

		server := testMessage("42", "t1", "me", "hi", "2026-03-01T10:00:00Z")
		s.ReconcileProvisional("t1", "local-abc", server)

		msgs := s.Messages("t1")
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
		if msgs[0].ID != "42" || msgs[0].Pending {
			t.Fatalf("expected confirmed message 42, got %+v", msgs[0])
		}
		th, _ := s.Thread("t1")
		if th.LastMessage == nil || th.LastMessage.ID != "42" {
			t.Fatal("last_message should track the confirmed id")
		}
	})

	t.Run("push claims provisional before the response", func(t *testing.T) {
		s := newStoreWithThread()
		local := Message{ID: "local-abc", ThreadID: "t1", SenderID: "me", Content: "hi", Pending: true, CreatedAt: nowRFC3339()}
		s.AppendProvisional(local)

		// Server echo of our own send arrives over the push path first.
		server := testMessage("42", "t1", "me", "hi", "2026-03-01T10:00:00Z")
		if err := s.ApplyIncomingMessage(server); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if msgs := s.Messages("t1"); len(msgs) != 1 || msgs[0].ID != "42" {
			t.Fatalf("push should replace the provisional entry, got %+v", msgs)
		}

		// The late command response must not duplicate it.
		s.ReconcileProvisional("t1", "local-abc", server)
		if msgs := s.Messages("t1"); len(msgs) != 1 {
			t.Fatalf("expected 1 message after late reconcile, got %d", len(msgs))
		}
	})

	t.Run("stale provisional is not claimed by unrelated push", func(t *testing.T) {
		s := newStoreWithThread()
		fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		s.nowFn = func() time.Time { return fixed }
		s.AppendProvisional(Message{ID: "local-old", ThreadID: "t1", SenderID: "me", Content: "hi", Pending: true})

		// Same content, but far outside the match window.
		s.nowFn = func() time.Time { return fixed.Add(provisionalMatchWindow + time.Second) }
		if err := s.ApplyIncomingMessage(testMessage("42", "t1", "me", "hi", "2026-03-01T10:05:00Z")); err != nil {
			t.Fatalf("apply failed: %v", err)
		}

		if msgs := s.Messages("t1"); len(msgs) != 2 {
			t.Fatalf("expected stale provisional plus new message, got %d", len(msgs))
		}
	})

	t.Run("thread list refresh purges refs for dropped threads", func(t *testing.T) {
		s := newStoreWithThread()
		s.AppendProvisional(Message{ID: "local-abc", ThreadID: "t1", SenderID: "me", Content: "hi", Pending: true, CreatedAt: nowRFC3339()})

		// t1 is gone from the authoritative list; its provisional ref must
		// not linger and claim a later echo in some other thread.
		s.ApplyThreadList([]Thread{testThread("t2", "bob", "")})

		s.mu.RLock()
		n := len(s.pending)
		s.mu.RUnlock()
		if n != 0 {
			t.Fatalf("expected no provisional refs after refresh, got %d", n)
		}
	})

	t.Run("drop rolls back the optimistic entry", func(t *testing.T) {
		s := newStoreWithThread()
		s.ApplyMessagePage(MessagePage{
			ThreadID: "t1",
			Messages: []Message{testMessage("m1", "t1", "alice", "prev", "2026-03-01T09:00:00Z")},
		})
		s.AppendProvisional(Message{ID: "local-abc", ThreadID: "t1", SenderID: "me", Content: "hi", Pending: true, CreatedAt: nowRFC3339()})

		s.DropProvisional("t1", "local-abc")

		msgs := s.Messages("t1")
		if len(msgs) != 1 || msgs[0].ID != "m1" {
			t.Fatalf("expected rollback to previous page, got %+v", msgs)
		}
		th, _ := s.Thread("t1")
		if th.LastMessage == nil || th.LastMessage.ID != "m1" {
			t.Fatal("last_message should be restored after rollback")
		}
	})
}

// ============================================================================
// Chat rooms
// ============================================================================

func TestStoreRooms(t *testing.T) {
	t.Run("join seeds history and count", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyRoomJoined(RoomJoin{
			RoomID:    "r1",
			Messages:  []Message{{ID: "m1", RoomID: "r1", SenderID: "alice", Content: "hi"}},
			UserCount: 7,
		})
		state, ok := s.Room("r1")
		if !ok {
			t.Fatal("room not cached")
		}
		if len(state.Messages) != 1 || state.Room.UserCount != 7 {
			t.Fatalf("unexpected state: %+v", state)
		}
	})

	t.Run("room message dedup and unknown room mismatch", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyRoomJoined(RoomJoin{RoomID: "r1"})

		msg := Message{ID: "m1", RoomID: "r1", SenderID: "alice", Content: "hi"}
		if err := s.ApplyRoomMessage(msg); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if err := s.ApplyRoomMessage(msg); err != nil {
			t.Fatalf("duplicate apply failed: %v", err)
		}
		state, _ := s.Room("r1")
		if len(state.Messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(state.Messages))
		}

		err := s.ApplyRoomMessage(Message{ID: "m2", RoomID: "ghost"})
		if !errors.Is(err, ErrReconciliationMismatch) {
			t.Fatalf("expected ErrReconciliationMismatch, got %v", err)
		}
	})

	t.Run("moderation rewrites content in place", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyRoomJoined(RoomJoin{
			RoomID:   "r1",
			Messages: []Message{{ID: "m1", RoomID: "r1", Content: "rude"}},
		})
		s.ApplyRoomModeration(ModerationNotice{RoomID: "r1", MessageID: "m1", Content: "[removed by moderator]"})

		state, _ := s.Room("r1")
		if state.Messages[0].Content != "[removed by moderator]" {
			t.Fatalf("content not rewritten: %q", state.Messages[0].Content)
		}
	})

	t.Run("removal drops the message", func(t *testing.T) {
		s := NewStore("me")
		s.ApplyRoomJoined(RoomJoin{
			RoomID:   "r1",
			Messages: []Message{{ID: "m1", RoomID: "r1"}, {ID: "m2", RoomID: "r1"}},
		})
		s.RemoveRoomMessage("r1", "m1")

		state, _ := s.Room("r1")
		if len(state.Messages) != 1 || state.Messages[0].ID != "m2" {
			t.Fatalf("unexpected messages after removal: %+v", state.Messages)
		}
	})
}
