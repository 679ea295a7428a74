package gatherly

import (
	"strings"
	"sync"
	"time"
)

// provisionalMatchWindow bounds how old a provisional entry may be for a
// pushed copy of the same message to claim it (thread + sender + content
// match). Outside the window the push is treated as an independent message.
const provisionalMatchWindow = 10 * time.Second

// provisionalRef tracks an optimistic message awaiting confirmation.
type provisionalRef struct {
	threadID string
	senderID string
	content  string
	at       time.Time
}

// Store is the local read-model of threads and chat rooms, and the single
// writer over it. Every inbound path, pushed events from the dispatcher and
// command responses from the transport selector alike, funnels through its Apply
// methods; reads hand out copies. Because pushes and responses can
// interleave, the Apply methods are idempotent merges (dedup on server id,
// replace-not-append for provisional entries) instead of relying on caller
// ordering.
type Store struct {
	mu        sync.RWMutex
	selfID    string
	threads   []*Thread          // most-recent-first
	byID      map[string]*Thread // thread id -> entry in threads
	messages  map[string][]Message
	rooms     map[string]*RoomState
	pending   map[string]provisionalRef // local id -> ref
	nowFn     func() time.Time
}

// NewStore creates an empty store. selfID is the current user's id; it
// decides unread counting and provisional-claim matching and may be set
// later via SetSelfID once the session identity is known.
func NewStore(selfID string) *Store {
	return &Store{
		selfID:   selfID,
		byID:     make(map[string]*Thread),
		messages: make(map[string][]Message),
		rooms:    make(map[string]*RoomState),
		pending:  make(map[string]provisionalRef),
		nowFn:    time.Now,
	}
}

// SetSelfID updates the current-user id used for unread counting and
// provisional matching.
func (s *Store) SetSelfID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = id
}

// ============================================================================
// Thread list
// ============================================================================

// ApplyThreadList replaces the cached thread list with an authoritative
// fetch. Server order (most-recent-first) is preserved. Message pages
// already loaded for surviving threads are kept.
func (s *Store) ApplyThreadList(threads []Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = s.threads[:0]
	s.byID = make(map[string]*Thread, len(threads))
	for i := range threads {
		t := threads[i]
		s.threads = append(s.threads, &t)
		s.byID[t.ID] = &t
	}
	for id := range s.messages {
		if _, ok := s.byID[id]; !ok {
			delete(s.messages, id)
		}
	}
	for localID, ref := range s.pending {
		if _, ok := s.byID[ref.threadID]; !ok {
			delete(s.pending, localID)
		}
	}
}

// ApplyThread upserts a single thread (e.g. from a create response) at the
// front of the list.
func (s *Store) ApplyThread(thread Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[thread.ID]; ok {
		*existing = thread
		s.moveToFrontLocked(thread.ID)
		return
	}
	t := thread
	s.threads = append([]*Thread{&t}, s.threads...)
	s.byID[t.ID] = &t
}

// RemoveThread soft-removes a thread from the active list ("clear"). The
// server still owns history; the thread reappears when a new message
// arrives, via the not-found refetch path in ApplyIncomingMessage.
func (s *Store) RemoveThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[threadID]; !ok {
		return
	}
	delete(s.byID, threadID)
	delete(s.messages, threadID)
	for i, t := range s.threads {
		if t.ID == threadID {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			break
		}
	}
}

// Threads returns a copy of the cached thread list, most-recent-first.
func (s *Store) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, *t)
	}
	return out
}

// Thread returns a copy of one thread, if cached.
func (s *Store) Thread(threadID string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[threadID]
	if !ok {
		return Thread{}, false
	}
	return *t, true
}

// ============================================================================
// Messages
// ============================================================================

// ApplyMessagePage replaces a thread's cached messages with a freshly
// loaded history page. Live inserts land in the most recently loaded page.
func (s *Store) ApplyMessagePage(page MessagePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(page.Messages))
	copy(msgs, page.Messages)
	s.messages[page.ThreadID] = msgs
	if t, ok := s.byID[page.ThreadID]; ok {
		t.OtherUser = page.OtherUser
		t.IsEncrypted = page.IsEncrypted
	}
}

// ApplyIncomingMessage merges one inbound or outbound direct message into
// the cache. The owning thread moves to the front of the list and its
// denormalized last-message fields update. If the thread is absent (e.g. it
// was cleared), no entry is fabricated: a partial reconstruction would
// carry stale shared_event_ids. ErrReconciliationMismatch tells the
// caller to refetch the full list.
func (s *Store) ApplyIncomingMessage(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[msg.ThreadID]
	if !ok {
		return ErrReconciliationMismatch
	}

	inserted := s.mergeThreadMessageLocked(msg)

	last := msg
	t.LastMessage = &last
	t.LastMessageAt = msg.CreatedAt
	if inserted && msg.SenderID != s.selfID {
		t.UnreadCount++
	}
	s.moveToFrontLocked(msg.ThreadID)
	return nil
}

// mergeThreadMessageLocked inserts msg into its thread's loaded page,
// claiming a matching provisional entry first and deduplicating on server
// id. Reports whether the message was new to the cache.
func (s *Store) mergeThreadMessageLocked(msg Message) bool {
	msgs := s.messages[msg.ThreadID]

	// Dedup: at most one message per server id.
	for _, m := range msgs {
		if m.ID == msg.ID {
			return false
		}
	}

	// A push for our own just-sent message claims the provisional entry
	// before the command response does; the later reconciliation then
	// becomes a no-op dedup above.
	if msg.SenderID == s.selfID && msg.SenderID != "" {
		if localID, ok := s.matchProvisionalLocked(msg); ok {
			s.replaceMessageLocked(msg.ThreadID, localID, msg)
			return false
		}
	}

	s.messages[msg.ThreadID] = append(msgs, msg)
	return true
}

// matchProvisionalLocked finds a provisional entry for the same thread,
// sender, and content within the match window.
func (s *Store) matchProvisionalLocked(msg Message) (string, bool) {
	now := s.nowFn()
	for localID, ref := range s.pending {
		if ref.threadID != msg.ThreadID || ref.senderID != msg.SenderID {
			continue
		}
		if ref.content != msg.Content {
			continue
		}
		if now.Sub(ref.at) > provisionalMatchWindow {
			continue
		}
		return localID, true
	}
	return "", false
}

// replaceMessageLocked swaps the entry with the given id for the
// authoritative message and forgets the provisional ref.
func (s *Store) replaceMessageLocked(threadID, oldID string, msg Message) {
	delete(s.pending, oldID)
	msgs := s.messages[threadID]
	for i, m := range msgs {
		if m.ID == oldID {
			msgs[i] = msg
			return
		}
	}
	s.messages[threadID] = append(msgs, msg)
}

// ApplyReadReceipt flips the thread's messages to READ, skipping any
// authored by the reader: read receipts never apply to one's own messages.
// When the reader is the current user, the thread's unread count resets as
// well.
func (s *Store) ApplyReadReceipt(threadID, readerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[threadID]
	for i := range msgs {
		// Unconfirmed messages are not on the server yet; a receipt
		// cannot cover them.
		if msgs[i].SenderID != readerID && !isProvisionalID(msgs[i].ID) {
			msgs[i].Status = StatusRead
		}
	}
	if t, ok := s.byID[threadID]; ok && readerID == s.selfID {
		t.UnreadCount = 0
	}
}

// Messages returns a copy of a thread's loaded message page.
func (s *Store) Messages(threadID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ============================================================================
// Optimistic entries
// ============================================================================

// AppendProvisional adds an optimistic, unconfirmed message to its thread's
// page and records it for later reconciliation. The thread moves to the
// front as for any outbound message.
func (s *Store) AppendProvisional(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[msg.ID] = provisionalRef{
		threadID: msg.ThreadID,
		senderID: msg.SenderID,
		content:  msg.Content,
		at:       s.nowFn(),
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
	if t, ok := s.byID[msg.ThreadID]; ok {
		last := msg
		t.LastMessage = &last
		t.LastMessageAt = msg.CreatedAt
		s.moveToFrontLocked(msg.ThreadID)
	}
}

// ReconcileProvisional replaces the provisional entry with the
// authoritative message from the command response. If a pushed duplicate
// already claimed the entry this is a no-op dedup.
func (s *Store) ReconcileProvisional(threadID, localID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[localID]; !ok {
		// Already claimed by the push path; just make sure the server id
		// is present exactly once.
		s.mergeThreadMessageLocked(msg)
	} else {
		s.replaceMessageLocked(threadID, localID, msg)
	}
	if t, ok := s.byID[threadID]; ok {
		if t.LastMessage != nil && (t.LastMessage.ID == localID || t.LastMessage.ID == msg.ID) {
			last := msg
			t.LastMessage = &last
			t.LastMessageAt = msg.CreatedAt
		}
	}
}

// DropProvisional rolls back an optimistic entry after a terminal send
// failure. There is no retry queue: the failure surfaces to the caller.
func (s *Store) DropProvisional(threadID, localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, localID)
	msgs := s.messages[threadID]
	for i, m := range msgs {
		if m.ID == localID {
			s.messages[threadID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	t, ok := s.byID[threadID]
	if !ok || t.LastMessage == nil || t.LastMessage.ID != localID {
		return
	}
	// Restore the denormalized pointer from the remaining page.
	rest := s.messages[threadID]
	if len(rest) == 0 {
		t.LastMessage = nil
		return
	}
	last := rest[len(rest)-1]
	t.LastMessage = &last
	t.LastMessageAt = last.CreatedAt
}

// ============================================================================
// Chat rooms
// ============================================================================

// ApplyRoomJoined seeds a room's cache from a join response (or an
// unsolicited re-join after reconnect).
func (s *Store) ApplyRoomJoined(join RoomJoin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[join.RoomID]
	if r == nil {
		r = &RoomState{Room: ChatRoom{ID: join.RoomID}}
		s.rooms[join.RoomID] = r
	}
	r.Room.UserCount = join.UserCount
	r.Messages = make([]Message, len(join.Messages))
	copy(r.Messages, join.Messages)
}

// ApplyRoom upserts room metadata from chat_room_updated / chat_room_created.
func (s *Store) ApplyRoom(room ChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[room.ID]
	if r == nil {
		s.rooms[room.ID] = &RoomState{Room: room}
		return
	}
	r.Room = room
}

// ApplyRoomMessage appends a chat-room message, deduplicating on server id.
func (s *Store) ApplyRoomMessage(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[msg.RoomID]
	if r == nil {
		return ErrReconciliationMismatch
	}
	for _, m := range r.Messages {
		if m.ID == msg.ID {
			return nil
		}
	}
	r.Messages = append(r.Messages, msg)
	return nil
}

// ApplyRoomModeration rewrites a moderated message's content in place.
func (s *Store) ApplyRoomModeration(n ModerationNotice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[n.RoomID]
	if r == nil {
		return
	}
	for i := range r.Messages {
		if r.Messages[i].ID == n.MessageID {
			r.Messages[i].Content = n.Content
			return
		}
	}
}

// RemoveRoomMessage drops a removed message from the room cache.
func (s *Store) RemoveRoomMessage(roomID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return
	}
	for i, m := range r.Messages {
		if m.ID == messageID {
			r.Messages = append(r.Messages[:i], r.Messages[i+1:]...)
			return
		}
	}
}

// ApplyRoomUserCount updates a room's live participant count.
func (s *Store) ApplyRoomUserCount(roomID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.rooms[roomID]; r != nil {
		r.Room.UserCount = count
	}
}

// RemoveRoom forgets a room after leaving it.
func (s *Store) RemoveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Room returns a copy of a joined room's cached state.
func (s *Store) Room(roomID string) (RoomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return RoomState{}, false
	}
	out := RoomState{Room: r.Room, Messages: make([]Message, len(r.Messages))}
	copy(out.Messages, r.Messages)
	return out, true
}

// ============================================================================
// Internal
// ============================================================================

func (s *Store) moveToFrontLocked(threadID string) {
	for i, t := range s.threads {
		if t.ID == threadID {
			if i == 0 {
				return
			}
			copy(s.threads[1:i+1], s.threads[:i])
			s.threads[0] = t
			return
		}
	}
}

// nowRFC3339 formats the current wall clock the way the wire does.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// isProvisionalID reports whether a message id was generated locally.
func isProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalIDPrefix)
}
