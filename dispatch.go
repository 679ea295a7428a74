package gatherly

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ============================================================================
// Callback registries
// ============================================================================

// Registry maps entity IDs to a single callback each. Registering for an
// ID replaces the previous callback; the UI surface viewing an entity owns
// its subscription, so last registration wins.
type Registry[C any] struct {
	mu        sync.Mutex
	callbacks map[string]C
}

// NewRegistry creates an empty registry.
func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{callbacks: make(map[string]C)}
}

// Register installs the callback for an entity, replacing any previous one.
func (r *Registry[C]) Register(id string, cb C) {
	r.mu.Lock()
	r.callbacks[id] = cb
	r.mu.Unlock()
}

// Unregister removes the callback for an entity. Unknown IDs are a no-op.
func (r *Registry[C]) Unregister(id string) {
	r.mu.Lock()
	delete(r.callbacks, id)
	r.mu.Unlock()
}

func (r *Registry[C]) get(id string) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[id]
	return cb, ok
}

// ============================================================================
// Event unions
// ============================================================================

// ThreadEventType discriminates ThreadEvent.
type ThreadEventType string

const (
	ThreadNewMessage   ThreadEventType = "new_message"
	ThreadMessagesRead ThreadEventType = "messages_read"
	ThreadTyping       ThreadEventType = "typing"
)

// ThreadEvent is delivered to the callback registered for a thread after
// the update has been applied to the store.
type ThreadEvent struct {
	Type     ThreadEventType
	ThreadID string
	Message  *Message // set for ThreadNewMessage
	ReaderID string   // set for ThreadMessagesRead
	UserID   string   // set for ThreadTyping
	IsTyping bool     // set for ThreadTyping
}

// RoomEventType discriminates RoomEvent.
type RoomEventType string

const (
	RoomNewMessage       RoomEventType = "new_message"
	RoomMessageModerated RoomEventType = "message_moderated"
	RoomMessageRemoved   RoomEventType = "message_removed"
	RoomUserCountChanged RoomEventType = "user_count"
	RoomUpdated          RoomEventType = "room_updated"
)

// RoomEvent is delivered to the callback registered for a chat room after
// the update has been applied to the store.
type RoomEvent struct {
	Type      RoomEventType
	RoomID    string
	Message   *Message // set for RoomNewMessage
	MessageID string   // set for moderated/removed
	Content   string   // redacted content, set for RoomMessageModerated
	UserCount int      // set for RoomUserCountChanged
	Room      *ChatRoom // set for RoomUpdated
}

// ThreadCallback receives thread events. Invoked synchronously from the
// dispatch path, so it must not block.
type ThreadCallback func(ThreadEvent)

// RoomCallback receives chat room events under the same contract.
type RoomCallback func(RoomEvent)

// ============================================================================
// Dispatcher
// ============================================================================

// Dispatcher routes unsolicited server pushes: decode the payload, apply
// it to the store, then invoke the callback registered for the affected
// entity. Store-first ordering means a callback always observes the cache
// already reflecting the event it describes.
//
// A push referencing a thread or room the store has never seen means the
// cache diverged from the server; the dispatcher triggers onRefetch rather
// than fabricating an entry from partial data.
type Dispatcher struct {
	store   *Store
	threads *Registry[ThreadCallback]
	rooms   *Registry[RoomCallback]
	watcher *TypingWatcher

	// onRefetch repairs a diverged cache, normally by re-fetching the
	// thread list. Set by the Messenger.
	onRefetch func()

	log *slog.Logger
}

// NewDispatcher creates a dispatcher over the store. logger may be nil.
func NewDispatcher(store *Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		store:   store,
		threads: NewRegistry[ThreadCallback](),
		rooms:   NewRegistry[RoomCallback](),
		log:     logger,
	}
	d.watcher = NewTypingWatcher(DefaultTypingDecay, func(threadID string, isTyping bool) {
		d.emitThread(threadID, ThreadEvent{
			Type:     ThreadTyping,
			ThreadID: threadID,
			IsTyping: isTyping,
		})
	})
	return d
}

// OnThread registers the callback for a thread's events.
func (d *Dispatcher) OnThread(threadID string, cb ThreadCallback) {
	d.threads.Register(threadID, cb)
}

// OffThread removes a thread's callback.
func (d *Dispatcher) OffThread(threadID string) {
	d.threads.Unregister(threadID)
}

// OnRoom registers the callback for a chat room's events.
func (d *Dispatcher) OnRoom(roomID string, cb RoomCallback) {
	d.rooms.Register(roomID, cb)
}

// OffRoom removes a room's callback.
func (d *Dispatcher) OffRoom(roomID string) {
	d.rooms.Unregister(roomID)
}

// RemoteTyping reports the decayed remote typing flag for a thread.
func (d *Dispatcher) RemoteTyping(threadID string) bool {
	return d.watcher.IsTyping(threadID)
}

// Dispatch handles one unsolicited envelope. Unknown event names are
// logged and dropped so protocol additions never break older clients.
func (d *Dispatcher) Dispatch(env Envelope) {
	switch env.Event {
	case EventNewDirectMessage:
		d.handleNewDirectMessage(env.Payload)
	case EventMessagesRead:
		d.handleMessagesRead(env.Payload)
	case EventTypingInDM:
		d.handleTyping(env.Payload)
	case EventNewChatMessage:
		d.handleNewChatMessage(env.Payload)
	case EventMessageModerated:
		d.handleModerated(env.Payload)
	case EventMessageRemoved:
		d.handleRemoved(env.Payload)
	case EventRoomUserCount:
		d.handleUserCount(env.Payload)
	case EventRoomUpdated, EventRoomCreated:
		d.handleRoomUpdated(env.Payload)
	case EventRoomJoined:
		// Also arrives unsolicited when the bootstrap re-joins rooms
		// after a reconnect and no request is pending for it.
		d.handleRoomJoined(env.Payload)
	default:
		d.log.Debug("unhandled push", "event", env.Event)
	}
}

func (d *Dispatcher) handleNewDirectMessage(payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.log.Warn("bad new_direct_message payload", "err", err)
		return
	}
	if err := d.store.ApplyIncomingMessage(msg); err != nil {
		d.repair(err, "thread_id", msg.ThreadID)
		return
	}
	d.emitThread(msg.ThreadID, ThreadEvent{
		Type:     ThreadNewMessage,
		ThreadID: msg.ThreadID,
		Message:  &msg,
	})
}

func (d *Dispatcher) handleMessagesRead(payload json.RawMessage) {
	var rr ReadReceipt
	if err := json.Unmarshal(payload, &rr); err != nil {
		d.log.Warn("bad messages_read payload", "err", err)
		return
	}
	d.store.ApplyReadReceipt(rr.ThreadID, rr.ReaderID)
	d.emitThread(rr.ThreadID, ThreadEvent{
		Type:     ThreadMessagesRead,
		ThreadID: rr.ThreadID,
		ReaderID: rr.ReaderID,
	})
}

func (d *Dispatcher) handleTyping(payload json.RawMessage) {
	var tp TypingPulse
	if err := json.Unmarshal(payload, &tp); err != nil {
		return
	}
	// The watcher's onChange emits the callback on actual transitions,
	// so repeated heartbeat pulses do not spam subscribers. UserID is
	// not threaded through the watcher; the remote participant of a DM
	// thread is unambiguous.
	d.watcher.Observe(tp.ThreadID, tp.IsTyping)
}

func (d *Dispatcher) handleNewChatMessage(payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.log.Warn("bad new_chat_message payload", "err", err)
		return
	}
	if err := d.store.ApplyRoomMessage(msg); err != nil {
		d.repair(err, "room_id", msg.RoomID)
		return
	}
	d.emitRoom(msg.RoomID, RoomEvent{
		Type:    RoomNewMessage,
		RoomID:  msg.RoomID,
		Message: &msg,
	})
}

func (d *Dispatcher) handleModerated(payload json.RawMessage) {
	var n ModerationNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		return
	}
	d.store.ApplyRoomModeration(n)
	d.emitRoom(n.RoomID, RoomEvent{
		Type:      RoomMessageModerated,
		RoomID:    n.RoomID,
		MessageID: n.MessageID,
		Content:   n.Content,
	})
}

func (d *Dispatcher) handleRemoved(payload json.RawMessage) {
	var n RemovalNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		return
	}
	d.store.RemoveRoomMessage(n.RoomID, n.MessageID)
	d.emitRoom(n.RoomID, RoomEvent{
		Type:      RoomMessageRemoved,
		RoomID:    n.RoomID,
		MessageID: n.MessageID,
	})
}

func (d *Dispatcher) handleUserCount(payload json.RawMessage) {
	var uc UserCount
	if err := json.Unmarshal(payload, &uc); err != nil {
		return
	}
	d.store.ApplyRoomUserCount(uc.RoomID, uc.UserCount)
	d.emitRoom(uc.RoomID, RoomEvent{
		Type:      RoomUserCountChanged,
		RoomID:    uc.RoomID,
		UserCount: uc.UserCount,
	})
}

func (d *Dispatcher) handleRoomUpdated(payload json.RawMessage) {
	var room ChatRoom
	if err := json.Unmarshal(payload, &room); err != nil {
		return
	}
	d.store.ApplyRoom(room)
	d.emitRoom(room.ID, RoomEvent{
		Type:   RoomUpdated,
		RoomID: room.ID,
		Room:   &room,
	})
}

func (d *Dispatcher) handleRoomJoined(payload json.RawMessage) {
	var join RoomJoin
	if err := json.Unmarshal(payload, &join); err != nil {
		return
	}
	d.store.ApplyRoomJoined(join)
	d.emitRoom(join.RoomID, RoomEvent{
		Type:      RoomUserCountChanged,
		RoomID:    join.RoomID,
		UserCount: join.UserCount,
	})
}

func (d *Dispatcher) repair(err error, args ...any) {
	if errors.Is(err, ErrReconciliationMismatch) {
		d.log.Info("cache miss on push, refetching", args...)
		if d.onRefetch != nil {
			// Off the read loop: the refetch may itself be a channel
			// request whose response arrives on that loop.
			go d.onRefetch()
		}
		return
	}
	d.log.Warn("push apply failed", append(args, "err", err)...)
}

func (d *Dispatcher) emitThread(threadID string, ev ThreadEvent) {
	if cb, ok := d.threads.get(threadID); ok {
		cb(ev)
	}
}

func (d *Dispatcher) emitRoom(roomID string, ev RoomEvent) {
	if cb, ok := d.rooms.get(roomID); ok {
		cb(ev)
	}
}
