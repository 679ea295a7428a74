package gatherly

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// MessengerConfig tunes the orchestrator. The zero value is usable.
type MessengerConfig struct {
	Realtime RealtimeConfig
	Logger   *slog.Logger
}

/// Messenger is the top-level messaging facade: it owns the session-scoped
// store, the realtime channel, the dispatcher, and the REST client, and
// exposes every operation through the dual-transport selector. One
// Messenger per authenticated session.
type Messenger struct {
	client   *Client
	session  *Session
	store    *Store
	realtime *RealtimeClient
	disp     *Dispatcher
	typing   *TypingNotifier
	log      *slog.Logger
}

// NewMessenger wires a messenger over an authenticated REST client.
// config may be nil for defaults.
func NewMessenger(client *Client, session *Session, config *MessengerConfig) *Messenger {
	cfg := MessengerConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Realtime.Logger == nil {
		cfg.Realtime.Logger = cfg.Logger
	}

	store := NewStore(session.UserID())
	disp := NewDispatcher(store, cfg.Logger)

	m := &Messenger{
		client:   client,
		session:  session,
		store:    store,
		realtime: NewRealtimeClient(client.BaseURL(), session, disp, &cfg.Realtime),
		disp:     disp,
		log:      cfg.Logger,
	}
	m.typing = NewTypingNotifier(func(threadID string, isTyping bool) {
		// Typing is ephemeral; a send failure while disconnected is
		// dropped, never retried over REST.
		_ = m.realtime.SendTyping(context.Background(), threadID, isTyping)
	}, DefaultTypingHeartbeat, DefaultTypingIdle)

	disp.onRefetch = func() {
		if _, err := m.Threads(context.Background()); err != nil {
			m.log.Warn("refetch after cache miss failed", "err", err)
		}
	}
	m.realtime.onBootstrap = func(ctx context.Context) error {
		m.store.SetSelfID(m.session.UserID())
		_, err := m.Threads(ctx)
		return err
	}

	return m
}

// Store exposes the synchronized read-model.
func (m *Messenger) Store() *Store { return m.store }

// Realtime exposes the underlying channel client for state inspection.
func (m *Messenger) Realtime() *RealtimeClient { return m.realtime }

// Connect establishes the realtime channel. Operations work over REST
// before and without it.
func (m *Messenger) Connect(ctx context.Context) error {
	return m.realtime.Connect(ctx)
}

// WaitReady blocks until the channel settles, sharing one pending future
// across all callers.
func (m *Messenger) WaitReady(ctx context.Context) error {
	return m.realtime.WaitReady(ctx)
}

// Close stops typing heartbeats and tears down the channel.
func (m *Messenger) Close() error {
	m.typing.StopAll()
	return m.realtime.Disconnect()
}

// ============================================================================
// Threads
// ============================================================================

// Threads fetches the thread list and replaces the cached copy.
func (m *Messenger) Threads(ctx context.Context) ([]Thread, error) {
	list, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*ThreadList, error) {
			return requestAs[ThreadList](ctx, m.realtime,
				Command{Event: EventGetThreads, Payload: struct{}{}},
				EventThreads, nil)
		},
		func(ctx context.Context) (*ThreadList, error) {
			return m.client.Messaging().Threads.List(ctx)
		},
	)
	if err != nil {
		return nil, err
	}
	m.store.ApplyThreadList(list.Threads)
	return m.store.Threads(), nil
}

// ThreadsForEvent returns the cached threads filtered to the current
// event scope. Pass nil outside any event context.
func (m *Messenger) ThreadsForEvent(currentEventID *string) []Thread {
	return FilterByScope(m.store.Threads(), currentEventID)
}

// Messages fetches one page of a thread's history and caches it.
func (m *Messenger) Messages(ctx context.Context, threadID string, page, perPage int) ([]Message, error) {
	mp, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*MessagePage, error) {
			return requestAs[MessagePage](ctx, m.realtime,
				Command{Event: EventGetMessages, Payload: map[string]interface{}{
					"thread_id": threadID,
					"page":      page,
					"per_page":  perPage,
				}},
				EventMessages, matchThreadID(threadID))
		},
		func(ctx context.Context) (*MessagePage, error) {
			return m.client.Messaging().Threads.Messages(ctx, threadID, page, perPage)
		},
	)
	if err != nil {
		return nil, err
	}
	m.store.ApplyMessagePage(*mp)
	return m.store.Messages(threadID), nil
}

// MarkRead marks a thread's messages as read by the current user and
// zeroes its cached unread count.
func (m *Messenger) MarkRead(ctx context.Context, threadID string) error {
	type ack struct {
		ThreadID string `json:"thread_id"`
	}
	_, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*ack, error) {
			return requestAs[ack](ctx, m.realtime,
				Command{Event: EventMarkRead, Payload: map[string]string{"thread_id": threadID}},
				EventMarkedRead, matchThreadID(threadID))
		},
		func(ctx context.Context) (*ack, error) {
			if err := m.client.Messaging().Threads.MarkRead(ctx, threadID); err != nil {
				return nil, err
			}
			return &ack{ThreadID: threadID}, nil
		},
	)
	if err != nil {
		return err
	}
	m.store.ApplyReadReceipt(threadID, m.session.UserID())
	return nil
}

// CreateThread opens (or returns the existing) direct thread with a user,
// optionally scoped to an event.
func (m *Messenger) CreateThread(ctx context.Context, userID string, eventID *string) (*Thread, error) {
	payload := map[string]interface{}{"user_id": userID}
	if eventID != nil {
		payload["event_id"] = *eventID
	}
	thread, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*Thread, error) {
			return requestAs[Thread](ctx, m.realtime,
				Command{Event: EventCreateThread, Payload: payload},
				EventThreadCreated, nil)
		},
		func(ctx context.Context) (*Thread, error) {
			return m.client.Messaging().Threads.Create(ctx, userID, eventID)
		},
	)
	if err != nil {
		return nil, err
	}
	m.store.ApplyThread(*thread)
	return thread, nil
}

// ClearThread soft-clears a thread's history for the current user. REST
// only; there is no channel command for it.
func (m *Messenger) ClearThread(ctx context.Context, threadID string) error {
	if !m.session.Authenticated() {
		return ErrAuthenticationRequired
	}
	if err := m.client.Messaging().Threads.Clear(ctx, threadID); err != nil {
		return err
	}
	m.store.RemoveThread(threadID)
	return nil
}

// ============================================================================
// Chat rooms
// ============================================================================

// JoinRoom subscribes to a chat room and caches its recent history. The
// membership is re-established automatically after a reconnect.
func (m *Messenger) JoinRoom(ctx context.Context, roomID string) (*RoomState, error) {
	join, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*RoomJoin, error) {
			return requestAs[RoomJoin](ctx, m.realtime,
				Command{Event: EventJoinRoom, Payload: map[string]string{"room_id": roomID}},
				EventRoomJoined, matchRoomID(roomID))
		},
		func(ctx context.Context) (*RoomJoin, error) {
			return m.client.Messaging().Rooms.Messages(ctx, roomID)
		},
	)
	if err != nil {
		return nil, err
	}
	m.realtime.trackRoom(roomID)
	m.store.ApplyRoomJoined(*join)
	state, _ := m.store.Room(roomID)
	return &state, nil
}

// LeaveRoom drops the subscription and the cached room state.
func (m *Messenger) LeaveRoom(ctx context.Context, roomID string) error {
	m.realtime.untrackRoom(roomID)
	m.store.RemoveRoom(roomID)
	if m.realtime.State() == StateConnected {
		return m.realtime.Send(ctx, Command{Event: EventLeaveRoom, Payload: map[string]string{"room_id": roomID}})
	}
	return nil
}

// SendRoomMessage posts to a chat room. Room sends are not optimistic;
// the message appears when the server echoes it.
func (m *Messenger) SendRoomMessage(ctx context.Context, roomID, content string) (*Message, error) {
	msg, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*Message, error) {
			return requestAs[Message](ctx, m.realtime,
				Command{Event: EventRoomMessage, Payload: map[string]string{
					"room_id": roomID,
					"content": content,
				}},
				EventRoomSent, matchRoomID(roomID))
		},
		func(ctx context.Context) (*Message, error) {
			return m.client.Messaging().Rooms.Send(ctx, roomID, content)
		},
	)
	if err != nil {
		return nil, err
	}
	if applyErr := m.store.ApplyRoomMessage(*msg); applyErr != nil && !errors.Is(applyErr, ErrReconciliationMismatch) {
		m.log.Warn("room message apply failed", "room_id", roomID, "err", applyErr)
	}
	return msg, nil
}

// ============================================================================
// Typing and callbacks
// ============================================================================

// Keystroke records local typing activity in a thread, driving the
// outbound heartbeat protocol.
func (m *Messenger) Keystroke(threadID string) {
	m.typing.Keystroke(threadID)
}

// StopTyping idles the local typing state for a thread (send or blur).
func (m *Messenger) StopTyping(threadID string) {
	m.typing.Stop(threadID)
}

// RemoteTyping reports whether the other participant is typing.
func (m *Messenger) RemoteTyping(threadID string) bool {
	return m.disp.RemoteTyping(threadID)
}

// OnThread registers the callback for a thread's pushes; last wins.
func (m *Messenger) OnThread(threadID string, cb ThreadCallback) {
	m.disp.OnThread(threadID, cb)
}

// OffThread removes a thread's callback.
func (m *Messenger) OffThread(threadID string) {
	m.disp.OffThread(threadID)
}

// OnRoom registers the callback for a room's pushes; last wins.
func (m *Messenger) OnRoom(roomID string, cb RoomCallback) {
	m.disp.OnRoom(roomID, cb)
}

// OffRoom removes a room's callback.
func (m *Messenger) OffRoom(roomID string) {
	m.disp.OffRoom(roomID)
}

// JoinEvent subscribes to an event's broadcast pushes.
func (m *Messenger) JoinEvent(ctx context.Context, eventID string) error {
	return m.realtime.JoinEvent(ctx, eventID)
}

// JoinEventAdmin subscribes to an event's admin pushes.
func (m *Messenger) JoinEventAdmin(ctx context.Context, eventID string) error {
	return m.realtime.JoinEventAdmin(ctx, eventID)
}
