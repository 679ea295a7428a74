package gatherly

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope used by the fallback transport.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Messaging Types
// ============================================================================

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// UserSnapshot is a denormalized view of a user as embedded in threads and
// session state.
type UserSnapshot struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Message is a direct message or chat-room message. A message with Pending
// set carries a locally generated id (prefixed "local-") and has not been
// confirmed by the server yet; provisional messages are replaced in place
// once the authoritative copy arrives, never duplicated.
type Message struct {
	ID               string        `json:"id"`
	ThreadID         string        `json:"thread_id,omitempty"`
	RoomID           string        `json:"room_id,omitempty"`
	SenderID         string        `json:"sender_id"`
	Content          string        `json:"content"`
	EncryptedContent string        `json:"encrypted_content,omitempty"`
	Status           MessageStatus `json:"status,omitempty"`
	Pending          bool          `json:"pending,omitempty"`
	CreatedAt        string        `json:"created_at"`
}

// Thread is a direct-message thread with one other participant.
//
// EventScopeID is nil for global (cross-event) threads. SharedEventIDs lists
// the events both participants belong to; it is used only for scope
// filtering and never implies ownership.
type Thread struct {
	ID             string       `json:"id"`
	OtherUser      UserSnapshot `json:"other_user"`
	LastMessage    *Message     `json:"last_message,omitempty"`
	LastMessageAt  string       `json:"last_message_at,omitempty"`
	UnreadCount    int          `json:"unread_count"`
	EventScopeID   *string      `json:"event_scope_id,omitempty"`
	SharedEventIDs []string     `json:"shared_event_ids,omitempty"`
	IsEncrypted    bool         `json:"is_encrypted,omitempty"`
}

// Pagination describes a page of message history.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	TotalCount int `json:"total_count"`
}

// MessagePage is one page of a thread's message history.
type MessagePage struct {
	ThreadID    string       `json:"thread_id"`
	Messages    []Message    `json:"messages"`
	Pagination  Pagination   `json:"pagination"`
	OtherUser   UserSnapshot `json:"other_user"`
	IsEncrypted bool         `json:"is_encrypted"`
}

// ChatRoom is an event chat room.
type ChatRoom struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id,omitempty"`
	Name      string `json:"name"`
	UserCount int    `json:"user_count"`
}

// RoomState is the cached view of a joined chat room.
type RoomState struct {
	Room     ChatRoom  `json:"room"`
	Messages []Message `json:"messages"`
}

// ThreadList is the payload of a thread-list fetch.
type ThreadList struct {
	Threads []Thread `json:"threads"`
}

// ============================================================================
// Wire Envelope
// ============================================================================

// Envelope is the wire format for every frame on the persistent channel.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server frame on the persistent channel.
type Command struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client-to-server command events. Commands listed with a response event are
// issued through the request/response bridge; the rest are fire-and-forget.
const (
	EventGetThreads   = "get_direct_message_threads" // -> direct_message_threads
	EventGetMessages  = "get_direct_messages"        // -> direct_messages
	EventSendMessage  = "send_direct_message"        // -> direct_message_sent
	EventMarkRead     = "mark_messages_read"         // -> messages_marked_read
	EventCreateThread = "create_direct_message_thread"
	EventJoinRoom     = "join_chat_room"  // -> chat_room_joined
	EventLeaveRoom    = "leave_chat_room" // -> chat_room_left
	EventRoomMessage  = "chat_message"    // -> chat_message_sent
	EventTypingInDM   = "typing_in_dm"
	EventJoinUserRoom = "join_user_room"
	EventJoinEvent    = "join_event"
	EventJoinAdmin    = "join_event_admin"
)

// Response events paired with the commands above.
const (
	EventThreads       = "direct_message_threads"
	EventMessages      = "direct_messages"
	EventMessageSent   = "direct_message_sent"
	EventMarkedRead    = "messages_marked_read"
	EventThreadCreated = "direct_message_thread_created"
	EventRoomJoined    = "chat_room_joined"
	EventRoomLeft      = "chat_room_left"
	EventRoomSent      = "chat_message_sent"
)

// Server-pushed (unsolicited) events.
const (
	EventNewDirectMessage = "new_direct_message"
	EventMessagesRead     = "messages_read"
	EventNewChatMessage   = "new_chat_message"
	EventMessageModerated = "chat_message_moderated"
	EventMessageRemoved   = "chat_message_removed"
	EventRoomUserCount    = "room_user_count"
	EventRoomUpdated      = "chat_room_updated"
	EventRoomCreated      = "chat_room_created"
)

// ============================================================================
// Push Payloads
// ============================================================================

// ReadReceipt is the payload of a messages_read push.
type ReadReceipt struct {
	ThreadID string `json:"thread_id"`
	ReaderID string `json:"reader_id"`
}

// TypingPulse is the payload of a typing_in_dm frame in either direction.
type TypingPulse struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// ModerationNotice is the payload of a chat_message_moderated push.
type ModerationNotice struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RemovalNotice is the payload of a chat_message_removed push.
type RemovalNotice struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// UserCount is the payload of a room_user_count push.
type UserCount struct {
	RoomID    string `json:"room_id"`
	UserCount int    `json:"user_count"`
}

// RoomJoin is the payload of a chat_room_joined response.
type RoomJoin struct {
	RoomID    string    `json:"room_id"`
	Messages  []Message `json:"messages"`
	UserCount int       `json:"user_count"`
}
