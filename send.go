package gatherly

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// provisionalIDPrefix marks optimistic message ids so they can never
// collide with server-assigned ids.
const provisionalIDPrefix = "local-"

func provisionalID() string {
	return provisionalIDPrefix + uuid.NewString()
}

// SendMessage sends a direct message optimistically: a provisional entry
// appears in the thread immediately, then is replaced in place by the
// authoritative message from whichever transport confirms first. On
// terminal failure the provisional entry rolls back and the error
// surfaces; there is no background retry queue.
func (m *Messenger) SendMessage(ctx context.Context, threadID, content string) (*Message, error) {
	return m.sendMessage(ctx, threadID, content, "")
}

// SendEncryptedMessage sends a direct message carrying ciphertext
// alongside the plaintext placeholder for non-supporting clients.
func (m *Messenger) SendEncryptedMessage(ctx context.Context, threadID, content, encryptedContent string) (*Message, error) {
	return m.sendMessage(ctx, threadID, content, encryptedContent)
}

func (m *Messenger) sendMessage(ctx context.Context, threadID, content, encryptedContent string) (*Message, error) {
	if !m.session.Authenticated() {
		return nil, ErrAuthenticationRequired
	}

	m.typing.Stop(threadID)

	provisional := Message{
		ID:               provisionalID(),
		ThreadID:         threadID,
		SenderID:         m.session.UserID(),
		Content:          content,
		EncryptedContent: encryptedContent,
		Status:           StatusSent,
		Pending:          true,
		CreatedAt:        nowRFC3339(),
	}
	m.store.AppendProvisional(provisional)

	payload := map[string]string{
		"thread_id": threadID,
		"content":   content,
	}
	if encryptedContent != "" {
		payload["encrypted_content"] = encryptedContent
	}

	msg, err := runWithFallback(ctx, m,
		func(ctx context.Context) (*Message, error) {
			return requestAs[Message](ctx, m.realtime,
				Command{Event: EventSendMessage, Payload: payload},
				EventMessageSent, matchSentMessage(threadID, m.session.UserID(), content))
		},
		func(ctx context.Context) (*Message, error) {
			return m.client.Messaging().Threads.Send(ctx, threadID, content, encryptedContent)
		},
	)
	if err != nil {
		m.store.DropProvisional(threadID, provisional.ID)
		return nil, err
	}

	m.store.ReconcileProvisional(threadID, provisional.ID, *msg)
	confirmed := *msg
	return &confirmed, nil
}

// matchSentMessage correlates a direct_message_sent response with the
// in-flight send. The wire carries no client reference, so thread, sender,
// and content identify ours among concurrent sends.
func matchSentMessage(threadID, senderID, content string) func(json.RawMessage) bool {
	return func(payload json.RawMessage) bool {
		var msg Message
		if json.Unmarshal(payload, &msg) != nil {
			return false
		}
		if msg.ThreadID != threadID || msg.Content != content {
			return false
		}
		return senderID == "" || msg.SenderID == "" || msg.SenderID == senderID
	}
}
