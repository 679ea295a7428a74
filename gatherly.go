// Package gatherly provides the Go client for the Gatherly event platform's
// messaging layer.
//
// The messaging layer keeps a local read-model of direct-message threads and
// chat-room messages consistent over a dual transport: a persistent
// bidirectional event channel (websocket) as the primary, and stateless REST
// calls as the fallback whenever the channel is unavailable or a request
// times out.
//
// Example:
//
//	session := gatherly.NewSession()
//	session.SetToken(token)
//
//	client := gatherly.NewClient(session)
//	msgr := gatherly.NewMessenger(client, session, nil)
//
//	if err := msgr.Connect(ctx); err != nil { ... } // REST still works
//	threads, _ := msgr.Threads(ctx)
//	inbox := gatherly.FilterByScope(threads, nil)
package gatherly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.gatherly.events"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP client for the platform API. It backs the fallback
// transport of the messaging layer; the persistent channel is handled by
// the RealtimeClient.
type Client struct {
	baseURL    string
	session    *Session
	httpClient *http.Client
	messaging  *MessagingClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a platform API client bound to a session. The session
// may be unauthenticated; commands will fail locally until a token is set.
func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		session: session,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.messaging = newMessagingClient(c)
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Messaging returns the messaging API sub-client (fallback transport).
func (c *Client) Messaging() *MessagingClient {
	return c.messaging
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Messaging Client (orchestrates sub-modules)
// ============================================================================

// MessagingClient provides the REST-shaped messaging calls used whenever the
// persistent channel is unavailable or a channel request times out.
type MessagingClient struct {
	client *Client

	Threads *ThreadsClient
	Rooms   *RoomsClient
}

func newMessagingClient(c *Client) *MessagingClient {
	m := &MessagingClient{client: c}
	m.Threads = &ThreadsClient{m: m}
	m.Rooms = &RoomsClient{m: m}
	return m
}

func (m *MessagingClient) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := m.client.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[Result](data)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("request failed")
	}
	return res, nil
}

// ============================================================================
// Threads sub-client
// ============================================================================

// ThreadsClient handles direct-message threads over REST.
type ThreadsClient struct{ m *MessagingClient }

// List fetches the active thread list, most-recent-first.
func (t *ThreadsClient) List(ctx context.Context) (*ThreadList, error) {
	res, err := t.m.do(ctx, "GET", "/direct-messages/threads", nil, nil)
	if err != nil {
		return nil, err
	}
	var list ThreadList
	if err := res.Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode thread list: %w", err)
	}
	return &list, nil
}

// Messages fetches one page of a thread's history.
func (t *ThreadsClient) Messages(ctx context.Context, threadID string, page, perPage int) (*MessagePage, error) {
	query := map[string]string{}
	if page > 0 {
		query["page"] = fmt.Sprintf("%d", page)
	}
	if perPage > 0 {
		query["per_page"] = fmt.Sprintf("%d", perPage)
	}
	if len(query) == 0 {
		query = nil
	}
	res, err := t.m.do(ctx, "GET", "/direct-messages/threads/"+threadID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	var mp MessagePage
	if err := res.Decode(&mp); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if mp.ThreadID == "" {
		mp.ThreadID = threadID
	}
	return &mp, nil
}

// Send posts a direct message.
func (t *ThreadsClient) Send(ctx context.Context, threadID, content, encryptedContent string) (*Message, error) {
	body := map[string]string{"content": content}
	if encryptedContent != "" {
		body["encrypted_content"] = encryptedContent
	}
	res, err := t.m.do(ctx, "POST", "/direct-messages/threads/"+threadID+"/messages", body, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode sent message: %w", err)
	}
	if msg.ThreadID == "" {
		msg.ThreadID = threadID
	}
	return &msg, nil
}

// MarkRead marks every message in the thread as read by the current user.
func (t *ThreadsClient) MarkRead(ctx context.Context, threadID string) error {
	_, err := t.m.do(ctx, "POST", "/direct-messages/threads/"+threadID+"/read", nil, nil)
	return err
}

// Create opens (or reopens) a thread with another user, optionally scoped
// to an event.
func (t *ThreadsClient) Create(ctx context.Context, userID string, eventID *string) (*Thread, error) {
	body := map[string]interface{}{"user_id": userID}
	if eventID != nil {
		body["event_id"] = *eventID
	}
	res, err := t.m.do(ctx, "POST", "/direct-messages/threads", body, nil)
	if err != nil {
		return nil, err
	}
	var th Thread
	if err := res.Decode(&th); err != nil {
		return nil, fmt.Errorf("failed to decode thread: %w", err)
	}
	return &th, nil
}

// Clear soft-removes a thread from the active list. History stays on the
// server; the thread reappears when a new message arrives.
func (t *ThreadsClient) Clear(ctx context.Context, threadID string) error {
	_, err := t.m.do(ctx, "DELETE", "/direct-messages/threads/"+threadID, nil, nil)
	return err
}

// ============================================================================
// Rooms sub-client
// ============================================================================

// RoomsClient handles event chat rooms over REST. Room membership is a
// channel-level concept; over REST only history reads and sends are
// available.
type RoomsClient struct{ m *MessagingClient }

// Messages fetches a room's recent messages.
func (r *RoomsClient) Messages(ctx context.Context, roomID string) (*RoomJoin, error) {
	res, err := r.m.do(ctx, "GET", "/chat-rooms/"+roomID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	var join RoomJoin
	if err := res.Decode(&join); err != nil {
		return nil, fmt.Errorf("failed to decode room messages: %w", err)
	}
	if join.RoomID == "" {
		join.RoomID = roomID
	}
	return &join, nil
}

// Send posts a chat-room message.
func (r *RoomsClient) Send(ctx context.Context, roomID, content string) (*Message, error) {
	res, err := r.m.do(ctx, "POST", "/chat-rooms/"+roomID+"/messages", map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode sent message: %w", err)
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	return &msg, nil
}
