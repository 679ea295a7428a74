package gatherly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the persistent channel.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	RequestTimeout       time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// ConnectionState represents the persistent channel's lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ============================================================================
// Ready gate
// ============================================================================

// readyGate is the single pending "wait for connection" future. Every
// caller awaiting the channel shares one gate per connect cycle; it is
// settled exactly once when the connection succeeds or fails terminally.
type readyGate struct {
	ch  chan struct{}
	err error
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single persistent channel handle and its
// lifecycle: connect, authenticate, reconnect with bounded exponential
// backoff, disconnect. Nothing else mutates the handle or the connection
// state. Inbound frames are first offered to the request/response bridge;
// unclaimed frames go to the event dispatcher.
//
// Server-side room memberships do not survive a transport drop, so every
// successful (re)connect re-runs the bootstrap: join the user's private
// notification scope, re-join every tracked chat room, and refresh the
// thread list through the onBootstrap hook.
type RealtimeClient struct {
	baseURL    string
	config     *RealtimeConfig
	session    *Session
	dispatcher *Dispatcher
	bridge     *bridge
	log        *slog.Logger

	// onBootstrap refreshes the read-model after (re)connecting; set by
	// the Messenger before Connect.
	onBootstrap func(ctx context.Context) error

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnectionState
	intentionalClose bool
	retrying         bool
	cancelFn         context.CancelFunc
	recon            *reconnector
	ready            *readyGate
	joinedRooms      map[string]struct{}
}

// NewRealtimeClient creates a channel client. config may be nil for
// defaults. The dispatcher receives every unclaimed inbound frame.
func NewRealtimeClient(baseURL string, session *Session, dispatcher *Dispatcher, config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		config:      &cfg,
		session:     session,
		dispatcher:  dispatcher,
		bridge:      newBridge(),
		log:         cfg.Logger,
		state:       StateDisconnected,
		recon:       newReconnector(&cfg),
		joinedRooms: make(map[string]struct{}),
	}
}

// State returns the current connection state.
func (rt *RealtimeClient) State() ConnectionState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// WaitReady blocks until the connection settles: nil once CONNECTED, the
// terminal error if the connect cycle gives up. All callers share the same
// pending future; it is resolved or rejected exactly once per cycle.
func (rt *RealtimeClient) WaitReady(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected {
		rt.mu.Unlock()
		return nil
	}
	if rt.ready == nil {
		rt.ready = &readyGate{ch: make(chan struct{})}
	}
	gate := rt.ready
	rt.mu.Unlock()

	select {
	case <-gate.ch:
		return gate.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settleReady resolves the shared pending future, if any.
func (rt *RealtimeClient) settleReady(err error) {
	rt.mu.Lock()
	gate := rt.ready
	rt.ready = nil
	rt.mu.Unlock()
	if gate != nil {
		gate.err = err
		close(gate.ch)
	}
}

// Connect establishes the persistent channel with the session credential
// attached to the handshake, then runs the bootstrap. It is a no-op while
// already connected or connecting.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	if !rt.session.Authenticated() {
		return ErrAuthenticationRequired
	}

	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + rt.session.Token()

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: rt.config.HTTPClient,
	})
	if err != nil {
		err = fmt.Errorf("channel dial: %w", err)
		rt.failConnect(err)
		return err
	}

	// The server confirms the handshake credential with an authenticated
	// frame before anything else.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		err = fmt.Errorf("read auth frame: %w", err)
		rt.failConnect(err)
		return err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != "authenticated" {
		conn.Close(websocket.StatusNormalClosure, "")
		err = fmt.Errorf("expected 'authenticated', got %q", env.Event)
		rt.failConnect(err)
		return err
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.mu.Unlock()
	rt.recon.markConnected()
	rt.settleReady(nil)

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.cancelFn = cancel
	rt.mu.Unlock()

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx, conn)
	go rt.runBootstrap(connCtx)

	return nil
}

// failConnect records a failed connect attempt. Outside a reconnect cycle
// the failure is terminal, so pending WaitReady futures are rejected with
// it; mid-cycle failures leave the future pending for the next attempt.
func (rt *RealtimeClient) failConnect(err error) {
	rt.mu.Lock()
	rt.state = StateDisconnected
	retrying := rt.retrying
	rt.mu.Unlock()
	if !retrying {
		rt.settleReady(err)
	}
}

// Disconnect closes the channel intentionally. Waiters on WaitReady are
// rejected; commands fall back to the stateless transport afterwards.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.settleReady(ErrTransportUnavailable)

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Send emits a fire-and-forget frame on the channel.
func (rt *RealtimeClient) Send(ctx context.Context, cmd Command) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ============================================================================
// Fire-and-forget commands
// ============================================================================

// JoinUserRoom subscribes to the user's private notification scope.
func (rt *RealtimeClient) JoinUserRoom(ctx context.Context, userID string) error {
	return rt.Send(ctx, Command{Event: EventJoinUserRoom, Payload: map[string]string{"user_id": userID}})
}

// JoinEvent subscribes to an event's broadcast scope.
func (rt *RealtimeClient) JoinEvent(ctx context.Context, eventID string) error {
	return rt.Send(ctx, Command{Event: EventJoinEvent, Payload: map[string]string{"event_id": eventID}})
}

// JoinEventAdmin subscribes to an event's admin scope.
func (rt *RealtimeClient) JoinEventAdmin(ctx context.Context, eventID string) error {
	return rt.Send(ctx, Command{Event: EventJoinAdmin, Payload: map[string]string{"event_id": eventID}})
}

// SendTyping emits a typing pulse for a thread. No response event.
func (rt *RealtimeClient) SendTyping(ctx context.Context, threadID string, isTyping bool) error {
	return rt.Send(ctx, Command{Event: EventTypingInDM, Payload: TypingPulse{ThreadID: threadID, IsTyping: isTyping}})
}

// trackRoom records a joined chat room for idempotent re-join after a drop.
func (rt *RealtimeClient) trackRoom(roomID string) {
	rt.mu.Lock()
	rt.joinedRooms[roomID] = struct{}{}
	rt.mu.Unlock()
}

func (rt *RealtimeClient) untrackRoom(roomID string) {
	rt.mu.Lock()
	delete(rt.joinedRooms, roomID)
	rt.mu.Unlock()
}

func (rt *RealtimeClient) trackedRooms() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.joinedRooms))
	for id := range rt.joinedRooms {
		ids = append(ids, id)
	}
	return ids
}

// ============================================================================
// Loops
// ============================================================================

// runBootstrap re-establishes server-side state after a (re)connect:
// private notification scope, previously joined rooms, and the caller's
// read-model refresh.
func (rt *RealtimeClient) runBootstrap(ctx context.Context) {
	if id := rt.session.UserID(); id != "" {
		if err := rt.JoinUserRoom(ctx, id); err != nil {
			rt.log.Warn("bootstrap: join user room failed", "err", err)
		}
	}
	for _, roomID := range rt.trackedRooms() {
		err := rt.Send(ctx, Command{Event: EventJoinRoom, Payload: map[string]string{"room_id": roomID}})
		if err != nil {
			rt.log.Warn("bootstrap: rejoin room failed", "room_id", roomID, "err", err)
		}
	}
	if rt.onBootstrap != nil {
		if err := rt.onBootstrap(ctx); err != nil {
			rt.log.Warn("bootstrap failed", "err", err)
		}
	}
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()
			rt.log.Warn("channel dropped", "err", err)

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.scheduleReconnect()
			} else {
				rt.settleReady(ErrTransportUnavailable)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		// Solicited responses resolve their pending request; everything
		// else is an unsolicited push for the dispatcher. A response whose
		// listener already timed out falls through and is ignored there.
		if rt.bridge.resolve(env) {
			continue
		}
		if rt.dispatcher != nil {
			rt.dispatcher.Dispatch(env)
		}
	}
}

// heartbeatLoop keeps the websocket alive with protocol-level pings; a
// failed ping closes the connection so readLoop can begin reconnecting.
func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect() {
	delay := rt.recon.nextDelay()
	rt.mu.Lock()
	rt.state = StateReconnecting
	attempt := rt.recon.attempt
	rt.mu.Unlock()
	rt.log.Info("reconnecting", "attempt", attempt, "delay", delay)

	time.Sleep(delay)

	rt.mu.Lock()
	if rt.intentionalClose {
		rt.mu.Unlock()
		return
	}
	rt.state = StateDisconnected
	rt.retrying = true
	rt.mu.Unlock()

	err := rt.Connect(context.Background())

	rt.mu.Lock()
	rt.retrying = false
	rt.mu.Unlock()

	if err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect()
			return
		}
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		// Attempts exhausted: reject all waiters; commands now use the
		// fallback transport until the caller reconnects explicitly.
		rt.settleReady(ErrTransportUnavailable)
	}
}
