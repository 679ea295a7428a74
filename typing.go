package gatherly

import (
	"sync"
	"time"
)

// Default typing protocol intervals. Tests compress them via the
// constructors' parameters.
const (
	DefaultTypingHeartbeat = 1 * time.Second
	DefaultTypingIdle      = 5 * time.Second
	DefaultTypingDecay     = 5 * time.Second
)

// ============================================================================
// Outbound: TypingNotifier
// ============================================================================

// typingSession is the per-thread TYPING state: a heartbeat loop plus an
// idle timer reset on every keystroke.
type typingSession struct {
	stopCh    chan struct{}
	idleTimer *time.Timer
}

// TypingNotifier drives the outbound typing heartbeat for each thread.
//
// State machine per thread: IDLE -> TYPING on the first keystroke, back to
// IDLE after the idle window without a keystroke or explicitly on send/blur.
// While TYPING a pulse is emitted every heartbeat interval, refreshing the
// server-side ephemeral expiry. Exactly one stopped pulse is emitted on the
// IDLE transition and heartbeats never continue past it.
type TypingNotifier struct {
	mu        sync.Mutex
	emit      func(threadID string, isTyping bool)
	heartbeat time.Duration
	idle      time.Duration
	sessions  map[string]*typingSession
}

// NewTypingNotifier creates a notifier emitting pulses through emit
// (normally the realtime client's fire-and-forget typing_in_dm command).
// Non-positive intervals fall back to the defaults.
func NewTypingNotifier(emit func(threadID string, isTyping bool), heartbeat, idle time.Duration) *TypingNotifier {
	if heartbeat <= 0 {
		heartbeat = DefaultTypingHeartbeat
	}
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingNotifier{
		emit:      emit,
		heartbeat: heartbeat,
		idle:      idle,
		sessions:  make(map[string]*typingSession),
	}
}

// Keystroke records typing activity in a thread. The first keystroke
// transitions to TYPING and emits the start pulse; every keystroke resets
// the idle timer.
func (n *TypingNotifier) Keystroke(threadID string) {
	n.mu.Lock()
	sess, active := n.sessions[threadID]
	if active {
		sess.idleTimer.Reset(n.idle)
		n.mu.Unlock()
		return
	}

	sess = &typingSession{stopCh: make(chan struct{})}
	sess.idleTimer = time.AfterFunc(n.idle, func() { n.Stop(threadID) })
	n.sessions[threadID] = sess
	n.mu.Unlock()

	n.emit(threadID, true)
	go n.heartbeatLoop(threadID, sess.stopCh)
}

// Stop transitions a thread to IDLE (send, blur, or idle timeout), emitting
// the stopped pulse exactly once. Stopping an idle thread is a no-op.
func (n *TypingNotifier) Stop(threadID string) {
	n.mu.Lock()
	sess, active := n.sessions[threadID]
	if !active {
		n.mu.Unlock()
		return
	}
	delete(n.sessions, threadID)
	sess.idleTimer.Stop()
	close(sess.stopCh)
	n.mu.Unlock()

	n.emit(threadID, false)
}

// StopAll idles every thread, e.g. on disconnect or window blur.
func (n *TypingNotifier) StopAll() {
	n.mu.Lock()
	ids := make([]string, 0, len(n.sessions))
	for id := range n.sessions {
		ids = append(ids, id)
	}
	n.mu.Unlock()
	for _, id := range ids {
		n.Stop(id)
	}
}

// Typing reports whether a thread is currently in the TYPING state.
func (n *TypingNotifier) Typing(threadID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, active := n.sessions[threadID]
	return active
}

func (n *TypingNotifier) heartbeatLoop(threadID string, stopCh <-chan struct{}) {
	ticker := time.NewTicker(n.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Re-check under the lock so a pulse never races past Stop.
			n.mu.Lock()
			_, active := n.sessions[threadID]
			n.mu.Unlock()
			if !active {
				return
			}
			n.emit(threadID, true)
		}
	}
}

// ============================================================================
// Inbound: TypingWatcher
// ============================================================================

// watchEntry is the remote typing flag for one thread plus its decay timer.
type watchEntry struct {
	lastPulse time.Time
	decay     *time.Timer
}

// TypingWatcher tracks the remote participant's typing indicator per
// thread. The flag decays automatically after the decay window without a
// pulse, whether or not a stopped pulse ever arrives; a dropped stop event
// must not leave the indicator stuck. State is memory-only and never
// persisted.
type TypingWatcher struct {
	mu       sync.Mutex
	decay    time.Duration
	entries  map[string]*watchEntry
	onChange func(threadID string, isTyping bool)
}

// NewTypingWatcher creates a watcher. onChange, when non-nil, fires on every
// flag transition (including decay) and may be used to drive UI callbacks.
func NewTypingWatcher(decay time.Duration, onChange func(threadID string, isTyping bool)) *TypingWatcher {
	if decay <= 0 {
		decay = DefaultTypingDecay
	}
	return &TypingWatcher{
		decay:    decay,
		entries:  make(map[string]*watchEntry),
		onChange: onChange,
	}
}

// Observe records a typing_in_dm pulse for a thread.
func (w *TypingWatcher) Observe(threadID string, isTyping bool) {
	w.mu.Lock()
	entry, present := w.entries[threadID]

	if !isTyping {
		if !present {
			w.mu.Unlock()
			return
		}
		entry.decay.Stop()
		delete(w.entries, threadID)
		w.mu.Unlock()
		w.notify(threadID, false)
		return
	}

	if present {
		entry.lastPulse = time.Now()
		entry.decay.Reset(w.decay)
		w.mu.Unlock()
		return
	}

	entry = &watchEntry{lastPulse: time.Now()}
	entry.decay = time.AfterFunc(w.decay, func() { w.expire(threadID) })
	w.entries[threadID] = entry
	w.mu.Unlock()
	w.notify(threadID, true)
}

// IsTyping reports the current remote typing flag for a thread.
func (w *TypingWatcher) IsTyping(threadID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, present := w.entries[threadID]
	return present
}

func (w *TypingWatcher) expire(threadID string) {
	w.mu.Lock()
	entry, present := w.entries[threadID]
	if !present || time.Since(entry.lastPulse) < w.decay {
		w.mu.Unlock()
		return
	}
	delete(w.entries, threadID)
	w.mu.Unlock()
	w.notify(threadID, false)
}

func (w *TypingWatcher) notify(threadID string, isTyping bool) {
	if w.onChange != nil {
		w.onChange(threadID, isTyping)
	}
}
