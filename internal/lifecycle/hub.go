package lifecycle

import (
	"log/slog"
	"strings"
	"sync"

	"crease/internal/logging"
)

// State is the host lifecycle state.
type State string

const (
	StateActive     State = "active"
	StateInactive   State = "inactive"
	StateBackground State = "background"
)

// ParseState converts user input into a State.
func ParseState(value string) (State, bool) {
	switch State(strings.ToLower(strings.TrimSpace(value))) {
	case StateActive:
		return StateActive, true
	case StateInactive:
		return StateInactive, true
	case StateBackground:
		return StateBackground, true
	default:
		return "", false
	}
}

// Listener receives lifecycle changes.
type Listener func(State)

// Hub fans lifecycle changes out to subscribers.
type Hub struct {
	logger *slog.Logger

	mu        sync.Mutex
	current   State
	nextID    int
	listeners map[int]Listener
}

// NewHub returns a hub whose initial state is active.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logging.NewComponentLogger(logger, "lifecycle"),
		current:   StateActive,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (h *Hub) Subscribe(fn Listener) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish records state and notifies subscribers when it changed. It reports
// whether the state changed.
func (h *Hub) Publish(state State) bool {
	h.mu.Lock()
	if state == h.current {
		h.mu.Unlock()
		return false
	}
	previous := h.current
	h.current = state
	listeners := make([]Listener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	h.logger.Info("lifecycle changed",
		logging.String("from", string(previous)),
		logging.String("to", string(state)),
		logging.String(logging.FieldEventType, "lifecycle_changed"),
	)
	for _, fn := range listeners {
		fn(state)
	}
	return true
}

// Current returns the latest published state.
func (h *Hub) Current() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// ListenerCount reports the number of registered listeners.
func (h *Hub) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
