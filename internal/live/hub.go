// Package live pushes message snapshots to websocket clients watching a thread.
package live

import (
	"log/slog"
	"sync"

	"github.com/ashureev/sagent/internal/domain"
)

// UpdateMessage is the type of an Update carrying a message snapshot.
const UpdateMessage = "message"

const defaultBuffer = 32

// Update is the JSON frame sent to subscribers.
type Update struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message,omitempty"`
}

type subscriber struct {
	ch chan Update
}

// Hub fans out message snapshots to the subscribers of each thread.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

// NewHub creates a hub whose subscribers buffer up to buffer updates.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for threadID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(threadID string) (<-chan Update, func()) {
	s := &subscriber{ch: make(chan Update, h.buffer)}

	h.mu.Lock()
	if _, ok := h.subs[threadID]; !ok {
		h.subs[threadID] = make(map[*subscriber]struct{})
	}
	h.subs[threadID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[threadID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, threadID)
				}
			}
			close(s.ch)
		})
	}
}

// Publish sends msg to every subscriber of its thread. A subscriber whose
// buffer is full misses the update; the next snapshot supersedes it.
func (h *Hub) Publish(msg *domain.Message) {
	if msg == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[msg.ThreadID] {
		select {
		case s.ch <- Update{Type: UpdateMessage, Message: msg}:
		default:
			slog.Debug("Live subscriber lagging, update dropped", "thread_id", msg.ThreadID, "message_id", msg.ID)
		}
	}
}

// Subscribers returns the number of subscribers for threadID.
func (h *Hub) Subscribers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[threadID])
}
