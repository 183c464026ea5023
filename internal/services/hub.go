package services

import (
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-fleetsim/internal/metrics"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// TickHub fans frames out to stream subscribers. Publish never blocks: a
// subscriber whose buffer is full is dropped and its channel closed.
type TickHub struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	next   uint64
	subs   map[uint64]chan models.Frame
	closed bool
}

// NewTickHub creates a hub whose subscribers buffer up to buffer frames.
func NewTickHub(buffer int, logger *slog.Logger) *TickHub {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TickHub{
		logger: logger,
		buffer: buffer,
		subs:   make(map[uint64]chan models.Frame),
	}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
func (h *TickHub) Subscribe() (<-chan models.Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan models.Frame, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	metrics.SetStreamSubscribers(len(h.subs))
	return ch, func() { h.remove(id) }
}

// Publish delivers frame to every subscriber that has room.
func (h *TickHub) Publish(frame models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			delete(h.subs, id)
			close(ch)
			metrics.FrameDropped()
			h.logger.Warn("dropping slow tick subscriber", slog.Uint64("subscriber", id), slog.Uint64("tick", frame.Tick))
		}
	}
	metrics.SetStreamSubscribers(len(h.subs))
}

// Len reports the number of live subscribers.
func (h *TickHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *TickHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	metrics.SetStreamSubscribers(0)
}

func (h *TickHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		metrics.SetStreamSubscribers(len(h.subs))
	}
}
