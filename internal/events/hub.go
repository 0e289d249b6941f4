// Package events keeps a short in-memory history of gateway deliveries and
// fans new ones out to subscribers.
package events

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Delivery sources.
const (
	SourceCallback = "callback"
	SourceRobot    = "robot"
)

// Event is one accepted callback event or robot message.
type Event struct {
	ID         int64           `json:"id"`
	DeliveryID string          `json:"delivery_id"`
	Source     string          `json:"source"`
	Type       string          `json:"type"`
	At         time.Time       `json:"at"`
	Data       json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64
	now    func() time.Time

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub returns a Hub retaining the last capacity events (100 if <= 0).
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		now:  time.Now,
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish stamps and buffers an event and returns the stored copy. data is
// stored as compact JSON; values that fail to marshal are stored as {}.
func (h *Hub) Publish(deliveryID, source, eventType string, data any) Event {
	id := h.nextID.Add(1)

	payload := json.RawMessage("{}")
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err == nil {
			payload = buf.Bytes()
		}
	default:
		if b, err := json.Marshal(v); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:         id,
		DeliveryID: deliveryID,
		Source:     source,
		Type:       eventType,
		At:         h.now().UTC(),
		Data:       payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return ev
}

// Subscribe registers a buffered listener. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
