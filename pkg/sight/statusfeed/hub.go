package statusfeed

import (
	"log/slog"
	"sync"

	"github.com/vango-go/vai-sight/pkg/sight/perception"
	"github.com/vango-go/vai-sight/pkg/sight/session"
	"github.com/vango-go/vai-sight/pkg/sight/transcript"
)

const (
	MessageStatus     = "status"
	MessagePerception = "perception"
	MessageTranscript = "transcript"
	MessageTurns      = "turns"
)

const defaultSubscriberBuffer = 32

// Message is one push to /v1/events subscribers.
type Message struct {
	Type       string            `json:"type"`
	Snapshot   *session.Snapshot `json:"snapshot,omitempty"`
	Perception perception.State  `json:"perception,omitempty"`
	Input      string            `json:"input,omitempty"`
	Output     string            `json:"output,omitempty"`
	Turns      []transcript.Turn `json:"turns,omitempty"`
}

// Hub fans controller changes out to websocket subscribers. A subscriber
// that falls behind loses messages rather than stalling the session.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

var _ session.Observer = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*Subscription]struct{})}
}

type Subscription struct {
	hub *Hub
	ch  chan Message

	mu      sync.Mutex
	dropped int
}

// C yields messages until the subscription is cancelled or the hub closes.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped reports how many messages were discarded for this subscriber.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// Subscribe registers a subscriber with the given queue size.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &Subscription{hub: h, ch: make(chan Message, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers msg to every subscriber without blocking.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
			h.logger.Debug("status feed subscriber behind, message dropped", "type", msg.Type)
		}
	}
}

func (h *Hub) StatusChanged(snap session.Snapshot) {
	h.Publish(Message{Type: MessageStatus, Snapshot: &snap})
}

func (h *Hub) PerceptionChanged(state perception.State) {
	h.Publish(Message{Type: MessagePerception, Perception: state})
}

func (h *Hub) TranscriptUpdated(input, output string) {
	h.Publish(Message{Type: MessageTranscript, Input: input, Output: output})
}

func (h *Hub) TurnsCommitted(turns []transcript.Turn) {
	h.Publish(Message{Type: MessageTurns, Turns: turns})
}
