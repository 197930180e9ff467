// Package events streams run lifecycle events to websocket subscribers.
// The broadcaster doubles as the orchestrator's event sink: recording is
// best-effort and a slow or broken subscriber never fails a run.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/outrigger-ai/outrigger/pkg/orchestrator"
)

// Envelope is the wire format sent to subscribers
type Envelope struct {
	Type      string             `json:"type"`
	Seq       int64              `json:"seq"`
	Timestamp int64              `json:"timestamp"`
	Event     orchestrator.Event `json:"event"`
}

// subscriber wraps one websocket connection; writes are serialized because
// gorilla connections allow a single concurrent writer
type subscriber struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster fans events out to every connected subscriber
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	logger      zerolog.Logger
	seq         uint64
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers a connection under the given id
func (b *Broadcaster) Subscribe(id string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = &subscriber{id: id, conn: conn}
}

// Unsubscribe drops a connection; the caller owns closing it
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// SubscriberCount returns the number of connected subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Record implements orchestrator.EventSink
func (b *Broadcaster) Record(ctx context.Context, event orchestrator.Event) error {
	envelope := Envelope{
		Type:      "event",
		Seq:       b.nextSeq(),
		Timestamp: time.Now().UnixMilli(),
		Event:     event,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to marshal event")
		return nil
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	failed := 0
	for _, s := range subs {
		if err := s.write(data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("subscriber", s.id).
				Str("event", event.Type).
				Msg("Failed to deliver event, dropping subscriber")
			b.Unsubscribe(s.id)
			failed++
		}
	}

	b.logger.Debug().
		Str("event", event.Type).
		Str("run_id", event.RunID).
		Int64("seq", envelope.Seq).
		Int("delivered", len(subs)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
	return nil
}

func (b *Broadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
