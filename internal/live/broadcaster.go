// Package live pushes metrics snapshots to dashboard subscribers. A single
// timer loop recomputes the snapshot about once a second and broadcasts only
// when it changed, so a burst of writes inside one window produces exactly
// one message, and writes made by other processes to the same database file
// are picked up too.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/123zcr/traceboard/internal/analytics"
)

const (
	MessageTypeUpdate    = "update"
	MessageTypeHeartbeat = "heartbeat"
)

// Message is one server-push frame.
type Message struct {
	Type    string              `json:"type"`
	Metrics *analytics.Snapshot `json:"metrics,omitempty"`
}

// Snapshotter computes the current metrics snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*analytics.Snapshot, error)
}

// Options tune the broadcast loop. Zero values fall back to defaults.
type Options struct {
	// Interval is the debounce window between snapshot recomputations.
	Interval time.Duration
	// HeartbeatInterval spaces out keepalive frames on idle streams.
	HeartbeatInterval time.Duration
	// SendBuffer is the per-subscriber channel capacity. A subscriber
	// whose buffer is full when a frame arrives is dropped rather than
	// allowed to stall the loop.
	SendBuffer int
}

const (
	defaultInterval          = time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultSendBuffer        = 16
)

type Broadcaster struct {
	metrics           Snapshotter
	logger            *slog.Logger
	interval          time.Duration
	heartbeatInterval time.Duration
	sendBuffer        int

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	lastPayload []byte

	dirty              atomic.Bool
	droppedSubscribers atomic.Int64
}

// Subscriber is one registered listener. Close is safe to call more than
// once and from any goroutine; after Close the Events channel is closed.
type Subscriber struct {
	b  *Broadcaster
	ch chan Message
}

func NewBroadcaster(metrics Snapshotter, logger *slog.Logger, opts Options) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Broadcaster{
		metrics:           metrics,
		logger:            logger,
		interval:          opts.Interval,
		heartbeatInterval: opts.HeartbeatInterval,
		sendBuffer:        opts.SendBuffer,
		subscribers:       make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a listener. The next tick pushes a full snapshot to
// every subscriber, so a fresh subscriber never waits for a write to see data.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		b:  b,
		ch: make(chan Message, b.sendBuffer),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.lastPayload = nil
	b.mu.Unlock()
	return sub
}

// Events is the subscriber's receive channel. It closes when the subscriber
// is dropped or Close is called.
func (s *Subscriber) Events() <-chan Message {
	return s.ch
}

// Close removes the subscriber from the registry. Closing twice, or closing
// a subscriber the broadcaster already dropped, is a no-op.
func (s *Subscriber) Close() {
	if s == nil || s.b == nil {
		return
	}
	s.b.mu.Lock()
	s.b.removeLocked(s)
	s.b.mu.Unlock()
}

func (b *Broadcaster) removeLocked(sub *Subscriber) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

// SubscriberCount returns the number of registered listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// DroppedSubscribers returns how many listeners were dropped for not
// keeping up with the stream.
func (b *Broadcaster) DroppedSubscribers() int64 {
	return b.droppedSubscribers.Load()
}

// Notify marks the snapshot dirty so the next tick recomputes even when the
// marshaled payload would compare equal. Write paths call it after a flush;
// it never blocks.
func (b *Broadcaster) Notify() {
	b.dirty.Store(true)
}

// Run drives the broadcast loop until the context is canceled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(b.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		case <-heartbeat.C:
			b.broadcast(Message{Type: MessageTypeHeartbeat})
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	dirty := b.dirty.Swap(false)
	if b.SubscriberCount() == 0 {
		// Nobody listening; leave the dirty flag consumed, the next
		// subscriber forces a push by clearing lastPayload.
		return
	}

	snapshot, err := b.metrics.Snapshot(ctx)
	if err != nil {
		b.logger.Warn("live metrics snapshot failed", "error", err)
		if dirty {
			b.dirty.Store(true)
		}
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Warn("live metrics snapshot marshal failed", "error", err)
		return
	}

	b.mu.Lock()
	changed := !bytes.Equal(payload, b.lastPayload)
	if changed {
		b.lastPayload = payload
	}
	b.mu.Unlock()

	if !changed {
		return
	}
	b.broadcast(Message{Type: MessageTypeUpdate, Metrics: snapshot})
}

func (b *Broadcaster) broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- msg:
		default:
			// Slow consumer; drop it instead of stalling the loop.
			b.removeLocked(sub)
			b.droppedSubscribers.Add(1)
			b.logger.Warn("dropped slow live subscriber")
		}
	}
}
