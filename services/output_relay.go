package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sandbox-runner-server/models"
)

const (
	defaultSubscriberBuffer = 256
	sinkBuffer              = 1024
	sinkPublishTimeout      = 2 * time.Second
)

// RelaySink receives every published chunk, e.g. to bridge the relay to an
// external pub/sub transport.
type RelaySink interface {
	PublishOutput(ctx context.Context, chunk models.OutputChunk) error
}

// Subscription is one listener on a session's output
type Subscription struct {
	C         <-chan models.OutputChunk
	SessionID string

	id      uint64
	ch      chan models.OutputChunk
	relay   *OutputRelay
	dropped atomic.Uint64
	closed  bool
}

// Dropped returns how many chunks were discarded because the subscriber's
// buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() { s.relay.unsubscribe(s) }

// OutputRelay fans live output out to subscribers keyed by session id. It is
// a live tap: chunks for a session nobody listens to are dropped, and a
// subscriber that falls behind loses chunks instead of stalling the producer.
type OutputRelay struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	seq    uint64
	closed bool

	sink   RelaySink
	sinkCh chan models.OutputChunk
	wg     sync.WaitGroup

	onDrop func()
}

// NewOutputRelay creates a relay. sink may be nil.
func NewOutputRelay(sink RelaySink, onDrop func()) *OutputRelay {
	r := &OutputRelay{
		subs:   make(map[string]map[uint64]*Subscription),
		sink:   sink,
		onDrop: onDrop,
	}
	if sink != nil {
		r.sinkCh = make(chan models.OutputChunk, sinkBuffer)
		r.wg.Add(1)
		go r.forward()
	}
	return r
}

// Subscribe registers a listener for sessionID. buffer <= 0 uses a default.
func (r *OutputRelay) Subscribe(sessionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan models.OutputChunk, buffer)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{C: ch, SessionID: sessionID, id: r.nextID, ch: ch, relay: r}
	if r.closed {
		sub.closed = true
		close(ch)
		return sub
	}
	if r.subs[sessionID] == nil {
		r.subs[sessionID] = make(map[uint64]*Subscription)
	}
	r.subs[sessionID][sub.id] = sub
	return sub
}

// Publish delivers chunk to every subscriber of chunk.SessionID without
// blocking. Sends happen under the relay lock so every subscriber sees the
// same production order.
func (r *OutputRelay) Publish(chunk models.OutputChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	subs := r.subs[chunk.SessionID]
	if len(subs) == 0 && r.sinkCh == nil {
		return
	}

	r.seq++
	chunk.Seq = r.seq
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now().UTC()
	}

	for _, sub := range subs {
		select {
		case sub.ch <- chunk:
		default:
			sub.dropped.Add(1)
			r.drop()
		}
	}

	if r.sinkCh != nil {
		select {
		case r.sinkCh <- chunk:
		default:
			r.drop()
		}
	}
}

// Subscribers returns the number of listeners for a session
func (r *OutputRelay) Subscribers(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[sessionID])
}

// Close ends every subscription and drains the sink.
func (r *OutputRelay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for sessionID, subs := range r.subs {
		for _, sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(r.subs, sessionID)
	}
	if r.sinkCh != nil {
		close(r.sinkCh)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *OutputRelay) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	subs := r.subs[sub.SessionID]
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(r.subs, sub.SessionID)
	}
}

func (r *OutputRelay) drop() {
	if r.onDrop != nil {
		r.onDrop()
	}
}

// forward runs in a single goroutine so the sink sees chunks in order.
func (r *OutputRelay) forward() {
	defer r.wg.Done()
	for chunk := range r.sinkCh {
		ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
		if err := r.sink.PublishOutput(ctx, chunk); err != nil {
			log.Debug().Err(err).Str("session_id", chunk.SessionID).Msg("relay sink publish failed")
		}
		cancel()
	}
}
