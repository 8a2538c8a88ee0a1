package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sandbox-runner-server/models"
)

func chunk(session, data string) models.OutputChunk {
	return models.OutputChunk{SessionID: session, Stream: models.StreamStdout, Data: data}
}

func TestRelayFanOutPreservesOrder(t *testing.T) {
	relay := NewOutputRelay(nil, nil)
	defer relay.Close()

	a := relay.Subscribe("s1", 8)
	b := relay.Subscribe("s1", 8)
	other := relay.Subscribe("s2", 8)

	for _, d := range []string{"one", "two", "three"} {
		relay.Publish(chunk("s1", d))
	}

	for _, sub := range []*Subscription{a, b} {
		var last uint64
		for _, want := range []string{"one", "two", "three"} {
			got := <-sub.C
			if got.Data != want {
				t.Errorf("got %q, want %q", got.Data, want)
			}
			if got.Seq <= last {
				t.Errorf("seq %d not increasing after %d", got.Seq, last)
			}
			if got.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
			last = got.Seq
		}
	}

	select {
	case c := <-other.C:
		t.Errorf("s2 received %+v", c)
	default:
	}
}

func TestRelayDropsWithoutSubscribers(t *testing.T) {
	var drops atomic.Int64
	relay := NewOutputRelay(nil, func() { drops.Add(1) })
	defer relay.Close()

	relay.Publish(chunk("nobody", "lost"))

	sub := relay.Subscribe("nobody", 4)
	select {
	case c := <-sub.C:
		t.Errorf("chunk published before subscribe was replayed: %+v", c)
	default:
	}
	if drops.Load() != 0 {
		t.Errorf("drops = %d; chunks without listeners are not counted", drops.Load())
	}
}

func TestRelaySlowSubscriberDoesNotBlock(t *testing.T) {
	var drops atomic.Int64
	relay := NewOutputRelay(nil, func() { drops.Add(1) })
	defer relay.Close()

	slow := relay.Subscribe("s", 1)
	fast := relay.Subscribe("s", 10)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			relay.Publish(chunk("s", "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if slow.Dropped() != 4 {
		t.Errorf("slow dropped = %d, want 4", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast dropped = %d, want 0", fast.Dropped())
	}
	if drops.Load() != 4 {
		t.Errorf("onDrop calls = %d, want 4", drops.Load())
	}
}

func TestRelayUnsubscribe(t *testing.T) {
	relay := NewOutputRelay(nil, nil)
	defer relay.Close()

	sub := relay.Subscribe("s", 4)
	if relay.Subscribers("s") != 1 {
		t.Fatalf("Subscribers = %d", relay.Subscribers("s"))
	}
	sub.Close()
	sub.Close()

	if relay.Subscribers("s") != 0 {
		t.Errorf("Subscribers after Close = %d", relay.Subscribers("s"))
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel not closed")
	}
	relay.Publish(chunk("s", "after"))
}

func TestRelayCloseEndsSubscriptions(t *testing.T) {
	relay := NewOutputRelay(nil, nil)
	sub := relay.Subscribe("s", 4)

	relay.Close()
	relay.Close()

	if _, ok := <-sub.C; ok {
		t.Error("subscription open after Close")
	}
	sub.Close()

	late := relay.Subscribe("s", 4)
	if _, ok := <-late.C; ok {
		t.Error("subscription on closed relay is open")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	chunks []models.OutputChunk
}

func (s *recordingSink) PublishOutput(ctx context.Context, c models.OutputChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	return nil
}

func TestRelayForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	relay := NewOutputRelay(sink, nil)

	relay.Publish(chunk("a", "1"))
	relay.Publish(chunk("b", "2"))
	relay.Publish(chunk("a", "3"))
	relay.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.chunks) != 3 {
		t.Fatalf("sink received %d chunks, want 3", len(sink.chunks))
	}
	for i, want := range []string{"1", "2", "3"} {
		if sink.chunks[i].Data != want {
			t.Errorf("chunk %d = %q, want %q", i, sink.chunks[i].Data, want)
		}
	}
}

func TestOutputCollectorCapsAndFreezes(t *testing.T) {
	relay := NewOutputRelay(nil, nil)
	defer relay.Close()
	sub := relay.Subscribe("s", 8)

	c := newOutputCollector(relay, "s", "e1", 4)
	c.Stdout().Write([]byte("abcdef"))
	c.Stderr().Write([]byte("xy"))

	stdout, stderr, truncated := c.snapshot()
	if stdout != "abcd" || stderr != "xy" || !truncated {
		t.Errorf("snapshot = %q %q %v", stdout, stderr, truncated)
	}

	// The relay still saw the full chunk.
	if got := <-sub.C; got.Data != "abcdef" || got.ExecutionID != "e1" {
		t.Errorf("relayed = %+v", got)
	}

	c.Stdout().Write([]byte("late"))
	if stdout, _, _ := c.snapshot(); stdout != "abcd" {
		t.Errorf("write after snapshot changed stdout to %q", stdout)
	}
}
