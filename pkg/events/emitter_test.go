package events

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"codecrew/pkg/proto"
)

func TestEmitAssignsMonotonicSeqPerSession(t *testing.T) {
	em := NewEmitter(100)

	for i := 0; i < 3; i++ {
		em.Emit(proto.NewEvent("s1", proto.EventLog))
	}
	em.Emit(proto.NewEvent("s2", proto.EventLog))

	s1 := em.History("s1", 0)
	if len(s1) != 3 {
		t.Fatalf("s1 history = %d events, want 3", len(s1))
	}
	for i, ev := range s1 {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	s2 := em.History("s2", 0)
	if len(s2) != 1 || s2[0].Seq != 1 {
		t.Errorf("s2 should sequence independently, got %+v", s2)
	}
}

func TestHistoryAfterFilter(t *testing.T) {
	em := NewEmitter(100)
	for i := 0; i < 5; i++ {
		em.Emit(proto.NewEvent("s", proto.EventLog))
	}

	tail := em.History("s", 3)
	if len(tail) != 2 {
		t.Fatalf("got %d events after seq 3, want 2", len(tail))
	}
	if tail[0].Seq != 4 || tail[1].Seq != 5 {
		t.Errorf("tail seqs = %d, %d", tail[0].Seq, tail[1].Seq)
	}
}

func TestHistoryBounded(t *testing.T) {
	em := NewEmitter(3)
	for i := 0; i < 10; i++ {
		em.Emit(proto.NewEvent("s", proto.EventLog))
	}

	hist := em.History("s", 0)
	if len(hist) != 3 {
		t.Fatalf("history = %d events, want 3", len(hist))
	}
	if hist[0].Seq != 8 {
		t.Errorf("oldest retained seq = %d, want 8", hist[0].Seq)
	}
}

func TestTransportFanOut(t *testing.T) {
	em := NewEmitter(10)

	var mu sync.Mutex
	var got []uint64
	em.AddTransport(TransportFunc(func(ev *proto.Event) error {
		mu.Lock()
		got = append(got, ev.Seq)
		mu.Unlock()
		return nil
	}))

	// A failing transport must not affect other transports or the caller.
	em.AddTransport(TransportFunc(func(*proto.Event) error {
		return errors.New("sink down")
	}))

	em.Emit(proto.NewEvent("s", proto.EventStatus))
	em.Emit(proto.NewEvent("s", proto.EventStatus))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("delivered seqs = %v", got)
	}
}

func TestForget(t *testing.T) {
	em := NewEmitter(10)
	em.Emit(proto.NewEvent("s", proto.EventLog))
	em.Forget("s")

	if len(em.History("s", 0)) != 0 {
		t.Error("history survived Forget")
	}
}

func TestConcurrentEmitKeepsSequenceDense(t *testing.T) {
	em := NewEmitter(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				em.Emit(proto.NewEvent("s", proto.EventLog))
			}
		}()
	}
	wg.Wait()

	hist := em.History("s", 0)
	if len(hist) != 200 {
		t.Fatalf("history = %d events, want 200", len(hist))
	}
	seen := make(map[uint64]bool)
	for _, ev := range hist {
		if seen[ev.Seq] {
			t.Fatalf("duplicate seq %d", ev.Seq)
		}
		seen[ev.Seq] = true
	}
	for want := uint64(1); want <= 200; want++ {
		if !seen[want] {
			t.Fatalf("missing seq %d", want)
		}
	}
}

func TestConcurrentEmitDeliversInSequenceOrder(t *testing.T) {
	em := NewEmitter(1000)

	var mu sync.Mutex
	var delivered []uint64
	em.AddTransport(TransportFunc(func(ev *proto.Event) error {
		mu.Lock()
		delivered = append(delivered, ev.Seq)
		mu.Unlock()
		// Widen the window between sequence assignment and delivery.
		runtime.Gosched()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				em.Emit(proto.NewEvent("s", proto.EventLog))
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 200 {
		t.Fatalf("delivered %d events, want 200", len(delivered))
	}
	for i := 1; i < len(delivered); i++ {
		if delivered[i] <= delivered[i-1] {
			t.Fatalf("delivery order inverted: seq %d delivered after seq %d", delivered[i], delivered[i-1])
		}
	}
}

type countingTransport struct {
	mu    sync.Mutex
	count int
}

func (c *countingTransport) Deliver(*proto.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func TestRemoveTransport(t *testing.T) {
	em := NewEmitter(10)
	sink := &countingTransport{}

	em.AddTransport(sink)
	em.Emit(proto.NewEvent("s", proto.EventLog))
	em.RemoveTransport(sink)
	em.Emit(proto.NewEvent("s", proto.EventLog))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.count != 1 {
		t.Errorf("delivered = %d, want 1", sink.count)
	}
}
