package bus

import (
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(16)

	b.Publish(SessionCreated{SessionID: "s1"})
	b.Publish(StatusChanged{SessionID: "s1", Old: "new", New: "in_progress"})
	b.Publish(OutputAppended{SessionID: "s1", Chunk: "hi"})

	if ev, ok := (<-b.Events()).(SessionCreated); !ok || ev.SessionID != "s1" {
		t.Fatalf("first event = %#v", ev)
	}
	if ev, ok := (<-b.Events()).(StatusChanged); !ok || ev.New != "in_progress" {
		t.Fatalf("second event = %#v", ev)
	}
	if ev, ok := (<-b.Events()).(OutputAppended); !ok || ev.Chunk != "hi" {
		t.Fatalf("third event = %#v", ev)
	}

	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected extra event: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishBlocksRatherThanDrops(t *testing.T) {
	b := New(1)
	b.Publish(Tick{})

	published := make(chan struct{})
	go func() {
		b.Publish(Tick{})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish should block on a full buffer")
	case <-time.After(20 * time.Millisecond):
	}

	<-b.Events()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete after the buffer drained")
	}
}
