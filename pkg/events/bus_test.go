package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBusOrderPerProducer(t *testing.T) {
	bus := NewBusSize(10)
	ctx := context.Background()

	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(ctx, Content(fmt.Sprintf("chunk-%d", i), "task_1"))
		}
		bus.Close()
	}()

	var got []string
	for ev := range bus.Events() {
		got = append(got, ev.Payload["content"].(string))
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, content := range got {
		want := fmt.Sprintf("chunk-%d", i)
		if content != want {
			t.Errorf("event %d: expected %q, got %q", i, want, content)
		}
	}
}

func TestBusMultiplexesProducers(t *testing.T) {
	bus := NewBusSize(50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			tagged := NewTaggedPublisher(bus, fmt.Sprintf("task_%d", p))
			for i := 0; i < 4; i++ {
				tagged.Publish(ctx, Thinking("step"))
			}
		}(p)
	}
	go func() {
		wg.Wait()
		bus.Close()
	}()

	counts := map[string]int{}
	for ev := range bus.Events() {
		counts[ev.TaskID()]++
	}

	for p := 0; p < 3; p++ {
		id := fmt.Sprintf("task_%d", p)
		if counts[id] != 4 {
			t.Errorf("producer %s: expected 4 events, got %d", id, counts[id])
		}
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBusSize(5)
	bus.Close()
	bus.Close() // idempotent

	if bus.Publish(context.Background(), Status("idle", "late")) {
		t.Error("publish after close should return false")
	}

	if _, open := <-bus.Events(); open {
		t.Error("events channel should be closed")
	}
}

func TestBusBackpressureRespectsContext(t *testing.T) {
	bus := NewBusSize(1)
	ctx := context.Background()

	if !bus.Publish(ctx, Thinking("fills the buffer")) {
		t.Fatal("first publish should succeed")
	}

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if bus.Publish(cancelled, Thinking("blocked")) {
		t.Error("publish against a full buffer should fail once context expires")
	}
}

func TestTaggedPublisherPreservesExistingTag(t *testing.T) {
	bus := NewBusSize(2)
	tagged := NewTaggedPublisher(bus, "task_a")
	ctx := context.Background()

	tagged.Publish(ctx, Content("own tag", "task_b"))
	tagged.Publish(ctx, Thinking("untagged"))
	bus.Close()

	ev1 := <-bus.Events()
	if ev1.TaskID() != "task_b" {
		t.Errorf("existing tag should win, got %q", ev1.TaskID())
	}
	ev2 := <-bus.Events()
	if ev2.TaskID() != "task_a" {
		t.Errorf("untagged event should gain the wrapper tag, got %q", ev2.TaskID())
	}
}

func TestDoneIsTerminal(t *testing.T) {
	done := Done("success", "finished", map[string]any{"iterations": 7})
	if !done.IsTerminal() {
		t.Error("done event must be terminal")
	}
	if done.Payload["iterations"] != 7 {
		t.Error("extra payload fields should be preserved")
	}
	if Status("running", "working").IsTerminal() {
		t.Error("status event must not be terminal")
	}
}
