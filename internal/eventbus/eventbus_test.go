package eventbus

import (
	"testing"

	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/model"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Publish(events.ModeChangeEvent{Inverter: "inv-1", To: model.ForceCharge})
	v := <-ch
	ev, ok := v.(events.ModeChangeEvent)
	if !ok || ev.To != model.ForceCharge {
		t.Fatalf("unexpected event %v", v)
	}
	bus.Unsubscribe(ch)
}

func TestBusClose(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}

func TestBusCountsDroppedEvents(t *testing.T) {
	bus := NewWithBuffer(1)
	ch := bus.Subscribe()
	bus.Publish(events.CycleEvent{CycleID: "a"})
	bus.Publish(events.CycleEvent{CycleID: "b"})
	bus.Publish(events.CycleEvent{CycleID: "c"})
	if got := bus.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped got %d", got)
	}
	if ev := (<-ch).(events.CycleEvent); ev.CycleID != "a" {
		t.Fatalf("expected first event kept, got %s", ev.CycleID)
	}
}
