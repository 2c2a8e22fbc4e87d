package events_test

import (
	"testing"
	"time"

	"github.com/cloud-shuttle/muster/internal/events"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe("test")
	ev := events.New(events.EventIssueStarted, "run-1", "issue-1").WithPhase("plan")
	if err := bus.Publish(ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != events.EventIssueStarted || got.IssueID != "issue-1" {
			t.Errorf("got %+v", got)
		}
		if got.ID == "" {
			t.Error("event ID not assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestBus_SlowSubscriberSkippedNotBlocked(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe("slow")
	// Fill the subscriber's buffer and then some. Publish must never
	// block the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			bus.Publish(events.New(events.EventPhaseStarted, "run-1", "issue-1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer holds %d, want full %d", len(ch), cap(ch))
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe("test")
	if bus.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d", bus.SubscriberCount())
	}
	bus.Unsubscribe(ch)
	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount after unsubscribe = %d", bus.SubscriberCount())
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := events.NewBus()
	bus.Close()
	if err := bus.Publish(events.New(events.EventBatchStarted, "run-1", "")); err == nil {
		t.Error("Publish on a closed bus should fail")
	}
}
