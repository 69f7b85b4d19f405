package classify

import (
	"testing"
	"time"
)

func TestTopicQueueActiveWindow(t *testing.T) {
	queue := NewTopicQueue(time.Minute)

	queue.Push("pricing")
	queue.Push("timeline")

	active := queue.Active(time.Now())
	if len(active) != 2 {
		t.Fatalf("expected 2 active topics, got %d", len(active))
	}
	if active[0].Topic != "pricing" || active[1].Topic != "timeline" {
		t.Errorf("unexpected topic order: %+v", active)
	}
	for _, item := range active {
		if item.ID == "" {
			t.Error("topic items must carry ids")
		}
	}

	// Query from beyond the window: everything is logically expired even
	// though nothing was deleted.
	future := time.Now().Add(2 * time.Minute)
	if got := queue.Active(future); len(got) != 0 {
		t.Errorf("expected no active topics past the window, got %d", len(got))
	}
	if queue.Len() == 0 {
		t.Error("expiry on read must not require physical deletion")
	}
}

func TestTopicQueuePrunesOnPush(t *testing.T) {
	queue := NewTopicQueue(10 * time.Millisecond)

	queue.Push("old")
	time.Sleep(20 * time.Millisecond)
	queue.Push("new")

	if queue.Len() != 1 {
		t.Errorf("expected expired topic pruned on push, have %d items", queue.Len())
	}

	active := queue.Active(time.Now())
	if len(active) != 1 || active[0].Topic != "new" {
		t.Errorf("expected only the new topic active, got %+v", active)
	}
}
