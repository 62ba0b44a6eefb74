package realtime

import (
	"strconv"
	"testing"

	"marketplace-service/internal/models"
)

func TestPendingQueuesCapDropsOldest(t *testing.T) {
	p := NewPendingQueues(3)

	for i := 0; i < 5; i++ {
		p.Add("conv1", models.ChatMessage{ID: strconv.Itoa(i)})
	}

	if got := p.Len("conv1"); got != 3 {
		t.Fatalf("expected queue capped at 3, got %d", got)
	}

	drained := p.Drain()
	msgs := drained["conv1"]
	if len(msgs) != 3 {
		t.Fatalf("expected 3 drained messages, got %d", len(msgs))
	}
	for i, want := range []string{"2", "3", "4"} {
		if msgs[i].ID != want {
			t.Fatalf("expected message %d to be %q, got %q", i, want, msgs[i].ID)
		}
	}
}

func TestPendingQueuesPerConversation(t *testing.T) {
	p := NewPendingQueues(10)

	p.Add("conv1", models.ChatMessage{ID: "a"})
	p.Add("conv2", models.ChatMessage{ID: "b"})
	p.Add("conv2", models.ChatMessage{ID: "c"})

	if p.Len("conv1") != 1 || p.Len("conv2") != 2 {
		t.Fatalf("unexpected per-conversation lengths: %d, %d", p.Len("conv1"), p.Len("conv2"))
	}
}

func TestPendingQueuesDrainEmpties(t *testing.T) {
	p := NewPendingQueues(10)
	p.Add("conv1", models.ChatMessage{ID: "a"})

	if got := len(p.Drain()); got != 1 {
		t.Fatalf("expected 1 conversation drained, got %d", got)
	}
	if p.Len("conv1") != 0 {
		t.Fatalf("expected empty queue after drain")
	}
	if got := len(p.Drain()); got != 0 {
		t.Fatalf("expected nothing left to drain, got %d", got)
	}
}
