package realtime

import (
	"sync"

	"marketplace-service/internal/models"
	"marketplace-service/internal/observability"
)

// PendingQueues buffers messages per conversation while the live channel is
// down, for replay on reconnect. Each queue is capped; when full, the oldest
// message is dropped. The buffer is in-memory only: messages here are already
// durably persisted, the queue exists purely for live delivery.
type PendingQueues struct {
	mu     sync.Mutex
	byConv map[string][]models.ChatMessage
	limit  int
	total  int
}

// NewPendingQueues builds the buffer with a per-conversation cap.
func NewPendingQueues(limit int) *PendingQueues {
	if limit <= 0 {
		limit = 100
	}
	return &PendingQueues{byConv: make(map[string][]models.ChatMessage), limit: limit}
}

// Add appends a message to a conversation's queue, dropping the oldest entry
// when the cap is reached.
func (p *PendingQueues) Add(conversationID string, msg models.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.byConv[conversationID]
	if len(q) >= p.limit {
		q = q[1:]
		p.total--
	}
	p.byConv[conversationID] = append(q, msg)
	p.total++
	observability.SetPendingMessages(p.total)
}

// Len reports the queue length for one conversation.
func (p *PendingQueues) Len(conversationID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byConv[conversationID])
}

// Drain removes and returns all buffered messages grouped by conversation.
func (p *PendingQueues) Drain() map[string][]models.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.byConv
	p.byConv = make(map[string][]models.ChatMessage)
	p.total = 0
	observability.SetPendingMessages(0)
	return out
}
