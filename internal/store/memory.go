package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"marketplace-service/internal/models"
)

// memoryEntry holds one conversation and its message sequence.
type memoryEntry struct {
	mu       sync.Mutex
	conv     models.Conversation
	messages []models.ChatMessage
}

// MemoryStore is the development backend: a TTL-bounded in-process store with
// the same semantics as the Postgres store. Conversations idle past the TTL
// are evicted, which keeps the store from growing without bound during long
// dev sessions.
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewMemoryStore builds a MemoryStore. A non-positive ttl disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
	}
	return &MemoryStore{c: cache.New(ttl, ttl/2)}
}

func (s *MemoryStore) entry(conversationID string) (*memoryEntry, bool) {
	val, ok := s.c.Get(conversationID)
	if !ok {
		return nil, false
	}
	return val.(*memoryEntry), true
}

// FindByID fetches a conversation by id.
func (s *MemoryStore) FindByID(ctx context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entry(conversationID)
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.conv, nil
}

// CreateOrGet creates the conversation if missing and returns the stored one.
func (s *MemoryStore) CreateOrGet(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	conv.CustomerKey = NormalizeKey(conv.CustomerEmail)
	conv.ID = ConversationID(conv.CustomerEmail, conv.ListingID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entry(conv.ID); ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.conv, nil
	}

	now := time.Now()
	conv.CustomerRead = true
	conv.CreatedAt = now
	conv.LastMessageAt = now
	s.c.SetDefault(conv.ID, &memoryEntry{conv: conv})
	return conv, nil
}

// Update persists conversation metadata.
func (s *MemoryStore) Update(ctx context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entry(conv.ID)
	if !ok {
		return ErrConversationNotFound
	}
	entry.mu.Lock()
	entry.conv = conv
	entry.mu.Unlock()
	s.c.SetDefault(conv.ID, entry)
	return nil
}

// AppendMessage appends to an existing conversation; a missing conversation
// is an error, not an upsert.
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg models.ChatMessage) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entry(conversationID)
	if !ok {
		return models.ChatMessage{}, ErrConversationNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	msg.ConversationID = conversationID
	msg.CreatedAt = time.Now()

	entry.mu.Lock()
	entry.messages = append(entry.messages, msg)
	entry.conv.LastMessageAt = msg.CreatedAt
	entry.conv.CustomerRead = msg.Sender == models.RoleCustomer
	entry.conv.SellerRead = msg.Sender == models.RoleSeller
	entry.mu.Unlock()

	// refresh the TTL on activity
	s.c.SetDefault(conversationID, entry)
	return msg, nil
}

// Messages returns the ordered message sequence of a conversation.
func (s *MemoryStore) Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entry(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]models.ChatMessage, len(entry.messages))
	copy(out, entry.messages)
	return out, nil
}

// MarkRead flips the per-side read flag and marks the given messages read.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID string, role string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entry(conversationID)
	if !ok {
		return ErrConversationNotFound
	}

	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if role == models.RoleCustomer {
		entry.conv.CustomerRead = true
	} else {
		entry.conv.SellerRead = true
	}
	for i := range entry.messages {
		if _, ok := ids[entry.messages[i].ID]; ok {
			entry.messages[i].IsRead = true
			entry.messages[i].Status = models.StatusRead
		}
	}
	return nil
}

// Flag sets the moderation fields on a conversation.
func (s *MemoryStore) Flag(ctx context.Context, conversationID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entry(conversationID)
	if !ok {
		return ErrConversationNotFound
	}
	now := time.Now()
	entry.mu.Lock()
	entry.conv.Flagged = true
	entry.conv.FlagReason = reason
	entry.conv.FlaggedAt = &now
	entry.mu.Unlock()
	return nil
}

// ListForParticipant returns conversations for a customer or seller.
func (s *MemoryStore) ListForParticipant(ctx context.Context, email string, role string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeKey(email)
	var out []models.Conversation
	for _, item := range s.c.Items() {
		entry := item.Object.(*memoryEntry)
		entry.mu.Lock()
		conv := entry.conv
		entry.mu.Unlock()
		if role == models.RoleCustomer && conv.CustomerKey == key {
			out = append(out, conv)
		}
		if role == models.RoleSeller && NormalizeKey(conv.SellerEmail) == key {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

var _ ConversationStore = (*MemoryStore)(nil)
