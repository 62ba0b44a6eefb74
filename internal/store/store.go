package store

import (
	"context"
	"errors"

	"marketplace-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// ConversationStore abstracts durable conversation persistence. Two backends
// implement it: a Postgres store for hosted environments and an in-memory
// store for development. Both produce the same logical shape, and callers can
// rely on ErrConversationNotFound being distinguishable from transient
// failure.
type ConversationStore interface {
	FindByID(ctx context.Context, conversationID string) (models.Conversation, error)
	CreateOrGet(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	Update(ctx context.Context, conv models.Conversation) error
	AppendMessage(ctx context.Context, conversationID string, msg models.ChatMessage) (models.ChatMessage, error)
	Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, conversationID string, role string, messageIDs []string) error
	Flag(ctx context.Context, conversationID string, reason string) error
	ListForParticipant(ctx context.Context, email string, role string) ([]models.Conversation, error)
	Close() error
}
