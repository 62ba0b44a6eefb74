package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-service/internal/models"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(0)
}

func seedConversation(t *testing.T, s *MemoryStore) models.Conversation {
	t.Helper()
	conv, err := s.CreateOrGet(context.Background(), models.Conversation{
		CustomerEmail: "Buyer@Example.com",
		SellerEmail:   "seller@example.com",
		ListingID:     "LST-1",
	})
	require.NoError(t, err)
	return conv
}

func TestCreateOrGetDerivesID(t *testing.T) {
	s := newTestStore()
	conv := seedConversation(t, s)

	assert.Equal(t, "buyer_example_com_lst_1", conv.ID)
	assert.Equal(t, "buyer_example_com", conv.CustomerKey)
	assert.True(t, conv.CustomerRead)
	assert.False(t, conv.SellerRead)
}

func TestCreateOrGetReturnsExisting(t *testing.T) {
	s := newTestStore()
	first := seedConversation(t, s)

	// Different email casing must resolve to the same conversation.
	second, err := s.CreateOrGet(context.Background(), models.Conversation{
		CustomerEmail: "BUYER@example.COM",
		SellerEmail:   "seller@example.com",
		ListingID:     "LST-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestAppendMessageRequiresConversation(t *testing.T) {
	s := newTestStore()
	_, err := s.AppendMessage(context.Background(), "missing", models.ChatMessage{Text: "hi"})
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestAppendMessageUpdatesReadFlags(t *testing.T) {
	s := newTestStore()
	conv := seedConversation(t, s)

	msg, err := s.AppendMessage(context.Background(), conv.ID, models.ChatMessage{
		Sender: models.RoleSeller,
		Text:   "still available?",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	assert.Equal(t, conv.ID, msg.ConversationID)

	updated, err := s.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, updated.CustomerRead, "a seller message marks the customer side unread")
	assert.True(t, updated.SellerRead)
	assert.False(t, updated.LastMessageAt.Before(conv.LastMessageAt))
}

func TestMessagesOrderedAndCopied(t *testing.T) {
	s := newTestStore()
	conv := seedConversation(t, s)

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.AppendMessage(context.Background(), conv.ID, models.ChatMessage{
			Sender: models.RoleCustomer,
			Text:   text,
		})
		require.NoError(t, err)
	}

	msgs, err := s.Messages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)

	// Mutating the returned slice must not leak into the store.
	msgs[0].Text = "tampered"
	again, err := s.Messages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", again[0].Text)
}

func TestMarkRead(t *testing.T) {
	s := newTestStore()
	conv := seedConversation(t, s)

	msg, err := s.AppendMessage(context.Background(), conv.ID, models.ChatMessage{
		Sender: models.RoleSeller,
		Text:   "hello",
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(context.Background(), conv.ID, models.RoleCustomer, []string{msg.ID}))

	updated, err := s.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, updated.CustomerRead)

	msgs, err := s.Messages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, msgs[0].IsRead)
	assert.Equal(t, models.StatusRead, msgs[0].Status)

	require.ErrorIs(t, s.MarkRead(context.Background(), "missing", models.RoleCustomer, nil), ErrConversationNotFound)
}

func TestFlag(t *testing.T) {
	s := newTestStore()
	conv := seedConversation(t, s)

	require.NoError(t, s.Flag(context.Background(), conv.ID, "spam"))

	updated, err := s.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, updated.Flagged)
	assert.Equal(t, "spam", updated.FlagReason)
	require.NotNil(t, updated.FlaggedAt)
}

func TestListForParticipant(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	older, err := s.CreateOrGet(ctx, models.Conversation{
		CustomerEmail: "buyer@example.com",
		SellerEmail:   "seller@example.com",
		ListingID:     "LST-1",
	})
	require.NoError(t, err)
	newer, err := s.CreateOrGet(ctx, models.Conversation{
		CustomerEmail: "buyer@example.com",
		SellerEmail:   "other@example.com",
		ListingID:     "LST-2",
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = s.AppendMessage(ctx, newer.ID, models.ChatMessage{Sender: models.RoleCustomer, Text: "hi"})
	require.NoError(t, err)

	convs, err := s.ListForParticipant(ctx, "Buyer@Example.com", models.RoleCustomer)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID, "most recent activity first")
	assert.Equal(t, older.ID, convs[1].ID)

	sellers, err := s.ListForParticipant(ctx, "seller@example.com", models.RoleSeller)
	require.NoError(t, err)
	require.Len(t, sellers, 1)
	assert.Equal(t, older.ID, sellers[0].ID)
}

func TestFindByIDNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrConversationNotFound)
}
