package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/telemetry"
)

type ConversationStoreMock struct {
	mock.Mock
}

func (m *ConversationStoreMock) FindByID(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationStoreMock) CreateOrGet(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	args := m.Called(ctx, conv)
	var out models.Conversation
	if val := args.Get(0); val != nil {
		out = val.(models.Conversation)
	}
	return out, args.Error(1)
}

func (m *ConversationStoreMock) Update(ctx context.Context, conv models.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *ConversationStoreMock) AppendMessage(ctx context.Context, conversationID string, msg models.ChatMessage) (models.ChatMessage, error) {
	args := m.Called(ctx, conversationID, msg)
	var out models.ChatMessage
	if val := args.Get(0); val != nil {
		out = val.(models.ChatMessage)
	}
	return out, args.Error(1)
}

func (m *ConversationStoreMock) Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *ConversationStoreMock) MarkRead(ctx context.Context, conversationID string, role string, messageIDs []string) error {
	args := m.Called(ctx, conversationID, role, messageIDs)
	return args.Error(0)
}

func (m *ConversationStoreMock) Flag(ctx context.Context, conversationID string, reason string) error {
	args := m.Called(ctx, conversationID, reason)
	return args.Error(0)
}

func (m *ConversationStoreMock) ListForParticipant(ctx context.Context, email string, role string) ([]models.Conversation, error) {
	args := m.Called(ctx, email, role)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationStoreMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type ListingClientMock struct {
	mock.Mock
}

func (m *ListingClientMock) GetListing(ctx context.Context, listingID string) (models.Listing, error) {
	args := m.Called(ctx, listingID)
	var listing models.Listing
	if val := args.Get(0); val != nil {
		listing = val.(models.Listing)
	}
	return listing, args.Error(1)
}

func (m *ListingClientMock) BulkListings(ctx context.Context, listingIDs []string) ([]models.Listing, error) {
	args := m.Called(ctx, listingIDs)
	var listings []models.Listing
	if val := args.Get(0); val != nil {
		listings = val.([]models.Listing)
	}
	return listings, args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (models.Identity, error) {
	args := m.Called(ctx, token)
	var identity models.Identity
	if val := args.Get(0); val != nil {
		identity = val.(models.Identity)
	}
	return identity, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var (
	_ store.ConversationStore = (*ConversationStoreMock)(nil)
	_ telemetry.Publisher     = (*PublisherMock)(nil)
)
