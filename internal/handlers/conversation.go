package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/internal/middleware"
	"marketplace-service/internal/models"
	"marketplace-service/internal/realtime"
	"marketplace-service/internal/store"
	"marketplace-service/internal/telemetry"
)

// ListingClient is the slice of the backend API the handlers need.
type ListingClient interface {
	GetListing(ctx context.Context, listingID string) (models.Listing, error)
	BulkListings(ctx context.Context, listingIDs []string) ([]models.Listing, error)
}

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	store    store.ConversationStore
	session  *realtime.Session
	listings ListingClient
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(s store.ConversationStore, session *realtime.Session, listings ListingClient, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		store:    s,
		session:  session,
		listings: listings,
		audit:    audit,
	}
}

// ListConversations returns the conversations visible to the authenticated
// user, joined with listing titles from the backend API.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	convs, err := h.store.ListForParticipant(c.Request.Context(), identity.Email, identity.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	listingIDs := make([]string, 0, len(convs))
	seen := map[string]struct{}{}
	for _, conv := range convs {
		if _, ok := seen[conv.ListingID]; !ok {
			seen[conv.ListingID] = struct{}{}
			listingIDs = append(listingIDs, conv.ListingID)
		}
	}

	titleByID := map[string]string{}
	if listings, err := h.listings.BulkListings(c.Request.Context(), listingIDs); err != nil {
		// degraded: conversations are still useful without titles
		c.Header("X-Listing-Lookup", "degraded")
	} else {
		for _, l := range listings {
			titleByID[l.ID] = l.Title
		}
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		counterpart := conv.SellerEmail
		unread := !conv.CustomerRead
		if identity.Role == models.RoleSeller {
			counterpart = conv.CustomerEmail
			unread = !conv.SellerRead
		}
		summaries = append(summaries, models.ConversationSummary{
			ConversationID: conv.ID,
			ListingID:      conv.ListingID,
			ListingTitle:   titleByID[conv.ListingID],
			CounterpartID:  counterpart,
			Unread:         unread,
			LastMessageAt:  conv.LastMessageAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// StartConversation creates or returns the conversation between the customer
// and the listing's seller.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var req struct {
		ListingID string `json:"listing_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := h.listings.GetListing(c.Request.Context(), req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load listing"})
		return
	}
	if store.NormalizeKey(listing.SellerEmail) == store.NormalizeKey(identity.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation about your own listing"})
		return
	}

	conv, err := h.store.CreateOrGet(c.Request.Context(), models.Conversation{
		CustomerEmail: identity.Email,
		SellerEmail:   listing.SellerEmail,
		ListingID:     listing.ID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	// The join waits for the live channel when it is still connecting, so it
	// runs off the request path; the response never depends on channel state.
	go h.session.JoinConversation(context.Background(), conv.ID)
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// GetMessages returns the ordered message sequence of a conversation.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conv, _, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage persists and delivers a message through the realtime session.
// Success means durably recorded; live delivery is best-effort.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conv, identity, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	var req struct {
		Text    string                 `json:"text" binding:"required"`
		Type    string                 `json:"type"`
		Payload *models.MessagePayload `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.session.SendMessage(c.Request.Context(), conv.ID, models.ChatMessage{
		Text:    req.Text,
		Type:    req.Type,
		Payload: req.Payload,
	}, identity.Email, identity.Role)
	if !result.Success {
		status := http.StatusInternalServerError
		if result.Error == "conversation not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": result.Error})
		return
	}

	c.Status(http.StatusCreated)
}

// MarkRead persists the read flag and emits a read receipt.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conv, identity, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.MarkRead(c.Request.Context(), conv.ID, identity.Role, req.MessageIDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark as read"})
		return
	}

	h.session.MarkAsRead(conv.ID, req.MessageIDs, identity.Role)
	c.Status(http.StatusNoContent)
}

// Typing emits a transient typing indicator.
func (h *ConversationHandler) Typing(c *gin.Context) {
	conv, identity, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.session.SendTypingIndicator(conv.ID, identity.Role, req.IsTyping)
	c.Status(http.StatusNoContent)
}

// Flag sets moderation metadata on a conversation and emits an audit event.
func (h *ConversationHandler) Flag(c *gin.Context) {
	conv, identity, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Flag(c.Request.Context(), conv.ID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not flag conversation"})
		return
	}

	h.audit.Emit(c.Request.Context(), "WARN", "conversation flagged: "+req.Reason, requestIDFromContext(c), identity.Email)
	c.Status(http.StatusNoContent)
}

// GetPresence looks up cached presence for a participant.
func (h *ConversationHandler) GetPresence(c *gin.Context) {
	role := c.Param("role")
	identity := c.Param("identity")
	presence := h.session.GetUserPresence(identity, role)
	if presence == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "presence unknown"})
		return
	}
	c.JSON(http.StatusOK, presence)
}

// authorizedConversation loads the conversation from the path parameter and
// checks the caller is a participant (admins pass).
func (h *ConversationHandler) authorizedConversation(c *gin.Context) (models.Conversation, models.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return models.Conversation{}, models.Identity{}, false
	}

	conversationID := c.Param("conversation_id")
	conv, err := h.store.FindByID(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return models.Conversation{}, models.Identity{}, false
	}

	if !isParticipant(conv, identity) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return models.Conversation{}, models.Identity{}, false
	}
	return conv, identity, true
}

func isParticipant(conv models.Conversation, identity models.Identity) bool {
	if identity.Role == models.RoleAdmin {
		return true
	}
	key := store.NormalizeKey(identity.Email)
	return conv.CustomerKey == key || store.NormalizeKey(conv.SellerEmail) == key
}
