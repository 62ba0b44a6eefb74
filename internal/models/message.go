package models

import (
	"encoding/json"
	"time"
)

// DeliveryStatus tracks live-channel delivery of a message. Persistence is
// independent of it: a message can be durably stored while still "sending".
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Terminal reports whether the status is final.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// Structured message types beyond plain text.
const (
	MessageTypeText      = "text"
	MessageTypeTestDrive = "test_drive_request"
	MessageTypeOffer     = "offer"
)

// ChatMessage is a single message inside a conversation. Append-only apart
// from the read flag and delivery status.
type ChatMessage struct {
	ID             string          `db:"id" json:"id"`
	ConversationID string          `db:"conversation_id" json:"conversation_id"`
	Sender         string          `db:"sender" json:"sender"`
	Text           string          `db:"text" json:"text"`
	Type           string          `db:"type" json:"type"`
	Payload        *MessagePayload `db:"-" json:"payload,omitempty"`
	RawPayload     []byte          `db:"payload" json:"-"`
	Status         DeliveryStatus  `db:"status" json:"status"`
	IsRead         bool            `db:"is_read" json:"is_read"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// MessagePayload carries the structured part of offer / test-drive messages.
type MessagePayload struct {
	Price         float64 `json:"price,omitempty"`
	OfferStatus   string  `json:"offer_status,omitempty"`
	RequestedDate string  `json:"requested_date,omitempty"`
}

// EncodePayload serializes the structured payload for storage.
func (m *ChatMessage) EncodePayload() error {
	if m.Payload == nil {
		m.RawPayload = nil
		return nil
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	m.RawPayload = raw
	return nil
}

// DecodePayload restores the structured payload after a read.
func (m *ChatMessage) DecodePayload() error {
	if len(m.RawPayload) == 0 {
		m.Payload = nil
		return nil
	}
	var p MessagePayload
	if err := json.Unmarshal(m.RawPayload, &p); err != nil {
		return err
	}
	m.Payload = &p
	return nil
}
