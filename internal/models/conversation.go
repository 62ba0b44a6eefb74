package models

import "time"

// Participant roles within a conversation.
const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
)

// Conversation is a message thread between a customer and the seller of a
// listing. Its id is a composite of the normalized customer key and the
// listing id, stable across storage backends.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	CustomerKey   string     `db:"customer_key" json:"customer_key"`
	CustomerEmail string     `db:"customer_email" json:"customer_email"`
	SellerEmail   string     `db:"seller_email" json:"seller_email"`
	ListingID     string     `db:"listing_id" json:"listing_id"`
	CustomerRead  bool       `db:"customer_read" json:"customer_read"`
	SellerRead    bool       `db:"seller_read" json:"seller_read"`
	Flagged       bool       `db:"flagged" json:"flagged"`
	FlagReason    string     `db:"flag_reason" json:"flag_reason,omitempty"`
	FlaggedAt     *time.Time `db:"flagged_at" json:"flagged_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	LastMessageAt time.Time  `db:"last_message_at" json:"last_message_at"`
}

// ConversationSummary provides an API-friendly view of a conversation for a
// participant, joined with listing info fetched from the backend API.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id"`
	ListingTitle   string    `json:"listing_title,omitempty"`
	CounterpartID  string    `json:"counterpart"`
	Unread         bool      `json:"unread"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// Identity is an authenticated marketplace user as resolved by the backend
// API.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Listing is the subset of a vehicle listing the conversation layer needs.
type Listing struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	SellerEmail string  `json:"seller_email"`
	Status      string  `json:"status"`
}
