package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"marketplace-service/internal/models"
)

// PostgresStore is a sqlx implementation of ConversationStore.
type PostgresStore struct {
	db *sqlx.DB
}

// Connect opens the database connection, runs migrations and returns the
// store.
func Connect(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection, used by tests.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            customer_key TEXT NOT NULL,
            customer_email TEXT NOT NULL,
            seller_email TEXT NOT NULL,
            listing_id TEXT NOT NULL,
            customer_read BOOLEAN DEFAULT TRUE,
            seller_read BOOLEAN DEFAULT FALSE,
            flagged BOOLEAN DEFAULT FALSE,
            flag_reason TEXT DEFAULT '',
            flagged_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            last_message_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender TEXT NOT NULL,
            text TEXT NOT NULL,
            type TEXT NOT NULL DEFAULT 'text',
            payload JSONB,
            status TEXT NOT NULL DEFAULT 'sent',
            is_read BOOLEAN DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(customer_key);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_seller ON conversations(seller_email);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}

// FindByID fetches a conversation by id.
func (s *PostgresStore) FindByID(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateOrGet creates the conversation if it does not exist yet and returns
// the stored row either way.
func (s *PostgresStore) CreateOrGet(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	conv.CustomerKey = NormalizeKey(conv.CustomerEmail)
	conv.ID = ConversationID(conv.CustomerEmail, conv.ListingID)

	existing, err := s.FindByID(ctx, conv.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, err
	}

	now := time.Now()
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, customer_key, customer_email, seller_email, listing_id, created_at, last_message_at)
         VALUES ($1, $2, $3, $4, $5, $6, $6)
         ON CONFLICT (id) DO UPDATE SET last_message_at = conversations.last_message_at
         RETURNING id, customer_key, customer_email, seller_email, listing_id, customer_read, seller_read, flagged, flag_reason, flagged_at, created_at, last_message_at`,
		conv.ID, conv.CustomerKey, conv.CustomerEmail, conv.SellerEmail, conv.ListingID, now).
		StructScan(&conv)
	return conv, err
}

// Update persists conversation metadata (read flags, flagging).
func (s *PostgresStore) Update(ctx context.Context, conv models.Conversation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET customer_read=$2, seller_read=$3, flagged=$4, flag_reason=$5, flagged_at=$6, last_message_at=$7 WHERE id=$1`,
		conv.ID, conv.CustomerRead, conv.SellerRead, conv.Flagged, conv.FlagReason, conv.FlaggedAt, conv.LastMessageAt)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AppendMessage stores a message and bumps the conversation's last_message_at
// atomically. Appending to a missing conversation fails with
// ErrConversationNotFound rather than creating one.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, msg models.ChatMessage) (models.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	if err := msg.EncodePayload(); err != nil {
		return models.ChatMessage{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ChatMessage{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = NOW(),
            customer_read = CASE WHEN $2 = 'customer' THEN TRUE ELSE FALSE END,
            seller_read   = CASE WHEN $2 = 'seller' THEN TRUE ELSE FALSE END
         WHERE id=$1`, conversationID, msg.Sender)
	if err != nil {
		return models.ChatMessage{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.ChatMessage{}, err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return models.ChatMessage{}, err
	}

	msg.ConversationID = conversationID
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, text, type, payload, status)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING id, conversation_id, sender, text, type, payload, status, is_read, created_at`,
		msg.ID, conversationID, msg.Sender, msg.Text, msg.Type, msg.RawPayload, msg.Status).
		StructScan(&msg)
	if err != nil {
		return models.ChatMessage{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.ChatMessage{}, err
	}
	if err := msg.DecodePayload(); err != nil {
		log.Printf("decode message payload %s: %v", msg.ID, err)
	}
	return msg, nil
}

// Messages returns the ordered message sequence of a conversation.
func (s *PostgresStore) Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT * FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if err := msgs[i].DecodePayload(); err != nil {
			log.Printf("decode message payload %s: %v", msgs[i].ID, err)
		}
	}
	return msgs, nil
}

// MarkRead flips the per-side read flag and marks the given messages read.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID string, role string, messageIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sql.Result
	if role == models.RoleCustomer {
		res, err = tx.ExecContext(ctx, `UPDATE conversations SET customer_read = TRUE WHERE id=$1`, conversationID)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE conversations SET seller_read = TRUE WHERE id=$1`, conversationID)
	}
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return err
	}

	if len(messageIDs) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET is_read = TRUE, status = 'read' WHERE conversation_id=$1 AND id = ANY($2)`,
			conversationID, pq.Array(messageIDs))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Flag sets the moderation fields on a conversation.
func (s *PostgresStore) Flag(ctx context.Context, conversationID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET flagged = TRUE, flag_reason=$2, flagged_at=NOW() WHERE id=$1`,
		conversationID, reason)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ListForParticipant returns conversations for a customer or seller, most
// recently active first.
func (s *PostgresStore) ListForParticipant(ctx context.Context, email string, role string) ([]models.Conversation, error) {
	var convs []models.Conversation
	var err error
	if role == models.RoleCustomer {
		err = s.db.SelectContext(ctx, &convs,
			`SELECT * FROM conversations WHERE customer_key=$1 ORDER BY last_message_at DESC`, NormalizeKey(email))
	} else {
		err = s.db.SelectContext(ctx, &convs,
			`SELECT * FROM conversations WHERE LOWER(seller_email)=LOWER($1) ORDER BY last_message_at DESC`, email)
	}
	return convs, err
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ ConversationStore = (*PostgresStore)(nil)
