package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/session"
)

// ErrNotFound is returned when a conversation is not in the cache.
var ErrNotFound = errors.New("conversation not cached")

const timeLayout = time.RFC3339Nano

// ConversationCache mirrors the server's conversations. The list is replaced
// as a whole; messages are stored when a conversation is opened.
type ConversationCache struct {
	db *DB
}

var _ session.Cache = (*ConversationCache)(nil)

// NewConversationCache creates a cache using the given database.
func NewConversationCache(db *DB) *ConversationCache {
	return &ConversationCache{db: db}
}

// SaveConversations replaces the cached list with convs, keeping their order.
// Conversations missing from convs are removed with their messages.
func (c *ConversationCache) SaveConversations(ctx context.Context, convs []domain.Conversation) error {
	tx, err := c.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	keep := make([]any, 0, len(convs))
	for i, conv := range convs {
		if !conv.Persisted() {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, title, context_type, context_id, position, created_at, updated_at, synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   title = excluded.title,
			   context_type = excluded.context_type,
			   context_id = excluded.context_id,
			   position = excluded.position,
			   updated_at = excluded.updated_at,
			   synced_at = excluded.synced_at`,
			conv.ID.String(), conv.Title, conv.ContextType, conv.ContextID.String(), i,
			formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt), now,
		)
		if err != nil {
			return fmt.Errorf("saving conversation %s: %w", conv.ID, err)
		}
		keep = append(keep, conv.ID.String())
	}

	query := "DELETE FROM conversations"
	if len(keep) > 0 {
		query += " WHERE id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
	}
	if _, err := tx.ExecContext(ctx, query, keep...); err != nil {
		return fmt.Errorf("pruning conversations: %w", err)
	}

	return tx.Commit()
}

// SaveConversation stores conv together with its messages.
func (c *ConversationCache) SaveConversation(ctx context.Context, conv domain.Conversation) error {
	if !conv.Persisted() {
		return errors.New("conversation has no id")
	}

	tx, err := c.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := conv.ID.String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, context_type, context_id, position, created_at, updated_at, synced_at, has_messages)
		 VALUES (?, ?, ?, ?, -1, ?, ?, ?, 1)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   context_type = excluded.context_type,
		   context_id = excluded.context_id,
		   updated_at = excluded.updated_at,
		   synced_at = excluded.synced_at,
		   has_messages = 1`,
		id, conv.Title, conv.ContextType, conv.ContextID.String(),
		formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving conversation %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	for _, msg := range conv.Messages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, message_id, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(conversation_id, message_id) DO UPDATE SET content = excluded.content`,
			id, msg.ID.String(), string(msg.Role), msg.Content, formatTime(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("saving message %s: %w", msg.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteConversation removes id and its messages. Deleting an id that is not
// cached is not an error.
func (c *ConversationCache) DeleteConversation(ctx context.Context, id domain.ID) error {
	if _, err := c.db.sql.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// ListConversations returns the cached list in server order, without messages.
func (c *ConversationCache) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT id, title, context_type, context_id, created_at, updated_at
		 FROM conversations ORDER BY position, created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// GetConversation returns a cached conversation with whatever messages were
// stored for it.
func (c *ConversationCache) GetConversation(ctx context.Context, id domain.ID) (domain.Conversation, error) {
	row := c.db.sql.QueryRowContext(ctx,
		`SELECT id, title, context_type, context_id, created_at, updated_at
		 FROM conversations WHERE id = ?`, id.String(),
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}

	conv.Messages, err = c.loadMessages(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (c *ConversationCache) loadMessages(ctx context.Context, id domain.ID) ([]domain.Message, error) {
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT message_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		var msgID, role, createdAt string
		if err := rows.Scan(&msgID, &role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		msg.ID = domain.ID(msgID)
		msg.Role = domain.Role(role)
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (domain.Conversation, error) {
	var conv domain.Conversation
	var id, contextID, createdAt, updatedAt string
	if err := s.Scan(&id, &conv.Title, &conv.ContextType, &contextID, &createdAt, &updatedAt); err != nil {
		return domain.Conversation{}, err
	}
	conv.ID = domain.ID(id)
	conv.ContextID = domain.ID(contextID)
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return conv, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
