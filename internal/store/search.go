package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/compass/internal/domain"
)

// SearchHit is a cached message matching a search.
type SearchHit struct {
	ConversationID    domain.ID      `json:"conversation_id"`
	ConversationTitle string         `json:"conversation_title"`
	Message           domain.Message `json:"message"`
	Snippet           string         `json:"snippet"`
	Rank              float64        `json:"rank"`
}

// SearchMessages finds cached messages matching query using FTS5. Each word
// of query must appear; results are ranked by relevance. Limit of 0 defaults
// to 20.
func (c *ConversationCache) SearchMessages(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT m.conversation_id, c.title, m.message_id, m.role, m.content, m.created_at,
		        snippet(messages_fts, 0, '[', ']', '...', 12), rank
		 FROM messages_fts
		 JOIN messages m ON m.seq = messages_fts.rowid
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE messages_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var convID, msgID, role, createdAt string
		if err := rows.Scan(&convID, &h.ConversationTitle, &msgID, &role, &h.Message.Content, &createdAt, &h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		h.ConversationID = domain.ID(convID)
		h.Message.ID = domain.ID(msgID)
		h.Message.Role = domain.Role(role)
		h.Message.CreatedAt = parseTime(createdAt)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each word so user input is never parsed as FTS syntax.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}
