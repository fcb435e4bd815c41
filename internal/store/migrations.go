package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id            TEXT PRIMARY KEY,
				title         TEXT NOT NULL DEFAULT '',
				context_type  TEXT NOT NULL DEFAULT '',
				context_id    TEXT NOT NULL DEFAULT '',
				position      INTEGER NOT NULL DEFAULT 0,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL,
				synced_at     TEXT NOT NULL DEFAULT (datetime('now')),
				has_messages  INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_conversations_position ON conversations (position);

			CREATE TABLE messages (
				seq              INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				message_id       TEXT NOT NULL,
				role             TEXT NOT NULL,
				content          TEXT NOT NULL,
				created_at       TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_messages_conversation ON messages (conversation_id, message_id);
		`,
	},
	{
		Version: 2,
		Name:    "create message search with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				content='messages',
				content_rowid='seq'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.seq, old.content);
			END;

			CREATE TRIGGER messages_au AFTER UPDATE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.seq, old.content);
				INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
			END;
		`,
	},
}
