package memory

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			source     TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			text, content=memories, content_rowid=id
		);

		CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, text) VALUES (new.id, new.text);
		END;

		CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', old.id, old.text);
		END;

		CREATE TABLE IF NOT EXISTS observations (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			type      TEXT NOT NULL,
			content   TEXT NOT NULL,
			priority  TEXT NOT NULL DEFAULT 'normal',
			metadata  TEXT NOT NULL DEFAULT '{}',
			timestamp TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}
