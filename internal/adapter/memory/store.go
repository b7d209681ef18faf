// Package memory persists memories, conversation exchanges and observations
// in SQLite.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kilo-brain/internal/domain"
)

var _ domain.MemoryStore = (*SQLiteStore)(nil)

// DefaultMaxObservations is how many observations are retained.
const DefaultMaxObservations = 100

const defaultObservationLimit = 20

// SQLiteStore implements domain.MemoryStore backed by SQLite + FTS5.
type SQLiteStore struct {
	db              *sql.DB
	maxObservations int
	logger          *slog.Logger
	now             func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
// maxObservations <= 0 selects DefaultMaxObservations.
func New(dbPath string, maxObservations int, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create dir: %v", domain.ErrMemoryStore, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrMemoryStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrMemoryStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrMemoryStore, err)
	}

	if maxObservations <= 0 {
		maxObservations = DefaultMaxObservations
	}
	return &SQLiteStore{
		db:              db,
		maxObservations: maxObservations,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Remember stores text and returns the new memory with its ID.
func (s *SQLiteStore) Remember(ctx context.Context, source, text string) (domain.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Memory{}, domain.NewDomainError("Store.Remember", domain.ErrInvalidInput, "empty text")
	}
	if source == "" {
		source = domain.MemorySourceUser
	}

	m := domain.Memory{Source: source, Text: text, CreatedAt: s.now()}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO memories (source, text, created_at) VALUES (?, ?, ?)",
		m.Source, m.Text, m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.Memory{}, fmt.Errorf("%w: insert: %v", domain.ErrMemoryStore, err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return domain.Memory{}, fmt.Errorf("%w: last id: %v", domain.ErrMemoryStore, err)
	}

	s.logger.DebugContext(ctx, "memory stored", "id", m.ID, "source", source)
	return m, nil
}

// Recall returns up to limit memories matching query, best match first.
// An empty query returns the most recent memories.
func (s *SQLiteStore) Recall(ctx context.Context, query string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return s.queryMemories(ctx,
			"SELECT id, source, text, created_at FROM memories ORDER BY id DESC LIMIT ?", limit)
	}

	results, err := s.queryMemories(ctx, `
		SELECT m.id, m.source, m.text, m.created_at
		FROM memories_fts f JOIN memories m ON m.id = f.rowid
		WHERE memories_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?`, ftsQuery(query), limit)
	if err == nil {
		return results, nil
	}

	s.logger.DebugContext(ctx, "fts query failed, falling back to LIKE", "error", err)
	return s.queryMemories(ctx,
		"SELECT id, source, text, created_at FROM memories WHERE text LIKE ? ESCAPE '\\' ORDER BY id DESC LIMIT ?",
		"%"+escapeLike(query)+"%", limit)
}

// Forget deletes a memory. A missing ID yields domain.ErrMemoryNotFound.
func (s *SQLiteStore) Forget(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrMemoryStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", domain.ErrMemoryStore, err)
	}
	if n == 0 {
		return domain.NewDomainError("Store.Forget", domain.ErrMemoryNotFound, strconv.FormatInt(id, 10))
	}
	return nil
}

// RecordExchange stores a completed chat turn as a conversation memory.
func (s *SQLiteStore) RecordExchange(ctx context.Context, userMessage, reply string) error {
	_, err := s.Remember(ctx, domain.MemorySourceConversation, formatExchange(userMessage, reply))
	return err
}

func formatExchange(userMessage, reply string) string {
	return "User: " + userMessage + "\nKilo: " + reply
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...any) ([]domain.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrMemoryStore, err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		var (
			m       domain.Memory
			created string
		)
		if err := rows.Scan(&m.ID, &m.Source, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrMemoryStore, err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrMemoryStore, err)
	}
	return out, nil
}

// ftsQuery turns free text into an FTS5 expression matching any of its
// words. Each word is quoted so punctuation never reaches the FTS parser.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// AddObservation stores obs and drops everything beyond the newest
// maxObservations. Missing priority and timestamp are filled in.
func (s *SQLiteStore) AddObservation(ctx context.Context, obs domain.Observation) (domain.Observation, error) {
	if obs.Priority == "" {
		obs.Priority = "normal"
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = s.now()
	}
	meta := []byte("{}")
	if len(obs.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(obs.Metadata); err != nil {
			return domain.Observation{}, fmt.Errorf("%w: marshal metadata: %v", domain.ErrMemoryStore, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("%w: begin tx: %v", domain.ErrMemoryStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		"INSERT INTO observations (type, content, priority, metadata, timestamp) VALUES (?, ?, ?, ?, ?)",
		obs.Type, obs.Content, obs.Priority, string(meta), obs.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("%w: insert observation: %v", domain.ErrMemoryStore, err)
	}
	if obs.ID, err = res.LastInsertId(); err != nil {
		return domain.Observation{}, fmt.Errorf("%w: last id: %v", domain.ErrMemoryStore, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM observations
		WHERE id NOT IN (SELECT id FROM observations ORDER BY id DESC LIMIT ?)`,
		s.maxObservations,
	); err != nil {
		return domain.Observation{}, fmt.Errorf("%w: prune observations: %v", domain.ErrMemoryStore, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Observation{}, fmt.Errorf("%w: commit: %v", domain.ErrMemoryStore, err)
	}
	return obs, nil
}

// RecentObservations returns up to limit observations, newest first.
func (s *SQLiteStore) RecentObservations(ctx context.Context, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = defaultObservationLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, content, priority, metadata, timestamp FROM observations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query observations: %v", domain.ErrMemoryStore, err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var (
			o        domain.Observation
			meta, ts string
		)
		if err := rows.Scan(&o.ID, &o.Type, &o.Content, &o.Priority, &meta, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan observation: %v", domain.ErrMemoryStore, err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &o.Metadata); err != nil {
				s.logger.WarnContext(ctx, "observation metadata unreadable", "id", o.ID, "error", err)
			}
		}
		o.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrMemoryStore, err)
	}
	return out, nil
}

// ClearObservations deletes every observation and returns how many were removed.
func (s *SQLiteStore) ClearObservations(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM observations")
	if err != nil {
		return 0, fmt.Errorf("%w: clear observations: %v", domain.ErrMemoryStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", domain.ErrMemoryStore, err)
	}
	return int(n), nil
}
