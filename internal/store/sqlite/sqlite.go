package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/scopechat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.ChannelStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.ChannelStore = (*SQLiteStore)(nil)

// New opens (or creates) the database at dbPath and applies the schema.
// ":memory:" gives a private in-memory database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps one
	// in-memory database alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveChannel inserts a channel unless one with the same name exists.
func (s *SQLiteStore) SaveChannel(ctx context.Context, name, passwordHash string) (bool, error) {
	query := `
		INSERT OR IGNORE INTO channels (name, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, name, passwordHash)
	if err != nil {
		return false, fmt.Errorf("insert channel: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListChannels returns every stored channel in creation order.
func (s *SQLiteStore) ListChannels(ctx context.Context) ([]store.Channel, error) {
	query := `
		SELECT name, password_hash, created_at
		FROM channels
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []store.Channel
	for rows.Next() {
		var ch store.Channel
		if err := rows.Scan(&ch.Name, &ch.PasswordHash, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}
