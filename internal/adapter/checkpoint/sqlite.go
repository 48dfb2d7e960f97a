package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"searchchat/internal/domain"
)

// SQLiteStore is a durable Checkpointer backed by a SQLite file.
// Each message is stored as a JSON document ordered by insertion sequence.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	// One writer at a time; readers share the same connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			thread_id  TEXT PRIMARY KEY,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id  TEXT NOT NULL REFERENCES threads(thread_id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			body       TEXT NOT NULL,
			UNIQUE (thread_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, seq);
		CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads (updated_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM messages WHERE thread_id = ? ORDER BY seq", threadID)
	if err != nil {
		return nil, wrapStoreErr("load", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, wrapStoreErr("load", err)
		}
		var m domain.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, wrapStoreErr("decode message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("load", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Append(ctx context.Context, threadID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("append to %s: message without id: %w", threadID, domain.ErrInvalidInput)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.touch(ctx, tx, threadID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO messages (thread_id, message_id, body) VALUES (?, ?, ?)")
		if err != nil {
			return wrapStoreErr("append", err)
		}
		defer stmt.Close()

		for _, m := range msgs {
			body, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("encode message %s: %w", m.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, threadID, m.ID, string(body)); err != nil {
				if strings.Contains(err.Error(), "UNIQUE") {
					return fmt.Errorf("append to %s: duplicate message id %s: %w", threadID, m.ID, domain.ErrInvalidInput)
				}
				return wrapStoreErr("append", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Apply(ctx context.Context, threadID string, update domain.StateUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range update.Remove {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM messages WHERE thread_id = ? AND message_id = ?", threadID, r.ID)
			if err != nil {
				return wrapStoreErr("apply", err)
			}
			if n, _ := res.RowsAffected(); n == 0 && !removedEarlier(update.Remove, r.ID) {
				return fmt.Errorf("apply to %s: message %s: %w", threadID, r.ID, domain.ErrNotFound)
			}
		}
		return s.touch(ctx, tx, threadID)
	})
}

// removedEarlier reports whether id occurs more than once in the directive
// list, in which case a later directive finding nothing is not an error.
func removedEarlier(remove []domain.RemoveMessage, id string) bool {
	count := 0
	for _, r := range remove {
		if r.ID == id {
			count++
		}
	}
	return count > 1
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE thread_id = ?", threadID); err != nil {
		return wrapStoreErr("delete", err)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time, keep func(string) bool) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT thread_id FROM threads WHERE updated_at < ?", before.UnixNano())
	if err != nil {
		return 0, wrapStoreErr("prune", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, wrapStoreErr("prune", err)
		}
		if keep == nil || !keep(id) {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapStoreErr("prune", err)
	}

	n := 0
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range stale {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM threads WHERE thread_id = ? AND updated_at < ?", id, before.UnixNano())
			if err != nil {
				return wrapStoreErr("prune", err)
			}
			affected, _ := res.RowsAffected()
			n += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) touch(ctx context.Context, tx *sql.Tx, threadID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO threads (thread_id, updated_at) VALUES (?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET updated_at = excluded.updated_at`,
		threadID, s.now().UnixNano())
	if err != nil {
		return wrapStoreErr("touch thread", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit", err)
	}
	return nil
}

func wrapStoreErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("checkpoint %s: %w: %w", op, domain.ErrCheckpointStore, err)
}

var _ domain.Checkpointer = (*SQLiteStore)(nil)
