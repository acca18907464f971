// Package journal keeps a SQLite log of processed webhook exchanges for
// offline diagnosis. Nothing in it is read back while answering messages.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mirrorbot/internal/domain"
)

// Store is a SQLite-backed exchange journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS exchanges (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id   TEXT NOT NULL,
		message_sid  TEXT,
		sender       TEXT,
		body         TEXT,
		step         TEXT NOT NULL,
		path         TEXT,
		images       INTEGER DEFAULT 0,
		dropped      INTEGER DEFAULT 0,
		fallback     INTEGER DEFAULT 0,
		reply        TEXT,
		error        TEXT,
		latency_ms   INTEGER DEFAULT 0,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_time ON exchanges(created_at);
	CREATE INDEX IF NOT EXISTS idx_exchanges_request ON exchanges(request_id);
	`)
	return err
}

// Record appends one exchange.
func (s *Store) Record(ctx context.Context, ex domain.Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (request_id, message_sid, sender, body, step, path, images, dropped, fallback, reply, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.RequestID, ex.MessageSID, ex.From, ex.Body, string(ex.Step), ex.Path,
		ex.Images, ex.Dropped, ex.Fallback, ex.Reply, ex.Error, ex.LatencyMs, ex.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record exchange %s: %w", ex.RequestID, err)
	}
	return nil
}

// Recent returns up to limit exchanges, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, message_sid, sender, body, step, path, images, dropped, fallback, reply, error, latency_ms, created_at
		 FROM exchanges ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Exchange
	for rows.Next() {
		var (
			ex                      domain.Exchange
			sid, sender, body, path sql.NullString
			reply, errText          sql.NullString
			step                    string
		)
		if err := rows.Scan(&ex.RequestID, &sid, &sender, &body, &step, &path,
			&ex.Images, &ex.Dropped, &ex.Fallback, &reply, &errText, &ex.LatencyMs, &ex.CreatedAt); err != nil {
			return nil, err
		}
		ex.MessageSID, ex.From, ex.Body, ex.Path = sid.String, sender.String, body.String, path.String
		ex.Reply, ex.Error, ex.Step = reply.String, errText.String, domain.Step(step)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Prune deletes exchanges recorded before the cutoff and reports how many
// rows were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
