package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*SQLRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sqlx.Open(driverPostgres, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLRepository(ctx, db)
}

// OpenSQLite opens or creates a local database file. ":memory:" is accepted
// for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sqlx.Open(driverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return newSQLRepository(ctx, db)
}

func newSQLRepository(ctx context.Context, db *sqlx.DB) (*SQLRepository, error) {
	repo := &SQLRepository{db: db}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repertoires (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			color TEXT NOT NULL,
			openings TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS practice_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			repertoire_id TEXT NOT NULL,
			color TEXT NOT NULL,
			config TEXT NOT NULL,
			start_fen TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			stats TEXT NOT NULL,
			completion_reason TEXT NOT NULL DEFAULT '',
			failed INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS practice_moves (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ply INTEGER NOT NULL,
			fen_before TEXT NOT NULL,
			fen_after TEXT NOT NULL,
			user_move TEXT NOT NULL,
			user_move_uci TEXT NOT NULL,
			expected_move TEXT NOT NULL DEFAULT '',
			expected_moves TEXT NOT NULL,
			category TEXT NOT NULL,
			reverted INTEGER NOT NULL DEFAULT 0,
			eval_before INTEGER,
			eval_after INTEGER,
			centipawn_loss INTEGER,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repertoires_user ON repertoires(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_practice_sessions_user ON practice_sessions(user_id, started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
