// Package recorder persists completed conversations. The orchestrator
// hands off one record per fully completed question; focused sessions
// hand off one record per finished follow-up exchange.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// SQLiteRecorder implements domain.ConversationRecorder with SQLite
// persistence.
type SQLiteRecorder struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the recorder database at dbPath and runs
// the schema migration.
func OpenSQLite(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open recorder db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateRecorder(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate recorder db: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func migrateRecorder(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS questions (
			id         TEXT PRIMARY KEY,
			question   TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS answers (
			question_id TEXT NOT NULL,
			provider    TEXT NOT NULL,
			answer      TEXT NOT NULL,
			PRIMARY KEY (question_id, provider)
		);
		CREATE TABLE IF NOT EXISTS exchanges (
			question_id TEXT NOT NULL,
			provider    TEXT NOT NULL,
			question    TEXT NOT NULL,
			answer      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

// RecordAnswers implements domain.ConversationRecorder.
func (r *SQLiteRecorder) RecordAnswers(ctx context.Context, questionID, question string, answers map[domain.Provider]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapOp("recorder.RecordAnswers", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO questions (id, question, created_at) VALUES (?, ?, ?)",
		questionID, question, now,
	); err != nil {
		return domain.WrapOp("recorder.RecordAnswers", err)
	}
	for provider, answer := range answers {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO answers (question_id, provider, answer) VALUES (?, ?, ?)",
			questionID, provider.String(), answer,
		); err != nil {
			return domain.WrapOp("recorder.RecordAnswers", err)
		}
	}
	return domain.WrapOp("recorder.RecordAnswers", tx.Commit())
}

// RecordExchange implements domain.ConversationRecorder.
func (r *SQLiteRecorder) RecordExchange(ctx context.Context, questionID string, provider domain.Provider, question, answer string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO exchanges (question_id, provider, question, answer, created_at) VALUES (?, ?, ?, ?, ?)",
		questionID, provider.String(), question, answer, now,
	)
	return domain.WrapOp("recorder.RecordExchange", err)
}

// Compile-time interface check.
var _ domain.ConversationRecorder = (*SQLiteRecorder)(nil)
