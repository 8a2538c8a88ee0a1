package services

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"sandbox-runner-server/models"
)

// ExecutionHistory persists and queries summaries of finished executions
type ExecutionHistory interface {
	RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	ListExecutions(ctx context.Context, sessionID string, limit int) ([]models.ExecutionRecord, error)
}

// HistoryService stores execution records in PostgreSQL
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(host string, port int, user, password, dbname string) (*HistoryService, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &HistoryService{db: db}, nil
}

func (s *HistoryService) Close() error {
	return s.db.Close()
}

// InitSchema creates tables if they don't exist
func (s *HistoryService) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id UUID PRIMARY KEY,
		session_id VARCHAR(255) NOT NULL,
		language VARCHAR(20) NOT NULL,
		command_hash VARCHAR(128) NOT NULL,
		exit_code INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		timed_out BOOLEAN NOT NULL DEFAULT FALSE,
		duration_ms BIGINT NOT NULL,
		output_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_executions_session_id ON executions(session_id);
	CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RecordExecution inserts one execution record
func (s *HistoryService) RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	var outputKey sql.NullString
	if rec.OutputKey != "" {
		outputKey = sql.NullString{String: rec.OutputKey, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, session_id, language, command_hash, exit_code, success, timed_out, duration_ms, output_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.SessionID, string(rec.Language), rec.CommandHash, rec.ExitCode, rec.Success, rec.TimedOut, rec.DurationMs, outputKey, rec.CreatedAt)
	return err
}

// GetExecution retrieves an execution record by ID
func (s *HistoryService) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	rec := &models.ExecutionRecord{}
	var language string
	var outputKey sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, language, command_hash, exit_code, success, timed_out, duration_ms, output_key, created_at
		FROM executions WHERE id = $1
	`, id).Scan(&rec.ID, &rec.SessionID, &language, &rec.CommandHash, &rec.ExitCode, &rec.Success, &rec.TimedOut, &rec.DurationMs, &outputKey, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rec.Language = models.Language(language)
	if outputKey.Valid {
		rec.OutputKey = outputKey.String
	}
	return rec, nil
}

// ListExecutions returns the most recent records of a session
func (s *HistoryService) ListExecutions(ctx context.Context, sessionID string, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, language, command_hash, exit_code, success, timed_out, duration_ms, output_key, created_at
		FROM executions
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ExecutionRecord
	for rows.Next() {
		var rec models.ExecutionRecord
		var language string
		var outputKey sql.NullString

		err := rows.Scan(&rec.ID, &rec.SessionID, &language, &rec.CommandHash, &rec.ExitCode, &rec.Success, &rec.TimedOut, &rec.DurationMs, &outputKey, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		rec.Language = models.Language(language)
		if outputKey.Valid {
			rec.OutputKey = outputKey.String
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
