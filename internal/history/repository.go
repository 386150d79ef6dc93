package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "eventhub/pkg/errors"
)

type Store interface {
	Insert(ctx context.Context, row *ProcessingHistory) error
	Update(ctx context.Context, row *ProcessingHistory) error
	Query(ctx context.Context, eventID string, limit, offset int) ([]ProcessingHistory, error)
	FindOpen(ctx context.Context, eventID string) (*ProcessingHistory, error)
	FindOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]ProcessingHistory, error)
	DeleteForEvent(ctx context.Context, eventID string) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &PostgresStore{db: db}
}

const historyColumns = `id, event_id, attempt_number, status, processing_start, processing_end,
	duration_ms, error_message, error_code, error_detail, processor_id, memory_used_mb,
	input_size, output_size, input_hash, output_hash, trace_id, span_id, correlation_id, created_at`

func (s *PostgresStore) Insert(ctx context.Context, row *ProcessingHistory) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_processing_history (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.EventID, row.AttemptNumber, row.Status, row.ProcessingStart, row.ProcessingEnd,
		row.DurationMs, nullable(row.ErrorMessage), nullable(row.ErrorCode), nullable(row.ErrorDetail),
		nullable(row.ProcessorID), row.MemoryUsedMB, row.InputSize, row.OutputSize,
		nullable(row.InputHash), nullable(row.OutputHash), nullable(row.TraceID), nullable(row.SpanID),
		nullable(row.CorrelationID), row.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConcurrentAttempt.WithCause(err).
				WithDetail("event_id", row.EventID).
				WithDetail("attempt_number", row.AttemptNumber)
		}
		return fmt.Errorf("failed to insert history row: %w", err)
	}

	return nil
}

func (s *PostgresStore) Update(ctx context.Context, row *ProcessingHistory) error {
	query := `
		UPDATE event_processing_history
		SET status = $1, processing_end = $2, duration_ms = $3, error_message = $4,
		    error_code = $5, error_detail = $6, memory_used_mb = $7, output_size = $8,
		    output_hash = $9
		WHERE id = $10
	`

	res, err := s.db.ExecContext(ctx, query,
		row.Status, row.ProcessingEnd, row.DurationMs, nullable(row.ErrorMessage),
		nullable(row.ErrorCode), nullable(row.ErrorDetail), row.MemoryUsedMB, row.OutputSize,
		nullable(row.OutputHash), row.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update history row: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("history_id", row.ID)
	}

	return nil
}

func (s *PostgresStore) Query(ctx context.Context, eventID string, limit, offset int) ([]ProcessingHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM event_processing_history
		WHERE event_id = $1
		ORDER BY attempt_number DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, eventID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRows(ctx, rows)
}

func (s *PostgresStore) FindOpen(ctx context.Context, eventID string) (*ProcessingHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM event_processing_history
		WHERE event_id = $1 AND status IN ('STARTED', 'PROCESSING')
	`

	row := s.db.QueryRowContext(ctx, query, eventID)
	h, err := scanHistoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open history row: %w", err)
	}

	return h, nil
}

func (s *PostgresStore) FindOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]ProcessingHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM event_processing_history
		WHERE status IN ('STARTED', 'PROCESSING') AND processing_start < $1
		ORDER BY processing_start ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale history rows: %w", err)
	}
	defer rows.Close()

	return scanHistoryRows(ctx, rows)
}

func (s *PostgresStore) DeleteForEvent(ctx context.Context, eventID string) error {
	query := `DELETE FROM event_processing_history WHERE event_id = $1`

	_, err := s.db.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete history rows: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistoryRow(scanner rowScanner) (*ProcessingHistory, error) {
	var h ProcessingHistory
	var errorMessage, errorCode, errorDetail, processorID sql.NullString
	var inputHash, outputHash, traceID, spanID, correlationID sql.NullString

	err := scanner.Scan(
		&h.ID, &h.EventID, &h.AttemptNumber, &h.Status, &h.ProcessingStart, &h.ProcessingEnd,
		&h.DurationMs, &errorMessage, &errorCode, &errorDetail, &processorID, &h.MemoryUsedMB,
		&h.InputSize, &h.OutputSize, &inputHash, &outputHash, &traceID, &spanID,
		&correlationID, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.ErrorMessage = errorMessage.String
	h.ErrorCode = errorCode.String
	h.ErrorDetail = errorDetail.String
	h.ProcessorID = processorID.String
	h.InputHash = inputHash.String
	h.OutputHash = outputHash.String
	h.TraceID = traceID.String
	h.SpanID = spanID.String
	h.CorrelationID = correlationID.String

	return &h, nil
}

func scanHistoryRows(ctx context.Context, rows *sql.Rows) ([]ProcessingHistory, error) {
	var result []ProcessingHistory
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		h, err := scanHistoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		result = append(result, *h)
	}

	return result, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
