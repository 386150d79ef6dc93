package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	pkgerrors "eventhub/pkg/errors"
)

// Store is the durable home of Event rows. All transition writes go
// through ConditionalUpdate so concurrent actors never clobber each
// other.
type Store interface {
	Create(ctx context.Context, e *Event) error
	FindByID(ctx context.Context, eventID string) (*Event, error)
	ConditionalUpdate(ctx context.Context, eventID string, expected Status, mutate func(*Event)) (bool, error)
	Find(ctx context.Context, filter Filter) ([]Event, error)
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]Event, error)
	FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Event, error)
	FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]Event, error)
	FindPurgeable(ctx context.Context, now time.Time, limit int) ([]Event, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	Delete(ctx context.Context, eventID string) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &PostgresStore{db: db}
}

const eventColumns = `event_id, event_type, source, schema_version, payload, payload_size,
	payload_hash, compressed, encrypted, event_timestamp, processing_timestamp, expires_at,
	status, priority, processing_attempts, max_attempts, next_retry_at, processing_error,
	processing_duration_ms, partition_key, shard_id, sequence_number, correlation_id,
	user_id, tenant_id, tags, metadata, retention_days, created_at, updated_at`

const priorityRank = `CASE priority
	WHEN 'CRITICAL' THEN 4
	WHEN 'HIGH' THEN 3
	WHEN 'MEDIUM' THEN 2
	WHEN 'LOW' THEN 1
	ELSE 0 END`

func (s *PostgresStore) Create(ctx context.Context, e *Event) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.EventID, e.EventType, e.Source, nullable(e.SchemaVersion), payloadJSON, e.PayloadSize,
		e.PayloadHash, e.Compressed, e.Encrypted, e.EventTimestamp, e.ProcessingTimestamp, e.ExpiresAt,
		e.Status, e.Priority, e.ProcessingAttempts, e.MaxAttempts, e.NextRetryAt, nullable(e.ProcessingError),
		e.ProcessingDurationMs, nullable(e.PartitionKey), nullable(e.ShardID), e.SequenceNumber,
		nullable(e.CorrelationID), nullable(e.UserID), nullable(e.TenantID), pq.Array(e.Tags),
		metadataJSON, e.RetentionDays, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("event '%s' already exists", e.EventID))
		}
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE event_id = $1`

	row := s.db.QueryRowContext(ctx, query, eventID)
	e, err := scanEventRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return e, nil
}

// ConditionalUpdate applies mutate to the event only if its status
// still equals expected at write time. It returns false without error
// when another actor moved the event first.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, eventID string, expected Status, mutate func(*Event)) (bool, error) {
	e, err := s.FindByID(ctx, eventID)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, pkgerrors.ErrNotFound.WithDetail("event_id", eventID)
	}
	if e.Status != expected {
		return false, nil
	}

	mutate(e)
	e.UpdatedAt = time.Now()

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE events
		SET event_type = $1, source = $2, schema_version = $3, payload = $4, payload_size = $5,
		    payload_hash = $6, processing_timestamp = $7, expires_at = $8, status = $9,
		    priority = $10, processing_attempts = $11, max_attempts = $12, next_retry_at = $13,
		    processing_error = $14, processing_duration_ms = $15, tags = $16, metadata = $17,
		    retention_days = $18, updated_at = $19
		WHERE event_id = $20 AND status = $21
	`

	res, err := s.db.ExecContext(ctx, query,
		e.EventType, e.Source, nullable(e.SchemaVersion), payloadJSON, e.PayloadSize,
		e.PayloadHash, e.ProcessingTimestamp, e.ExpiresAt, e.Status,
		e.Priority, e.ProcessingAttempts, e.MaxAttempts, e.NextRetryAt,
		nullable(e.ProcessingError), e.ProcessingDurationMs, pq.Array(e.Tags), metadataJSON,
		e.RetentionDays, e.UpdatedAt, eventID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (s *PostgresStore) Find(ctx context.Context, filter Filter) ([]Event, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Status != "" {
		addCondition("status = $%d", filter.Status)
	}
	if filter.EventType != "" {
		addCondition("event_type = $%d", filter.EventType)
	}
	if filter.Source != "" {
		addCondition("source = $%d", filter.Source)
	}
	if filter.PayloadHash != "" {
		addCondition("payload_hash = $%d", filter.PayloadHash)
	}
	if filter.CorrelationID != "" {
		addCondition("correlation_id = $%d", filter.CorrelationID)
	}
	if filter.TenantID != "" {
		addCondition("tenant_id = $%d", filter.TenantID)
	}
	if filter.From != nil {
		addCondition("event_timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("event_timestamp < $%d", *filter.To)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(ctx, rows)
}

func (s *PostgresStore) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status = 'RETRY' AND next_retry_at <= $1
		ORDER BY ` + priorityRank + ` DESC, next_retry_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due retries: %w", err)
	}
	defer rows.Close()

	return scanEventRows(ctx, rows)
}

func (s *PostgresStore) FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(ctx, rows)
}

func (s *PostgresStore) FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status NOT IN ('PROCESSED', 'CANCELLED', 'EXPIRED') AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(ctx, rows)
}

func (s *PostgresStore) FindPurgeable(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status IN ('PROCESSED', 'CANCELLED', 'EXPIRED') AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query purgeable events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(ctx, rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM events GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, eventID string) error {
	query := `DELETE FROM events WHERE event_id = $1`

	_, err := s.db.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEventRow(scanner rowScanner) (*Event, error) {
	var e Event
	var payloadJSON, metadataJSON []byte
	var schemaVersion, processingError, partitionKey, shardID sql.NullString
	var correlationID, userID, tenantID sql.NullString
	var tags pq.StringArray

	err := scanner.Scan(
		&e.EventID, &e.EventType, &e.Source, &schemaVersion, &payloadJSON, &e.PayloadSize,
		&e.PayloadHash, &e.Compressed, &e.Encrypted, &e.EventTimestamp, &e.ProcessingTimestamp, &e.ExpiresAt,
		&e.Status, &e.Priority, &e.ProcessingAttempts, &e.MaxAttempts, &e.NextRetryAt, &processingError,
		&e.ProcessingDurationMs, &partitionKey, &shardID, &e.SequenceNumber, &correlationID,
		&userID, &tenantID, &tags, &metadataJSON, &e.RetentionDays, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.SchemaVersion = schemaVersion.String
	e.ProcessingError = processingError.String
	e.PartitionKey = partitionKey.String
	e.ShardID = shardID.String
	e.CorrelationID = correlationID.String
	e.UserID = userID.String
	e.TenantID = tenantID.String
	e.Tags = tags

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &e, nil
}

func scanEventRows(ctx context.Context, rows *sql.Rows) ([]Event, error) {
	var result []Event
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		e, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		result = append(result, *e)
	}

	return result, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
