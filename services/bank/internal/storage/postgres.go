package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists the audit trail. A nil *Store is a valid no-op sink so the
// service runs unchanged with auditing disabled.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// RecordAudit appends one operation outcome. Failures are logged, never
// surfaced; the audit trail is best effort and must not fail the operation
// it describes.
func (s *Store) RecordAudit(ctx context.Context, rec AuditRecord) {
	if s == nil || s.pool == nil {
		return
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bank_audit (id, operation, principal, asset, amount, status, reason, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Operation, rec.Principal, rec.Asset, rec.Amount, rec.Status, rec.Reason, rec.CorrelationID, rec.CreatedAt)
	if err != nil {
		s.logger.Error("audit insert failed", "operation", rec.Operation, "error", err)
	}
}

// ListRecent returns the newest audit rows for a principal, newest first.
func (s *Store) ListRecent(ctx context.Context, principal string, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, operation, principal, asset, amount, status, reason, correlation_id, created_at
		FROM bank_audit
		WHERE principal = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, principal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Operation, &rec.Principal, &rec.Asset, &rec.Amount, &rec.Status, &rec.Reason, &rec.CorrelationID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
