package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

const gatewayEventColumns = `id, gateway, payload_hash, signature, payload, status,
	attempts, last_attempt, last_error, created_at`

type GatewayEventRepository struct {
	db *sql.DB
}

func NewGatewayEventRepository(db *sql.DB) *GatewayEventRepository {
	return &GatewayEventRepository{db: db}
}

// Create stores an inbound webhook. A redelivered body returns ErrDuplicate.
func (r *GatewayEventRepository) Create(ctx context.Context, event *domain.GatewayEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_events (`+gatewayEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Gateway, event.PayloadHash, event.Signature, event.Payload, event.Status,
		event.Attempts, event.LastAttempt, event.LastError, event.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending bumps the attempt counter on up to limit pending events and
// returns them. SKIP LOCKED keeps concurrent processors off the same rows.
func (r *GatewayEventRepository) ClaimPending(ctx context.Context, limit int) ([]domain.GatewayEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE gateway_events SET attempts = attempts + 1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM gateway_events WHERE status = $1
			ORDER BY created_at LIMIT $2 FOR UPDATE SKIP LOCKED
		)
		RETURNING `+gatewayEventColumns,
		domain.GatewayEventStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.GatewayEvent
	for rows.Next() {
		e, err := scanGatewayEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

func (r *GatewayEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GatewayEventStatus, lastError *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gateway_events SET status = $1, last_error = $2 WHERE id = $3`,
		status, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *GatewayEventRepository) CountByStatus(ctx context.Context) (map[domain.GatewayEventStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM gateway_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("CountByStatus: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.GatewayEventStatus]int)
	for rows.Next() {
		var (
			status domain.GatewayEventStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("CountByStatus: scan: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("CountByStatus: rows: %w", err)
	}
	return counts, nil
}

func scanGatewayEvent(s scanner) (*domain.GatewayEvent, error) {
	var e domain.GatewayEvent
	err := s.Scan(
		&e.ID, &e.Gateway, &e.PayloadHash, &e.Signature, &e.Payload, &e.Status,
		&e.Attempts, &e.LastAttempt, &e.LastError, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
