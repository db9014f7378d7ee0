package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

const subscriptionColumns = `id, user_id, territory_id, plan_id, status,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, canceled_at, gateway_name, gateway_subscription_id,
	gateway_customer_id, version, created_at, updated_at`

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create returns ErrDuplicate when the user already holds a non-terminal
// subscription in the same scope.
func (r *SubscriptionRepository) Create(ctx context.Context, tx *sql.Tx, s *domain.Subscription) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ID, s.UserID, s.TerritoryID, s.PlanID, s.Status,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.TrialStart, s.TrialEnd,
		s.CancelAtPeriodEnd, s.CanceledAt, s.GatewayName, s.GatewaySubscriptionID,
		s.GatewayCustomerID, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, tx *sql.Tx, s *domain.Subscription) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET
			plan_id = $1, status = $2, current_period_start = $3, current_period_end = $4,
			trial_start = $5, trial_end = $6, cancel_at_period_end = $7, canceled_at = $8,
			gateway_name = $9, gateway_subscription_id = $10, gateway_customer_id = $11,
			updated_at = $12, version = version + 1
		WHERE id = $13 AND version = $14`,
		s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialStart, s.TrialEnd, s.CancelAtPeriodEnd, s.CanceledAt,
		s.GatewayName, s.GatewaySubscriptionID, s.GatewayCustomerID,
		s.UpdatedAt, s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if err := expectOneRow(res, "Update"); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return getSubscription(row, "GetByID")
}

func (r *SubscriptionRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Subscription, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id)
	return getSubscription(row, "GetForUpdate")
}

// FindCurrent returns the user's non-terminal subscription in a scope; a nil
// territory means the global scope.
func (r *SubscriptionRepository) FindCurrent(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*domain.Subscription, error) {
	var row *sql.Row
	if territoryID == nil {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE user_id = $1 AND territory_id IS NULL AND status NOT IN ('canceled', 'expired')`, userID)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE user_id = $1 AND territory_id = $2 AND status NOT IN ('canceled', 'expired')`, userID, *territoryID)
	}
	return getSubscription(row, "FindCurrent")
}

func (r *SubscriptionRepository) FindByGatewayID(ctx context.Context, gateway, gatewaySubscriptionID string) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE gateway_name = $1 AND gateway_subscription_id = $2`, gateway, gatewaySubscriptionID)
	return getSubscription(row, "FindByGatewayID")
}

// CountActiveBillingByPlan counts subscriptions still billed on a plan. It
// runs inside the deactivation transaction with the plan row locked.
func (r *SubscriptionRepository) CountActiveBillingByPlan(ctx context.Context, tx *sql.Tx, planID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions
		WHERE plan_id = $1 AND status IN ('active', 'trialing', 'past_due')`, planID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountActiveBillingByPlan: %w", err)
	}
	return n, nil
}

// ListDue returns non-terminal subscriptions that need the expiry sweep:
// scheduled cancellations past period end, and trials past their end.
func (r *SubscriptionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status NOT IN ('canceled', 'expired')
			AND ((cancel_at_period_end AND current_period_end <= $1)
				OR (status = 'trialing' AND trial_end <= $1))
		ORDER BY current_period_end LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListDue: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDue: scan: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListDue: rows: %w", err)
	}
	return subs, nil
}

func getSubscription(row *sql.Row, op string) (*domain.Subscription, error) {
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func scanSubscription(s scanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.Scan(
		&sub.ID, &sub.UserID, &sub.TerritoryID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.GatewayName, &sub.GatewaySubscriptionID,
		&sub.GatewayCustomerID, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
