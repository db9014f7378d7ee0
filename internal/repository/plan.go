package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

const planColumns = `id, code, name, description, tier, scope, territory_id,
	price_per_cycle_minor_units, currency, billing_cycle, capabilities,
	numeric_limits, text_limits, trial_days, is_active, version, created_at, updated_at`

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error {
	numeric, err := marshalJSON(p.NumericLimits)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	text, err := marshalJSON(p.TextLimits)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscription_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.Code, p.Name, p.Description, p.Tier, p.Scope, p.TerritoryID,
		p.PricePerCycleMinorUnits, p.Currency, p.BillingCycle, capabilityArray(p.Capabilities),
		numeric, text, p.TrialDays, p.IsActive, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PlanRepository) Update(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error {
	numeric, err := marshalJSON(p.NumericLimits)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	text, err := marshalJSON(p.TextLimits)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE subscription_plans SET
			name = $1, description = $2, tier = $3, price_per_cycle_minor_units = $4, currency = $5,
			billing_cycle = $6, capabilities = $7, numeric_limits = $8, text_limits = $9,
			trial_days = $10, is_active = $11, updated_at = $12, version = version + 1
		WHERE id = $13 AND version = $14`,
		p.Name, p.Description, p.Tier, p.PricePerCycleMinorUnits, p.Currency,
		p.BillingCycle, capabilityArray(p.Capabilities), numeric, text,
		p.TrialDays, p.IsActive, p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Update: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("Update: %w", err)
	}
	if err := expectOneRow(res, "Update"); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
	return getPlan(row, "GetByID")
}

func (r *PlanRepository) GetByCode(ctx context.Context, code string) (*domain.SubscriptionPlan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE code = $1`, code)
	return getPlan(row, "GetByCode")
}

func (r *PlanRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1 FOR UPDATE`, id)
	return getPlan(row, "GetForUpdate")
}

// FindDefaultFree returns the active FREE plan of a territory, or the global
// one when territoryID is nil.
func (r *PlanRepository) FindDefaultFree(ctx context.Context, territoryID *uuid.UUID) (*domain.SubscriptionPlan, error) {
	var row *sql.Row
	if territoryID == nil {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+planColumns+` FROM subscription_plans
			WHERE tier = 'free' AND is_active AND territory_id IS NULL`)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+planColumns+` FROM subscription_plans
			WHERE tier = 'free' AND is_active AND territory_id = $1`, *territoryID)
	}
	return getPlan(row, "FindDefaultFree")
}

// List returns plans usable in a territory: global ones plus the
// territory's own. A nil territory lists only global plans.
func (r *PlanRepository) List(ctx context.Context, territoryID *uuid.UUID, activeOnly bool) ([]domain.SubscriptionPlan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM subscription_plans
		WHERE (territory_id IS NULL OR territory_id = $1) AND ($2 = FALSE OR is_active)
		ORDER BY price_per_cycle_minor_units, code`,
		territoryID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var plans []domain.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return plans, nil
}

func (r *PlanRepository) AppendHistory(ctx context.Context, tx *sql.Tx, h *domain.PlanHistoryRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO plan_history (id, plan_id, change_type, actor_id, reason, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.PlanID, h.ChangeType, h.ActorID, h.Reason, h.Snapshot, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("AppendHistory: %w", err)
	}
	return nil
}

func (r *PlanRepository) ListHistory(ctx context.Context, planID uuid.UUID) ([]domain.PlanHistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, plan_id, change_type, actor_id, reason, snapshot, created_at
		FROM plan_history WHERE plan_id = $1 ORDER BY created_at, id`, planID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListHistory: %w", err)
	}
	defer rows.Close()

	var history []domain.PlanHistoryRecord
	for rows.Next() {
		var h domain.PlanHistoryRecord
		if err := rows.Scan(&h.ID, &h.PlanID, &h.ChangeType, &h.ActorID, &h.Reason, &h.Snapshot, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListHistory: scan: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListHistory: rows: %w", err)
	}
	return history, nil
}

func getPlan(row *sql.Row, op string) (*domain.SubscriptionPlan, error) {
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func scanPlan(s scanner) (*domain.SubscriptionPlan, error) {
	var (
		p             domain.SubscriptionPlan
		caps          []string
		numeric, text []byte
	)
	err := s.Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &p.Tier, &p.Scope, &p.TerritoryID,
		&p.PricePerCycleMinorUnits, &p.Currency, &p.BillingCycle, pq.Array(&caps),
		&numeric, &text, &p.TrialDays, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Capabilities = toCapabilities(caps)
	if p.NumericLimits, err = unmarshalMap[int64](numeric); err != nil {
		return nil, err
	}
	if p.TextLimits, err = unmarshalMap[string](text); err != nil {
		return nil, err
	}
	return &p, nil
}
