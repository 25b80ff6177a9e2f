package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/models"
)

// ConditionRepository defines the interface for condition and clearance data
// access.
type ConditionRepository interface {
	Create(ctx context.Context, c *models.Condition) error
	Get(ctx context.Context, id uuid.UUID) (*models.Condition, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Condition, error)
	// AddClearance links a clearance-request task to a condition.
	AddClearance(ctx context.Context, clearance *models.Clearance) error
	ListClearances(ctx context.Context, conditionID uuid.UUID) ([]*models.Clearance, error)
}

// conditionRepository implements ConditionRepository using PostgreSQL.
type conditionRepository struct {
	db *database.DB
}

// NewConditionRepository creates a new condition repository.
func NewConditionRepository(db *database.DB) ConditionRepository {
	return &conditionRepository{db: db}
}

const conditionColumns = `id, referral_id, identifier, proposed_condition,
	approved_condition, created_at, creator_id, deleted_at`

func scanCondition(row pgx.Row) (*models.Condition, error) {
	c := &models.Condition{}
	err := row.Scan(
		&c.ID, &c.ReferralID, &c.Identifier, &c.ProposedCondition,
		&c.ApprovedCondition, &c.CreatedAt, &c.CreatorID, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *conditionRepository) Create(ctx context.Context, c *models.Condition) error {
	q := database.QuerierFrom(ctx, r.db)

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()

	_, err := q.Exec(ctx,
		`INSERT INTO conditions (
			id, referral_id, identifier, proposed_condition, approved_condition,
			created_at, creator_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ReferralID, c.Identifier, c.ProposedCondition, c.ApprovedCondition,
		c.CreatedAt, c.CreatorID,
	)
	if err != nil {
		return fmt.Errorf("failed to create condition: %w", err)
	}
	return nil
}

func (r *conditionRepository) Get(ctx context.Context, id uuid.UUID) (*models.Condition, error) {
	q := database.QuerierFrom(ctx, r.db)
	c, err := scanCondition(q.QueryRow(ctx,
		`SELECT `+conditionColumns+` FROM conditions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("condition %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get condition: %w", err)
	}
	return c, nil
}

func (r *conditionRepository) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Condition, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+conditionColumns+`
		 FROM conditions
		 WHERE referral_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conditions: %w", err)
	}
	defer rows.Close()

	var conditions []*models.Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		conditions = append(conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conditions: %w", err)
	}
	return conditions, nil
}

func (r *conditionRepository) AddClearance(ctx context.Context, clearance *models.Clearance) error {
	q := database.QuerierFrom(ctx, r.db)

	if clearance.ID == uuid.Nil {
		clearance.ID = uuid.New()
	}
	clearance.CreatedAt = time.Now()

	_, err := q.Exec(ctx,
		`INSERT INTO clearances (id, condition_id, task_id, deposited_plan, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		clearance.ID, clearance.ConditionID, clearance.TaskID,
		clearance.DepositedPlan, clearance.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create clearance: %w", err)
	}
	return nil
}

func (r *conditionRepository) ListClearances(ctx context.Context, conditionID uuid.UUID) ([]*models.Clearance, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT id, condition_id, task_id, deposited_plan, created_at
		 FROM clearances
		 WHERE condition_id = $1
		 ORDER BY created_at`, conditionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clearances: %w", err)
	}
	defer rows.Close()

	var clearances []*models.Clearance
	for rows.Next() {
		c := &models.Clearance{}
		if err := rows.Scan(&c.ID, &c.ConditionID, &c.TaskID, &c.DepositedPlan, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan clearance: %w", err)
		}
		clearances = append(clearances, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read clearances: %w", err)
	}
	return clearances, nil
}
