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

// TaskRepository defines the interface for task data access. Task fields are
// only ever written through the workflow engine.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Task, error)
}

// taskRepository implements TaskRepository using PostgreSQL.
type taskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *database.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `t.id, t.referral_id, t.type_id, tt.name, t.state_id, ts.name,
	t.assigned_user_id, t.description, t.start_date, t.due_date, t.stop_date,
	t.restart_date, t.complete_date, t.stop_time, t.created_at, t.updated_at, t.deleted_at`

const taskJoins = ` FROM tasks t
	JOIN task_types tt ON tt.id = t.type_id
	JOIN task_states ts ON ts.id = t.state_id`

func scanTask(row pgx.Row) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.ReferralID, &t.TypeID, &t.TypeName, &t.StateID, &t.StateName,
		&t.AssignedUserID, &t.Description, &t.StartDate, &t.DueDate, &t.StopDate,
		&t.RestartDate, &t.CompleteDate, &t.StopTime, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *taskRepository) Create(ctx context.Context, task *models.Task) error {
	q := database.QuerierFrom(ctx, r.db)

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := q.Exec(ctx,
		`INSERT INTO tasks (
			id, referral_id, type_id, state_id, assigned_user_id, description,
			start_date, due_date, stop_date, restart_date, complete_date,
			stop_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		task.ID, task.ReferralID, task.TypeID, task.StateID, task.AssignedUserID,
		task.Description, task.StartDate, task.DueDate, task.StopDate,
		task.RestartDate, task.CompleteDate, task.StopTime, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	q := database.QuerierFrom(ctx, r.db)
	task.UpdatedAt = time.Now()

	tag, err := q.Exec(ctx,
		`UPDATE tasks SET
			state_id = $2, assigned_user_id = $3, description = $4,
			start_date = $5, due_date = $6, stop_date = $7, restart_date = $8,
			complete_date = $9, stop_time = $10, updated_at = $11
		 WHERE id = $1 AND deleted_at IS NULL`,
		task.ID, task.StateID, task.AssignedUserID, task.Description,
		task.StartDate, task.DueDate, task.StopDate, task.RestartDate,
		task.CompleteDate, task.StopTime, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db)
	t, err := scanTask(q.QueryRow(ctx,
		`SELECT `+taskColumns+taskJoins+` WHERE t.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (r *taskRepository) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+taskColumns+taskJoins+`
		 WHERE t.referral_id = $1 AND t.deleted_at IS NULL
		 ORDER BY t.created_at`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	return tasks, nil
}
