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

// RecordRepository defines the interface for record and note data access.
type RecordRepository interface {
	Create(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Record, error)
	CreateNote(ctx context.Context, note *models.Note) error
	ListNotesByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Note, error)
}

// recordRepository implements RecordRepository using PostgreSQL.
type recordRepository struct {
	db *database.DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *database.DB) RecordRepository {
	return &recordRepository{db: db}
}

const recordColumns = `id, referral_id, name, description, file_name, object_key,
	order_date, created_at, deleted_at`

func scanRecord(row pgx.Row) (*models.Record, error) {
	rec := &models.Record{}
	err := row.Scan(
		&rec.ID, &rec.ReferralID, &rec.Name, &rec.Description, &rec.FileName,
		&rec.ObjectKey, &rec.OrderDate, &rec.CreatedAt, &rec.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *recordRepository) Create(ctx context.Context, rec *models.Record) error {
	q := database.QuerierFrom(ctx, r.db)

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()

	_, err := q.Exec(ctx,
		`INSERT INTO records (
			id, referral_id, name, description, file_name, object_key,
			order_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.ReferralID, rec.Name, rec.Description, rec.FileName,
		rec.ObjectKey, rec.OrderDate, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (r *recordRepository) Get(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	q := database.QuerierFrom(ctx, r.db)
	rec, err := scanRecord(q.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("record %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (r *recordRepository) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Record, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM records
		 WHERE referral_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return recs, nil
}

func (r *recordRepository) CreateNote(ctx context.Context, note *models.Note) error {
	q := database.QuerierFrom(ctx, r.db)

	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	note.CreatedAt = time.Now()

	_, err := q.Exec(ctx,
		`INSERT INTO notes (id, referral_id, note, created_at)
		 VALUES ($1, $2, $3, $4)`,
		note.ID, note.ReferralID, note.Note, note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

func (r *recordRepository) ListNotesByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Note, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT id, referral_id, note, created_at, deleted_at
		 FROM notes
		 WHERE referral_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		n := &models.Note{}
		if err := rows.Scan(&n.ID, &n.ReferralID, &n.Note, &n.CreatedAt, &n.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return notes, nil
}
