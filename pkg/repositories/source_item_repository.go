package repositories

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/models"
)

// SourceItemRepository defines the interface for harvested email data access.
type SourceItemRepository interface {
	Create(ctx context.Context, item *models.SourceItem) error
	Get(ctx context.Context, id uuid.UUID) (*models.SourceItem, error)
	// ListUnprocessed returns unprocessed items in harvest order.
	ListUnprocessed(ctx context.Context) ([]*models.SourceItem, error)
	// Finalize persists the item's processed flag, log, purge intent and
	// referral link in one statement.
	Finalize(ctx context.Context, item *models.SourceItem) error
	Attachments(ctx context.Context, sourceItemID uuid.UUID) ([]*models.Attachment, error)
	CreateAttachment(ctx context.Context, att *models.Attachment) error
	// LinkAttachmentRecord links an attachment to the record generated from it.
	LinkAttachmentRecord(ctx context.Context, attachmentID, recordID uuid.UUID) error
}

// sourceItemRepository implements SourceItemRepository using PostgreSQL.
type sourceItemRepository struct {
	db *database.DB
}

// NewSourceItemRepository creates a new source item repository.
func NewSourceItemRepository(db *database.DB) SourceItemRepository {
	return &sourceItemRepository{db: db}
}

var (
	leadingComment = regexp.MustCompile(`(?s)^(<!--)(.+)(-->)`)
	nbspEntity     = regexp.MustCompile(`(&nbsp;)`)
)

// cleanSubject normalizes harvested subject lines.
func cleanSubject(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", ""))
}

// cleanBody strips quoted-printable soft breaks and stray markup from
// harvested email bodies.
func cleanBody(s string) string {
	s = strings.ReplaceAll(s, "=\r\n", "")
	s = strings.ReplaceAll(s, "=E2=80=93", "-")
	s = strings.TrimSpace(s)
	s = leadingComment.ReplaceAllString(s, "")
	s = nbspEntity.ReplaceAllString(s, "")
	return s
}

const sourceItemColumns = `id, email_uid, to_email, from_email, subject, body,
	received, harvested, referral_id, processed, purgeable, log`

func scanSourceItem(row pgx.Row) (*models.SourceItem, error) {
	item := &models.SourceItem{}
	err := row.Scan(
		&item.ID, &item.EmailUID, &item.ToEmail, &item.FromEmail, &item.Subject,
		&item.Body, &item.Received, &item.Harvested, &item.ReferralID,
		&item.Processed, &item.Purgeable, &item.Log,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *sourceItemRepository) Create(ctx context.Context, item *models.SourceItem) error {
	q := database.QuerierFrom(ctx, r.db)

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Harvested.IsZero() {
		item.Harvested = time.Now()
	}
	item.Subject = cleanSubject(item.Subject)
	item.Body = cleanBody(item.Body)

	_, err := q.Exec(ctx,
		`INSERT INTO source_items (
			id, email_uid, to_email, from_email, subject, body, received,
			harvested, referral_id, processed, purgeable, log
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.EmailUID, item.ToEmail, item.FromEmail, item.Subject,
		item.Body, item.Received, item.Harvested, item.ReferralID,
		item.Processed, item.Purgeable, item.Log,
	)
	if err != nil {
		return fmt.Errorf("failed to create source item: %w", err)
	}
	return nil
}

func (r *sourceItemRepository) Get(ctx context.Context, id uuid.UUID) (*models.SourceItem, error) {
	q := database.QuerierFrom(ctx, r.db)
	item, err := scanSourceItem(q.QueryRow(ctx,
		`SELECT `+sourceItemColumns+` FROM source_items WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("source item %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source item: %w", err)
	}
	return item, nil
}

func (r *sourceItemRepository) ListUnprocessed(ctx context.Context) ([]*models.SourceItem, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+sourceItemColumns+`
		 FROM source_items
		 WHERE NOT processed
		 ORDER BY harvested`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed source items: %w", err)
	}
	defer rows.Close()

	var items []*models.SourceItem
	for rows.Next() {
		item, err := scanSourceItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source items: %w", err)
	}
	return items, nil
}

func (r *sourceItemRepository) Finalize(ctx context.Context, item *models.SourceItem) error {
	q := database.QuerierFrom(ctx, r.db)
	tag, err := q.Exec(ctx,
		`UPDATE source_items SET
			referral_id = $2, processed = $3, purgeable = $4, log = $5
		 WHERE id = $1`,
		item.ID, item.ReferralID, item.Processed, item.Purgeable, item.Log,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize source item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source item %s: %w", item.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *sourceItemRepository) Attachments(ctx context.Context, sourceItemID uuid.UUID) ([]*models.Attachment, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT id, source_item_id, name, object_key, record_id, created_at
		 FROM attachments
		 WHERE source_item_id = $1
		 ORDER BY created_at`, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var atts []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.ID, &a.SourceItemID, &a.Name, &a.ObjectKey, &a.RecordID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		atts = append(atts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attachments: %w", err)
	}
	return atts, nil
}

func (r *sourceItemRepository) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	q := database.QuerierFrom(ctx, r.db)

	if att.ID == uuid.Nil {
		att.ID = uuid.New()
	}
	att.CreatedAt = time.Now()

	_, err := q.Exec(ctx,
		`INSERT INTO attachments (id, source_item_id, name, object_key, record_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		att.ID, att.SourceItemID, att.Name, att.ObjectKey, att.RecordID, att.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

func (r *sourceItemRepository) LinkAttachmentRecord(ctx context.Context, attachmentID, recordID uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db)
	tag, err := q.Exec(ctx,
		`UPDATE attachments SET record_id = $2 WHERE id = $1`,
		attachmentID, recordID,
	)
	if err != nil {
		return fmt.Errorf("failed to link attachment record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attachment %s: %w", attachmentID, apperrors.ErrNotFound)
	}
	return nil
}
