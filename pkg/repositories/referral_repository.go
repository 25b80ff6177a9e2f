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

// ReferralRepository defines the interface for referral data access.
type ReferralRepository interface {
	Create(ctx context.Context, ref *models.Referral) error
	Update(ctx context.Context, ref *models.Referral) error
	Get(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	// FindCurrentByReference returns the most recently created, non-deleted
	// referral whose reference matches case-insensitively, or ErrNotFound.
	FindCurrentByReference(ctx context.Context, reference string) (*models.Referral, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Referral, error)

	// Many-to-many assignments, all idempotent.
	AddRegion(ctx context.Context, referralID, regionID uuid.UUID) error
	Regions(ctx context.Context, referralID uuid.UUID) ([]*models.Region, error)
	AddTrigger(ctx context.Context, referralID, triggerID uuid.UUID) error
	Triggers(ctx context.Context, referralID uuid.UUID) ([]*models.DopTrigger, error)
	AddTag(ctx context.Context, referralID uuid.UUID, tag string) error
	Tags(ctx context.Context, referralID uuid.UUID) ([]string, error)

	// Relate records an undirected relationship between two referrals.
	// Edges are stored once under canonical (least, greatest) ordering, so a
	// pair is related at most once and Related(a, b) == Related(b, a).
	Relate(ctx context.Context, a, b uuid.UUID) error
	Unrelate(ctx context.Context, a, b uuid.UUID) error
	Related(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListRelated(ctx context.Context, id uuid.UUID) ([]*models.Referral, error)

	// Workflow gate predicates.
	HasLocation(ctx context.Context, referralID uuid.UUID) (bool, error)
	HasProposedCondition(ctx context.Context, referralID uuid.UUID) (bool, error)
}

// referralRepository implements ReferralRepository using PostgreSQL.
type referralRepository struct {
	db *database.DB
}

// NewReferralRepository creates a new referral repository.
func NewReferralRepository(db *database.DB) ReferralRepository {
	return &referralRepository{db: db}
}

const referralColumns = `r.id, r.type_id, rt.name, r.agency_id, r.referring_org_id,
	r.reference, r.description, r.address, r.referral_date, r.lga_id,
	r.created_at, r.updated_at, r.deleted_at`

func scanReferral(row pgx.Row) (*models.Referral, error) {
	ref := &models.Referral{}
	err := row.Scan(
		&ref.ID, &ref.TypeID, &ref.TypeName, &ref.AgencyID, &ref.ReferringOrgID,
		&ref.Reference, &ref.Description, &ref.Address, &ref.ReferralDate, &ref.LGAID,
		&ref.CreatedAt, &ref.UpdatedAt, &ref.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (r *referralRepository) Create(ctx context.Context, ref *models.Referral) error {
	q := database.QuerierFrom(ctx, r.db)

	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	now := time.Now()
	ref.CreatedAt = now
	ref.UpdatedAt = now

	_, err := q.Exec(ctx,
		`INSERT INTO referrals (
			id, type_id, agency_id, referring_org_id, reference, description,
			address, referral_date, lga_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ref.ID, ref.TypeID, ref.AgencyID, ref.ReferringOrgID, ref.Reference,
		ref.Description, ref.Address, ref.ReferralDate, ref.LGAID,
		ref.CreatedAt, ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create referral: %w", err)
	}
	return nil
}

func (r *referralRepository) Update(ctx context.Context, ref *models.Referral) error {
	q := database.QuerierFrom(ctx, r.db)
	ref.UpdatedAt = time.Now()

	tag, err := q.Exec(ctx,
		`UPDATE referrals SET
			type_id = $2, agency_id = $3, referring_org_id = $4, reference = $5,
			description = $6, address = $7, referral_date = $8, lga_id = $9,
			updated_at = $10
		 WHERE id = $1 AND deleted_at IS NULL`,
		ref.ID, ref.TypeID, ref.AgencyID, ref.ReferringOrgID, ref.Reference,
		ref.Description, ref.Address, ref.ReferralDate, ref.LGAID, ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("referral %s: %w", ref.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *referralRepository) Get(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	q := database.QuerierFrom(ctx, r.db)
	ref, err := scanReferral(q.QueryRow(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals r JOIN referral_types rt ON rt.id = r.type_id
		 WHERE r.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("referral %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return ref, nil
}

func (r *referralRepository) FindCurrentByReference(ctx context.Context, reference string) (*models.Referral, error) {
	q := database.QuerierFrom(ctx, r.db)
	ref, err := scanReferral(q.QueryRow(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals r JOIN referral_types rt ON rt.id = r.type_id
		 WHERE LOWER(r.reference) = LOWER($1) AND r.deleted_at IS NULL
		 ORDER BY r.created_at DESC
		 LIMIT 1`, reference))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("reference %q: %w", reference, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find referral by reference: %w", err)
	}
	return ref, nil
}

func (r *referralRepository) ListRecent(ctx context.Context, limit int) ([]*models.Referral, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals r JOIN referral_types rt ON rt.id = r.type_id
		 WHERE r.deleted_at IS NULL
		 ORDER BY r.created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var refs []*models.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read referrals: %w", err)
	}
	return refs, nil
}

func (r *referralRepository) AddRegion(ctx context.Context, referralID, regionID uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx,
		`INSERT INTO referral_regions (referral_id, region_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		referralID, regionID)
	if err != nil {
		return fmt.Errorf("failed to add region: %w", err)
	}
	return nil
}

func (r *referralRepository) Regions(ctx context.Context, referralID uuid.UUID) ([]*models.Region, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT rg.id, rg.name, rg.boundary IS NOT NULL
		 FROM referral_regions rr
		 JOIN regions rg ON rg.id = rr.region_id
		 WHERE rr.referral_id = $1
		 ORDER BY rg.name`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to query referral regions: %w", err)
	}
	defer rows.Close()

	var regions []*models.Region
	for rows.Next() {
		reg := &models.Region{}
		if err := rows.Scan(&reg.ID, &reg.Name, &reg.HasBoundary); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		regions = append(regions, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read regions: %w", err)
	}
	return regions, nil
}

func (r *referralRepository) AddTrigger(ctx context.Context, referralID, triggerID uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx,
		`INSERT INTO referral_triggers (referral_id, trigger_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		referralID, triggerID)
	if err != nil {
		return fmt.Errorf("failed to add trigger: %w", err)
	}
	return nil
}

func (r *referralRepository) Triggers(ctx context.Context, referralID uuid.UUID) ([]*models.DopTrigger, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT t.id, t.name
		 FROM referral_triggers rt
		 JOIN dop_triggers t ON t.id = rt.trigger_id
		 WHERE rt.referral_id = $1
		 ORDER BY t.name`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to query referral triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.DopTrigger
	for rows.Next() {
		t := &models.DopTrigger{}
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read triggers: %w", err)
	}
	return triggers, nil
}

func (r *referralRepository) AddTag(ctx context.Context, referralID uuid.UUID, tag string) error {
	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx,
		`INSERT INTO referral_tags (referral_id, tag)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		referralID, tag)
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}
	return nil
}

func (r *referralRepository) Tags(ctx context.Context, referralID uuid.UUID) ([]string, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT tag FROM referral_tags WHERE referral_id = $1 ORDER BY tag`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to query referral tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}
	return tags, nil
}

// canonicalEdge orders a pair of referral IDs so each undirected relationship
// is stored exactly once.
func canonicalEdge(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (r *referralRepository) Relate(ctx context.Context, a, b uuid.UUID) error {
	if a == b {
		return fmt.Errorf("cannot relate a referral to itself: %w", apperrors.ErrConflict)
	}
	lo, hi := canonicalEdge(a, b)
	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx,
		`INSERT INTO referral_relationships (referral_a, referral_b)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		lo, hi)
	if err != nil {
		return fmt.Errorf("failed to relate referrals: %w", err)
	}
	return nil
}

func (r *referralRepository) Unrelate(ctx context.Context, a, b uuid.UUID) error {
	lo, hi := canonicalEdge(a, b)
	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx,
		`DELETE FROM referral_relationships WHERE referral_a = $1 AND referral_b = $2`,
		lo, hi)
	if err != nil {
		return fmt.Errorf("failed to unrelate referrals: %w", err)
	}
	return nil
}

func (r *referralRepository) Related(ctx context.Context, a, b uuid.UUID) (bool, error) {
	lo, hi := canonicalEdge(a, b)
	q := database.QuerierFrom(ctx, r.db)
	var related bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM referral_relationships WHERE referral_a = $1 AND referral_b = $2
		 )`, lo, hi,
	).Scan(&related)
	if err != nil {
		return false, fmt.Errorf("failed to check relationship: %w", err)
	}
	return related, nil
}

func (r *referralRepository) ListRelated(ctx context.Context, id uuid.UUID) ([]*models.Referral, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+referralColumns+`
		 FROM referral_relationships rel
		 JOIN referrals r ON r.id = CASE WHEN rel.referral_a = $1 THEN rel.referral_b ELSE rel.referral_a END
		 JOIN referral_types rt ON rt.id = r.type_id
		 WHERE (rel.referral_a = $1 OR rel.referral_b = $1) AND r.deleted_at IS NULL
		 ORDER BY r.created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query related referrals: %w", err)
	}
	defer rows.Close()

	var refs []*models.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read related referrals: %w", err)
	}
	return refs, nil
}

func (r *referralRepository) HasLocation(ctx context.Context, referralID uuid.UUID) (bool, error) {
	q := database.QuerierFrom(ctx, r.db)
	var has bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM locations WHERE referral_id = $1 AND deleted_at IS NULL
		 )`, referralID,
	).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check locations: %w", err)
	}
	return has, nil
}

func (r *referralRepository) HasProposedCondition(ctx context.Context, referralID uuid.UUID) (bool, error) {
	q := database.QuerierFrom(ctx, r.db)
	var has bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM conditions
			WHERE referral_id = $1 AND deleted_at IS NULL AND proposed_condition <> ''
		 )`, referralID,
	).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check conditions: %w", err)
	}
	return has, nil
}
