package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/models"
)

// LookupRepository provides read access to the reference catalogs maintained
// by administrators: regions, agencies, organisations, referral types, task
// types/states, triggers, local governments, users and per-region assignees.
// These are read-only from the core's perspective during a harvest run.
type LookupRepository interface {
	AgencyBySlug(ctx context.Context, slug string) (*models.Agency, error)
	OrganisationBySlug(ctx context.Context, slug string) (*models.Organisation, error)
	ReferralTypeByPrefix(ctx context.Context, prefix string) (*models.ReferralType, error)
	TaskTypeByName(ctx context.Context, name string) (*models.TaskType, error)
	TaskStateByName(ctx context.Context, name string) (*models.TaskState, error)
	TriggerByName(ctx context.Context, name string) (*models.DopTrigger, error)
	// TriggerByUniquePrefix returns a trigger only when exactly one current
	// trigger matches the case-insensitive prefix; ErrLookup otherwise.
	TriggerByUniquePrefix(ctx context.Context, prefix string) (*models.DopTrigger, error)
	LocalGovernmentByName(ctx context.Context, name string) (*models.LocalGovernment, error)
	RegionByName(ctx context.Context, name string) (*models.Region, error)
	// IntersectingRegions returns every region whose boundary intersects the
	// given point, in name order.
	IntersectingRegions(ctx context.Context, point models.Point) ([]*models.Region, error)
	RegionAssignee(ctx context.Context, regionID uuid.UUID) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ActiveUsersInGroup returns the active members of a named group.
	ActiveUsersInGroup(ctx context.Context, group string) ([]*models.User, error)
}

// lookupRepository implements LookupRepository using PostgreSQL.
type lookupRepository struct {
	db *database.DB
}

// NewLookupRepository creates a new lookup repository.
func NewLookupRepository(db *database.DB) LookupRepository {
	return &lookupRepository{db: db}
}

func (r *lookupRepository) AgencyBySlug(ctx context.Context, slug string) (*models.Agency, error) {
	q := database.QuerierFrom(ctx, r.db)
	a := &models.Agency{}
	err := q.QueryRow(ctx,
		`SELECT id, name, slug FROM agencies WHERE slug = $1`, slug,
	).Scan(&a.ID, &a.Name, &a.Slug)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("agency %q: %w", slug, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agency: %w", err)
	}
	return a, nil
}

func (r *lookupRepository) OrganisationBySlug(ctx context.Context, slug string) (*models.Organisation, error) {
	q := database.QuerierFrom(ctx, r.db)
	o := &models.Organisation{}
	err := q.QueryRow(ctx,
		`SELECT id, name, slug FROM organisations WHERE slug = $1`, slug,
	).Scan(&o.ID, &o.Name, &o.Slug)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("organisation %q: %w", slug, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}
	return o, nil
}

// ReferralTypeByPrefix returns the first referral type whose name matches the
// given case-insensitive prefix.
func (r *lookupRepository) ReferralTypeByPrefix(ctx context.Context, prefix string) (*models.ReferralType, error) {
	q := database.QuerierFrom(ctx, r.db)
	t := &models.ReferralType{}
	err := q.QueryRow(ctx,
		`SELECT id, name FROM referral_types WHERE name ILIKE $1 || '%' ORDER BY name LIMIT 1`, prefix,
	).Scan(&t.ID, &t.Name)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("referral type %q: %w", prefix, apperrors.ErrLookup)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral type: %w", err)
	}
	return t, nil
}

func (r *lookupRepository) TaskTypeByName(ctx context.Context, name string) (*models.TaskType, error) {
	q := database.QuerierFrom(ctx, r.db)
	t := &models.TaskType{}
	err := q.QueryRow(ctx,
		`SELECT tt.id, tt.name, tt.initial_state_id, ts.name, tt.target_days
		 FROM task_types tt
		 JOIN task_states ts ON ts.id = tt.initial_state_id
		 WHERE tt.name = $1`, name,
	).Scan(&t.ID, &t.Name, &t.InitialStateID, &t.InitialState, &t.TargetDays)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("task type %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task type: %w", err)
	}
	return t, nil
}

func (r *lookupRepository) TaskStateByName(ctx context.Context, name string) (*models.TaskState, error) {
	q := database.QuerierFrom(ctx, r.db)
	s := &models.TaskState{}
	err := q.QueryRow(ctx,
		`SELECT id, name FROM task_states WHERE name = $1`, name,
	).Scan(&s.ID, &s.Name)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("task state %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task state: %w", err)
	}
	return s, nil
}

func (r *lookupRepository) TriggerByName(ctx context.Context, name string) (*models.DopTrigger, error) {
	q := database.QuerierFrom(ctx, r.db)
	t := &models.DopTrigger{}
	err := q.QueryRow(ctx,
		`SELECT id, name FROM dop_triggers WHERE name = $1`, name,
	).Scan(&t.ID, &t.Name)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("trigger %q: %w", name, apperrors.ErrLookup)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger: %w", err)
	}
	return t, nil
}

func (r *lookupRepository) TriggerByUniquePrefix(ctx context.Context, prefix string) (*models.DopTrigger, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT id, name FROM dop_triggers WHERE name ILIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var matches []*models.DopTrigger
	for rows.Next() {
		t := &models.DopTrigger{}
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read triggers: %w", err)
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("trigger prefix %q matched %d entries: %w", prefix, len(matches), apperrors.ErrLookup)
	}
	return matches[0], nil
}

func (r *lookupRepository) LocalGovernmentByName(ctx context.Context, name string) (*models.LocalGovernment, error) {
	q := database.QuerierFrom(ctx, r.db)
	lga := &models.LocalGovernment{}
	err := q.QueryRow(ctx,
		`SELECT id, name FROM local_governments WHERE name = $1`, name,
	).Scan(&lga.ID, &lga.Name)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("local government %q: %w", name, apperrors.ErrLookup)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get local government: %w", err)
	}
	return lga, nil
}

func (r *lookupRepository) RegionByName(ctx context.Context, name string) (*models.Region, error) {
	q := database.QuerierFrom(ctx, r.db)
	reg := &models.Region{}
	err := q.QueryRow(ctx,
		`SELECT id, name, boundary IS NOT NULL FROM regions WHERE name = $1`, name,
	).Scan(&reg.ID, &reg.Name, &reg.HasBoundary)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("region %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return reg, nil
}

func (r *lookupRepository) IntersectingRegions(ctx context.Context, point models.Point) ([]*models.Region, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT id, name, boundary IS NOT NULL
		 FROM regions
		 WHERE boundary IS NOT NULL
		   AND ST_Intersects(boundary, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		 ORDER BY name`,
		point.X, point.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to query intersecting regions: %w", err)
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

// RegionAssignee returns the default assignee for a region, or ErrLookup if
// no mapping exists. A missing mapping is an expected state, not a fault.
func (r *lookupRepository) RegionAssignee(ctx context.Context, regionID uuid.UUID) (*models.User, error) {
	q := database.QuerierFrom(ctx, r.db)
	u := &models.User{}
	err := q.QueryRow(ctx,
		`SELECT u.id, u.username, u.full_name, u.email, u.active
		 FROM region_assignees ra
		 JOIN users u ON u.id = ra.user_id
		 WHERE ra.region_id = $1 AND u.active`, regionID,
	).Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Active)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no assignee for region %s: %w", regionID, apperrors.ErrLookup)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region assignee: %w", err)
	}
	return u, nil
}

func (r *lookupRepository) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	q := database.QuerierFrom(ctx, r.db)
	u := &models.User{}
	err := q.QueryRow(ctx,
		`SELECT id, username, full_name, email, active FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Active)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", username, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *lookupRepository) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := database.QuerierFrom(ctx, r.db)
	u := &models.User{}
	err := q.QueryRow(ctx,
		`SELECT id, username, full_name, email, active FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Active)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *lookupRepository) ActiveUsersInGroup(ctx context.Context, group string) ([]*models.User, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT u.id, u.username, u.full_name, u.email, u.active
		 FROM users u
		 JOIN user_groups ug ON ug.user_id = u.id
		 JOIN groups g ON g.id = ug.group_id
		 WHERE g.name = $1 AND u.active
		 ORDER BY u.username`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}
