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

// LocationRepository defines the interface for location data access,
// including the spatial predicates used during ingestion and manual location
// creation. Geometry is stored in PostGIS and exchanged as WKT.
type LocationRepository interface {
	Create(ctx context.Context, loc *models.Location) error
	Get(ctx context.Context, id uuid.UUID) (*models.Location, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Location, error)
	// Intersecting returns every current location whose polygon intersects
	// the given WKT geometry, excluding the location identified by exclude.
	// The exclusion prevents a location matching itself.
	Intersecting(ctx context.Context, wkt string, exclude uuid.UUID) ([]*models.Location, error)
}

// locationRepository implements LocationRepository using PostgreSQL.
type locationRepository struct {
	db *database.DB
}

// NewLocationRepository creates a new location repository.
func NewLocationRepository(db *database.DB) LocationRepository {
	return &locationRepository{db: db}
}

const locationColumns = `id, referral_id, address_no, address_suffix, road_name,
	road_suffix, locality, postcode, ST_AsText(poly), created_at, deleted_at`

func scanLocation(row pgx.Row) (*models.Location, error) {
	loc := &models.Location{}
	err := row.Scan(
		&loc.ID, &loc.ReferralID, &loc.AddressNo, &loc.AddressSuffix, &loc.RoadName,
		&loc.RoadSuffix, &loc.Locality, &loc.Postcode, &loc.Poly, &loc.CreatedAt, &loc.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return loc, nil
}

func (r *locationRepository) Create(ctx context.Context, loc *models.Location) error {
	q := database.QuerierFrom(ctx, r.db)

	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	loc.CreatedAt = time.Now()

	_, err := q.Exec(ctx,
		`INSERT INTO locations (
			id, referral_id, address_no, address_suffix, road_name, road_suffix,
			locality, postcode, poly, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ST_GeomFromText($9, 4326), $10)`,
		loc.ID, loc.ReferralID, loc.AddressNo, loc.AddressSuffix, loc.RoadName,
		loc.RoadSuffix, loc.Locality, loc.Postcode, loc.Poly, loc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create location: %w", err)
	}
	return nil
}

func (r *locationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	q := database.QuerierFrom(ctx, r.db)
	loc, err := scanLocation(q.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("location %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return loc, nil
}

func (r *locationRepository) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Location, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+locationColumns+`
		 FROM locations
		 WHERE referral_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()
	return collectLocations(rows)
}

func (r *locationRepository) Intersecting(ctx context.Context, wkt string, exclude uuid.UUID) ([]*models.Location, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx,
		`SELECT `+locationColumns+`
		 FROM locations
		 WHERE deleted_at IS NULL
		   AND id <> $2
		   AND poly IS NOT NULL
		   AND ST_Intersects(poly, ST_GeomFromText($1, 4326))
		 ORDER BY created_at`, wkt, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to query intersecting locations: %w", err)
	}
	defer rows.Close()
	return collectLocations(rows)
}

func collectLocations(rows pgx.Rows) ([]*models.Location, error) {
	var locs []*models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}
	return locs, nil
}
