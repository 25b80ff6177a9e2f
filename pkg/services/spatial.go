package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/models"
	"github.com/ropable/prs/pkg/repositories"
)

// SpatialService resolves geometry against the region catalog and existing
// referral locations. Both operations are pure set predicates evaluated in
// PostGIS; the same exclusion rule (never self-intersect) applies wherever
// location intersection is used.
type SpatialService interface {
	// IntersectingRegions returns every region whose boundary intersects
	// the point, not just the first.
	IntersectingRegions(ctx context.Context, pt models.Point) ([]*models.Region, error)
	// IntersectingLocations returns every current location intersecting the
	// WKT geometry, excluding the given location.
	IntersectingLocations(ctx context.Context, wkt string, exclude uuid.UUID) ([]*models.Location, error)
}

// spatialService implements SpatialService.
type spatialService struct {
	lookupRepo   repositories.LookupRepository
	locationRepo repositories.LocationRepository
	logger       *zap.Logger
}

// NewSpatialService creates a new spatial service with dependencies.
func NewSpatialService(
	lookupRepo repositories.LookupRepository,
	locationRepo repositories.LocationRepository,
	logger *zap.Logger,
) SpatialService {
	return &spatialService{
		lookupRepo:   lookupRepo,
		locationRepo: locationRepo,
		logger:       logger,
	}
}

func (s *spatialService) IntersectingRegions(ctx context.Context, pt models.Point) ([]*models.Region, error) {
	return s.lookupRepo.IntersectingRegions(ctx, pt)
}

func (s *spatialService) IntersectingLocations(ctx context.Context, wkt string, exclude uuid.UUID) ([]*models.Location, error) {
	return s.locationRepo.Intersecting(ctx, wkt, exclude)
}
