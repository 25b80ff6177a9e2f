package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/config"
	"github.com/ropable/prs/pkg/models"
	"github.com/ropable/prs/pkg/repositories"
)

// Trigger names with dedicated matching rules. Specific zone text maps to a
// more general trigger; the sentinel is attached when nothing else matched.
const (
	triggerBushForever  = "Bush Forever site"
	triggerDPWEstate    = "Parks and Wildlife estate"
	triggerRegionalPark = "Regional Park"
	triggerNone         = "No Parks and Wildlife trigger"
)

// ResolvedAddress pairs a package address with the geometric features the
// geocode gateway returned for it.
type ResolvedAddress struct {
	Address  PackageAddress
	Features []Feature
}

// Resolution is the outcome of resolving one parsed package against the
// current data: the persisted referral, the region/assignee decision and the
// addresses that carry geometry for location creation.
type Resolution struct {
	Referral    *models.Referral
	Preexisting bool
	Region      *models.Region
	Assignee    *models.User
	Addresses   []ResolvedAddress

	// regionSet holds the distinct regions intersected during address
	// resolution, keyed by region ID.
	regionSet map[uuid.UUID]*models.Region
}

// ReferralResolver decides whether an inbound package matches an existing
// referral or creates a new one, resolves its region and default assignee,
// and applies trigger tags.
type ReferralResolver interface {
	Resolve(ctx context.Context, pkg *ReferralPackage, received time.Time, log *ActionLog) (*Resolution, error)
}

// referralResolver implements ReferralResolver.
type referralResolver struct {
	referralRepo repositories.ReferralRepository
	lookupRepo   repositories.LookupRepository
	spatial      SpatialService
	geocoder     Geocoder
	cfg          config.HarvestConfig
	logger       *zap.Logger
}

// NewReferralResolver creates a new referral resolver with dependencies.
func NewReferralResolver(
	referralRepo repositories.ReferralRepository,
	lookupRepo repositories.LookupRepository,
	spatial SpatialService,
	geocoder Geocoder,
	cfg config.HarvestConfig,
	logger *zap.Logger,
) ReferralResolver {
	return &referralResolver{
		referralRepo: referralRepo,
		lookupRepo:   lookupRepo,
		spatial:      spatial,
		geocoder:     geocoder,
		cfg:          cfg,
		logger:       logger,
	}
}

func (r *referralResolver) Resolve(ctx context.Context, pkg *ReferralPackage, received time.Time, log *ActionLog) (*Resolution, error) {
	// An unrecognised application type is terminal for the item.
	refType, err := r.lookupRepo.ReferralTypeByPrefix(ctx, pkg.ApplicationType)
	if err != nil {
		return nil, fmt.Errorf("referral type %q is not a recognised type: %w", pkg.ApplicationType, err)
	}

	agency, err := r.lookupRepo.AgencyBySlug(ctx, r.cfg.AgencySlug)
	if err != nil {
		return nil, err
	}
	org, err := r.lookupRepo.OrganisationBySlug(ctx, r.cfg.ReferringOrgSlug)
	if err != nil {
		return nil, err
	}

	res := &Resolution{}

	// Match or create: duplicate references are expected; prefer the most
	// recently created current match.
	existing, err := r.referralRepo.FindCurrentByReference(ctx, pkg.Reference)
	switch {
	case err == nil:
		msg := log.Addf("Referral ref. %s is already in the database; using existing referral", pkg.Reference)
		r.logger.Info(msg)
		res.Referral = existing
		res.Preexisting = true
	case isNotFound(err):
		msg := log.Addf("Importing harvested referral ref. %s as a new entity", pkg.Reference)
		r.logger.Info(msg)
		res.Referral = &models.Referral{Reference: pkg.Reference}
	default:
		return nil, err
	}

	res.Addresses, err = r.resolveAddresses(ctx, pkg, log, res)
	if err != nil {
		return nil, err
	}

	if err := r.decideRegion(ctx, res, log); err != nil {
		return nil, err
	}

	// Create/update the referral itself.
	ref := res.Referral
	ref.TypeID = refType.ID
	ref.TypeName = refType.Name
	ref.AgencyID = agency.ID
	ref.ReferringOrgID = org.ID
	ref.Description = pkg.Description
	ref.Address = pkg.Address
	ref.ReferralDate = received

	if res.Preexisting {
		if err := r.referralRepo.Update(ctx, ref); err != nil {
			return nil, err
		}
		r.logger.Info(log.Addf("PRS referral updated: %s", ref.Reference))
	} else {
		if err := r.referralRepo.Create(ctx, ref); err != nil {
			return nil, err
		}
		r.logger.Info(log.Addf("New PRS referral generated: %s", ref.Reference))
	}

	if err := r.referralRepo.AddRegion(ctx, ref.ID, res.Region.ID); err != nil {
		return nil, err
	}

	// LGA lookup failure is logged and skipped.
	if lga, err := r.lookupRepo.LocalGovernmentByName(ctx, pkg.LocalGovernment); err != nil {
		r.logger.Warn(log.Addf("LGA %q was not recognised", pkg.LocalGovernment))
	} else {
		ref.LGAID = &lga.ID
		if err := r.referralRepo.Update(ctx, ref); err != nil {
			return nil, err
		}
	}

	if err := r.assignTriggers(ctx, pkg, ref.ID, log); err != nil {
		return nil, err
	}

	return res, nil
}

// resolveAddresses intersects each address point with the region catalog and
// queries the geocode gateway by PIN, retaining returned features. Gateway
// failures are never fatal to the overall resolution.
func (r *referralResolver) resolveAddresses(ctx context.Context, pkg *ReferralPackage, log *ActionLog, res *Resolution) ([]ResolvedAddress, error) {
	regionSet := map[uuid.UUID]*models.Region{}
	var resolved []ResolvedAddress

	for _, addr := range pkg.Addresses {
		intersected := false
		if pt, err := addr.Point(); err != nil {
			r.logger.Warn(log.Addf("Address long/lat could not be parsed (%s, %s)", addr.Longitude, addr.Latitude))
		} else {
			regions, err := r.spatial.IntersectingRegions(ctx, pt)
			if err != nil {
				return nil, err
			}
			for _, reg := range regions {
				regionSet[reg.ID] = reg
			}
			intersected = true
		}

		if addr.PIN == "" {
			r.logger.Warn(log.Addf("Address PIN could not be parsed (%s)", addr.PIN))
			continue
		}

		features, err := r.geocoder.QueryParcel(ctx, addr.PIN)
		if err != nil {
			r.logger.Error(log.Addf("Error querying SLIP for spatial data (PIN %s): %v", addr.PIN, err))
			continue
		}
		if len(features) == 0 {
			continue
		}
		resolved = append(resolved, ResolvedAddress{Address: addr, Features: features})
		r.logger.Info(log.Addf("Address PIN %s returned geometry from SLIP", addr.PIN))

		// If the point didn't resolve, fall back to feature centroids.
		if !intersected {
			for _, f := range features {
				regions, err := r.spatial.IntersectingRegions(ctx, models.Point{X: f.CentroidLongitude, Y: f.CentroidLatitude})
				if err != nil {
					return nil, err
				}
				for _, reg := range regions {
					regionSet[reg.ID] = reg
				}
			}
		}
	}

	res.regionSet = regionSet
	return resolved, nil
}

// decideRegion applies the deterministic region rule: zero or ambiguous
// intersections default to the catch-all region and fallback assignee;
// exactly one intersected region uses its configured assignee when present.
func (r *referralResolver) decideRegion(ctx context.Context, res *Resolution, log *ActionLog) error {
	fallbackUser, err := r.lookupRepo.UserByUsername(ctx, r.cfg.AssigneeFallback)
	if err != nil {
		return err
	}

	switch len(res.regionSet) {
	case 0:
		region, err := r.lookupRepo.RegionByName(ctx, r.cfg.RegionFallback)
		if err != nil {
			return err
		}
		res.Region = region
		res.Assignee = fallbackUser
		r.logger.Info(log.Addf("No regions were intersected, defaulting to %s (%s)", region.Name, fallbackUser.Username))
	case 1:
		for _, region := range res.regionSet {
			res.Region = region
		}
		assignee, err := r.lookupRepo.RegionAssignee(ctx, res.Region.ID)
		if err != nil {
			if !isLookupFailure(err) {
				return err
			}
			r.logger.Info(log.Addf("No default assignee set for %s, defaulting to %s", res.Region.Name, fallbackUser.Username))
			assignee = fallbackUser
		}
		res.Assignee = assignee
	default:
		names := make([]string, 0, len(res.regionSet))
		for _, region := range res.regionSet {
			names = append(names, region.Name)
		}
		region, err := r.lookupRepo.RegionByName(ctx, r.cfg.RegionFallback)
		if err != nil {
			return err
		}
		res.Region = region
		res.Assignee = fallbackUser
		r.logger.Info(log.Addf(">1 regions were intersected (%s), defaulting to %s (%s)",
			strings.Join(names, ", "), region.Name, fallbackUser.Username))
	}
	return nil
}

// assignTriggers maps zone-text tokens to trigger tags. Order matters:
// specific prefixes first, then a unique case-insensitive prefix match
// against the catalog. Unmatched or ambiguous tokens are skipped. When no
// trigger was attached, the sentinel trigger is applied.
func (r *referralResolver) assignTriggers(ctx context.Context, pkg *ReferralPackage, referralID uuid.UUID, log *ActionLog) error {
	added := false
	for _, token := range pkg.ZoneTriggerTokens() {
		var (
			trigger *models.DopTrigger
			err     error
		)
		switch {
		case strings.HasPrefix(token, "BUSH FOREVER SITE"):
			trigger, err = r.lookupRepo.TriggerByName(ctx, triggerBushForever)
		case strings.HasPrefix(token, "DPW ESTATE"):
			trigger, err = r.lookupRepo.TriggerByName(ctx, triggerDPWEstate)
		case strings.Contains(token, "REGIONAL PARK"):
			trigger, err = r.lookupRepo.TriggerByName(ctx, triggerRegionalPark)
		default:
			trigger, err = r.lookupRepo.TriggerByUniquePrefix(ctx, token)
		}
		if err != nil {
			if isLookupFailure(err) {
				r.logger.Warn(log.Addf("Zone trigger %q was not matched, skipping", token))
				continue
			}
			return err
		}
		if err := r.referralRepo.AddTrigger(ctx, referralID, trigger.ID); err != nil {
			return err
		}
		added = true
	}

	if !added {
		sentinel, err := r.lookupRepo.TriggerByName(ctx, triggerNone)
		if err != nil {
			return err
		}
		if err := r.referralRepo.AddTrigger(ctx, referralID, sentinel.ID); err != nil {
			return err
		}
	}
	return nil
}
