package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/config"
	"github.com/ropable/prs/pkg/models"
)

// resolverFixture wires a resolver against in-memory repositories seeded
// with the reference data the harvest rules depend on.
type resolverFixture struct {
	resolver ReferralResolver
	referral *mockReferralRepo
	lookup   *mockLookupRepo
	geocoder *mockGeocoder
	cfg      config.HarvestConfig
	swan     *models.Region
	admin    *models.User
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	cfg := config.HarvestConfig{
		AssigneeFallback: "admin",
		RegionFallback:   "Swan",
		AgencySlug:       "dbca",
		ReferringOrgSlug: "wapc",
	}

	lookup := newMockLookupRepo()
	lookup.agencies["dbca"] = &models.Agency{ID: uuid.New(), Name: "DBCA", Slug: "dbca"}
	lookup.orgs["wapc"] = &models.Organisation{ID: uuid.New(), Name: "WAPC", Slug: "wapc"}
	lookup.referralTypes = append(lookup.referralTypes, &models.ReferralType{ID: uuid.New(), Name: "Subdivision"})
	swan := &models.Region{ID: uuid.New(), Name: "Swan", HasBoundary: true}
	lookup.regions["Swan"] = swan
	admin := lookup.addUser("admin")
	lookup.addTrigger(triggerBushForever)
	lookup.addTrigger(triggerDPWEstate)
	lookup.addTrigger(triggerRegionalPark)
	lookup.addTrigger(triggerNone)

	referral := newMockReferralRepo()
	location := newMockLocationRepo()
	geocoder := &mockGeocoder{features: map[string][]Feature{}}
	spatial := NewSpatialService(lookup, location, zap.NewNop())

	return &resolverFixture{
		resolver: NewReferralResolver(referral, lookup, spatial, geocoder, cfg, zap.NewNop()),
		referral: referral,
		lookup:   lookup,
		geocoder: geocoder,
		cfg:      cfg,
		swan:     swan,
		admin:    admin,
	}
}

func subdivisionPackage() *ReferralPackage {
	return &ReferralPackage{
		Reference:       "WAPC123",
		ApplicationType: "SUBDIVISION",
		Description:     "Subdivide into 2 lots",
		Address:         "1 Example St, Perth",
		Addresses: []PackageAddress{
			{Longitude: "115.857", Latitude: "-31.953", PIN: "1234567", NumberFrom: "1", StreetName: "EXAMPLE", Suburb: "PERTH"},
		},
	}
}

func TestResolve_CreatesNewReferral(t *testing.T) {
	f := newResolverFixture(t)
	log := NewActionLog(testClock())
	received := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), received, log)
	require.NoError(t, err)

	assert.False(t, res.Preexisting)
	assert.Equal(t, "WAPC123", res.Referral.Reference)
	assert.Equal(t, "Subdivision", res.Referral.TypeName)
	assert.Equal(t, received, res.Referral.ReferralDate)

	stored, err := f.referral.FindCurrentByReference(txContext(), "wapc123")
	require.NoError(t, err, "reference matching is case-insensitive")
	assert.Equal(t, res.Referral.ID, stored.ID)
}

func TestResolve_ReusesExistingReferral(t *testing.T) {
	f := newResolverFixture(t)
	existing := &models.Referral{Reference: "WAPC123", ReferralDate: time.Now()}
	require.NoError(t, f.referral.Create(txContext(), existing))

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)

	assert.True(t, res.Preexisting)
	assert.Equal(t, existing.ID, res.Referral.ID)
}

func TestResolve_UnrecognisedTypeFails(t *testing.T) {
	f := newResolverFixture(t)
	pkg := subdivisionPackage()
	pkg.ApplicationType = "SOMETHING ELSE"

	_, err := f.resolver.Resolve(txContext(), pkg, time.Now(), NewActionLog(testClock()))
	require.Error(t, err)
	assert.True(t, isLookupFailure(err))
}

func TestResolve_NoRegionsFallsBack(t *testing.T) {
	f := newResolverFixture(t)
	log := NewActionLog(testClock())

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), log)
	require.NoError(t, err)

	assert.Equal(t, f.swan.ID, res.Region.ID)
	assert.Equal(t, f.admin.ID, res.Assignee.ID)
}

func TestResolve_SingleRegionUsesItsAssignee(t *testing.T) {
	f := newResolverFixture(t)
	avon := &models.Region{ID: uuid.New(), Name: "Avon", HasBoundary: true}
	f.lookup.pointRegions = []*models.Region{avon}
	ranger := f.lookup.addUser("ranger")
	f.lookup.regionAssignees[avon.ID] = ranger

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)

	assert.Equal(t, avon.ID, res.Region.ID)
	assert.Equal(t, ranger.ID, res.Assignee.ID)
}

func TestResolve_SingleRegionWithoutAssigneeFallsBack(t *testing.T) {
	f := newResolverFixture(t)
	avon := &models.Region{ID: uuid.New(), Name: "Avon", HasBoundary: true}
	f.lookup.pointRegions = []*models.Region{avon}

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)

	assert.Equal(t, avon.ID, res.Region.ID)
	assert.Equal(t, f.admin.ID, res.Assignee.ID, "region without a default assignee uses the fallback user")
}

func TestResolve_AmbiguousRegionsFallBack(t *testing.T) {
	f := newResolverFixture(t)
	f.lookup.pointRegions = []*models.Region{
		{ID: uuid.New(), Name: "Avon", HasBoundary: true},
		{ID: uuid.New(), Name: "Wheatbelt", HasBoundary: true},
	}

	log := NewActionLog(testClock())
	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), log)
	require.NoError(t, err)

	assert.Equal(t, f.swan.ID, res.Region.ID)
	assert.Equal(t, f.admin.ID, res.Assignee.ID)
}

func TestResolve_TriggerPrecedence(t *testing.T) {
	f := newResolverFixture(t)
	pkg := subdivisionPackage()
	// The specific prefix rule wins even though the token is not an exact
	// catalog name.
	pkg.ZoneText = "BUSH FOREVER SITE EXTENSION A, UNKNOWN ZONE"

	res, err := f.resolver.Resolve(txContext(), pkg, time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)

	triggers, err := f.referral.Triggers(txContext(), res.Referral.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1, "unmatched tokens are skipped, not fatal")

	bush, err := f.lookup.TriggerByName(txContext(), triggerBushForever)
	require.NoError(t, err)
	assert.Equal(t, bush.ID, triggers[0].ID)
}

func TestResolve_NoTriggersAppliesSentinel(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)

	triggers, err := f.referral.Triggers(txContext(), res.Referral.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	sentinel, err := f.lookup.TriggerByName(txContext(), triggerNone)
	require.NoError(t, err)
	assert.Equal(t, sentinel.ID, triggers[0].ID)
}

func TestResolve_GeocoderFeaturesRetained(t *testing.T) {
	f := newResolverFixture(t)
	f.geocoder.features["1234567"] = []Feature{
		{
			CentroidLongitude: 115.85, CentroidLatitude: -31.95,
			Rings: [][][]float64{{{115.84, -31.94}, {115.86, -31.94}, {115.86, -31.96}}},
		},
	}

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)

	require.Len(t, res.Addresses, 1)
	assert.Equal(t, "1234567", res.Addresses[0].Address.PIN)
	assert.Len(t, res.Addresses[0].Features, 1)
}

func TestResolve_GeocoderFailureIsNotFatal(t *testing.T) {
	f := newResolverFixture(t)
	f.geocoder.err = assert.AnError

	res, err := f.resolver.Resolve(txContext(), subdivisionPackage(), time.Now(), NewActionLog(testClock()))
	require.NoError(t, err)
	assert.Empty(t, res.Addresses)
}
