package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/models"
)

// stubTx satisfies pgx.Tx so tests can pre-seed a transaction in context and
// make DB.InTx join it instead of touching a real pool.
type stubTx struct{}

func (stubTx) Begin(ctx context.Context) (pgx.Tx, error) { return stubTx{}, nil }
func (stubTx) Commit(ctx context.Context) error          { return nil }
func (stubTx) Rollback(ctx context.Context) error        { return nil }
func (stubTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (stubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (stubTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (stubTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (stubTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (stubTx) Conn() *pgx.Conn                                               { return nil }

// txContext returns a context that joins a stub transaction.
func txContext() context.Context {
	return database.SetTx(context.Background(), stubTx{})
}

// testClock returns a fixed clock for deterministic logs and dates.
func testClock() func() time.Time {
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}

// mockReferralRepo is an in-memory ReferralRepository.
type mockReferralRepo struct {
	mu        sync.Mutex
	referrals map[uuid.UUID]*models.Referral
	regions   map[uuid.UUID][]*models.Region
	triggers  map[uuid.UUID][]*models.DopTrigger
	tags      map[uuid.UUID][]string
	relations map[[2]uuid.UUID]bool

	hasLocation  map[uuid.UUID]bool
	hasCondition map[uuid.UUID]bool
}

func newMockReferralRepo() *mockReferralRepo {
	return &mockReferralRepo{
		referrals:    make(map[uuid.UUID]*models.Referral),
		regions:      make(map[uuid.UUID][]*models.Region),
		triggers:     make(map[uuid.UUID][]*models.DopTrigger),
		tags:         make(map[uuid.UUID][]string),
		relations:    make(map[[2]uuid.UUID]bool),
		hasLocation:  make(map[uuid.UUID]bool),
		hasCondition: make(map[uuid.UUID]bool),
	}
}

func (m *mockReferralRepo) Create(ctx context.Context, ref *models.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	ref.CreatedAt = time.Now()
	cp := *ref
	m.referrals[ref.ID] = &cp
	return nil
}

func (m *mockReferralRepo) Update(ctx context.Context, ref *models.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referrals[ref.ID]; !ok {
		return fmt.Errorf("referral %s: %w", ref.ID, apperrors.ErrNotFound)
	}
	cp := *ref
	m.referrals[ref.ID] = &cp
	return nil
}

func (m *mockReferralRepo) Get(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.referrals[id]
	if !ok {
		return nil, fmt.Errorf("referral %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *ref
	return &cp, nil
}

func (m *mockReferralRepo) FindCurrentByReference(ctx context.Context, reference string) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *models.Referral
	for _, ref := range m.referrals {
		if ref.DeletedAt != nil || !strings.EqualFold(ref.Reference, reference) {
			continue
		}
		if newest == nil || ref.CreatedAt.After(newest.CreatedAt) {
			newest = ref
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("referral %q: %w", reference, apperrors.ErrNotFound)
	}
	cp := *newest
	return &cp, nil
}

func (m *mockReferralRepo) ListRecent(ctx context.Context, limit int) ([]*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Referral
	for _, ref := range m.referrals {
		cp := *ref
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockReferralRepo) AddRegion(ctx context.Context, referralID, regionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.regions[referralID] {
		if reg.ID == regionID {
			return nil
		}
	}
	m.regions[referralID] = append(m.regions[referralID], &models.Region{ID: regionID})
	return nil
}

func (m *mockReferralRepo) Regions(ctx context.Context, referralID uuid.UUID) ([]*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Region(nil), m.regions[referralID]...), nil
}

func (m *mockReferralRepo) AddTrigger(ctx context.Context, referralID, triggerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.triggers[referralID] {
		if t.ID == triggerID {
			return nil
		}
	}
	m.triggers[referralID] = append(m.triggers[referralID], &models.DopTrigger{ID: triggerID})
	return nil
}

func (m *mockReferralRepo) Triggers(ctx context.Context, referralID uuid.UUID) ([]*models.DopTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.DopTrigger(nil), m.triggers[referralID]...), nil
}

func (m *mockReferralRepo) AddTag(ctx context.Context, referralID uuid.UUID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags[referralID] {
		if t == tag {
			return nil
		}
	}
	m.tags[referralID] = append(m.tags[referralID], tag)
	return nil
}

func (m *mockReferralRepo) Tags(ctx context.Context, referralID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tags[referralID]...), nil
}

func edgeKey(a, b uuid.UUID) [2]uuid.UUID {
	if a.String() > b.String() {
		a, b = b, a
	}
	return [2]uuid.UUID{a, b}
}

func (m *mockReferralRepo) Relate(ctx context.Context, a, b uuid.UUID) error {
	if a == b {
		return fmt.Errorf("referral cannot relate to itself: %w", apperrors.ErrConflict)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[edgeKey(a, b)] = true
	return nil
}

func (m *mockReferralRepo) Unrelate(ctx context.Context, a, b uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.relations, edgeKey(a, b))
	return nil
}

func (m *mockReferralRepo) Related(ctx context.Context, a, b uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relations[edgeKey(a, b)], nil
}

func (m *mockReferralRepo) ListRelated(ctx context.Context, id uuid.UUID) ([]*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Referral
	for edge := range m.relations {
		var other uuid.UUID
		switch id {
		case edge[0]:
			other = edge[1]
		case edge[1]:
			other = edge[0]
		default:
			continue
		}
		if ref, ok := m.referrals[other]; ok {
			cp := *ref
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockReferralRepo) HasLocation(ctx context.Context, referralID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasLocation[referralID], nil
}

func (m *mockReferralRepo) HasProposedCondition(ctx context.Context, referralID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasCondition[referralID], nil
}

// mockLocationRepo is an in-memory LocationRepository. Intersection results
// are scripted per test via the intersecting field.
type mockLocationRepo struct {
	mu           sync.Mutex
	locations    map[uuid.UUID]*models.Location
	intersecting []*models.Location
}

func newMockLocationRepo() *mockLocationRepo {
	return &mockLocationRepo{locations: make(map[uuid.UUID]*models.Location)}
}

func (m *mockLocationRepo) Create(ctx context.Context, loc *models.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	loc.CreatedAt = time.Now()
	cp := *loc
	m.locations[loc.ID] = &cp
	return nil
}

func (m *mockLocationRepo) Get(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, fmt.Errorf("location %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *loc
	return &cp, nil
}

func (m *mockLocationRepo) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Location
	for _, loc := range m.locations {
		if loc.ReferralID == referralID {
			cp := *loc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLocationRepo) Intersecting(ctx context.Context, wkt string, exclude uuid.UUID) ([]*models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Location
	for _, loc := range m.intersecting {
		if loc.ID != exclude {
			out = append(out, loc)
		}
	}
	return out, nil
}

// mockTaskRepo is an in-memory TaskRepository.
type mockTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[uuid.UUID]*models.Task)}
}

func (m *mockTaskRepo) Create(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.CreatedAt = time.Now()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *mockTaskRepo) Update(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s: %w", task.ID, apperrors.ErrNotFound)
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *mockTaskRepo) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *task
	return &cp, nil
}

func (m *mockTaskRepo) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, task := range m.tasks {
		if task.ReferralID == referralID {
			cp := *task
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockConditionRepo is an in-memory ConditionRepository.
type mockConditionRepo struct {
	mu         sync.Mutex
	conditions map[uuid.UUID]*models.Condition
	clearances []*models.Clearance
}

func newMockConditionRepo() *mockConditionRepo {
	return &mockConditionRepo{conditions: make(map[uuid.UUID]*models.Condition)}
}

func (m *mockConditionRepo) Create(ctx context.Context, c *models.Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.conditions[c.ID] = &cp
	return nil
}

func (m *mockConditionRepo) Get(ctx context.Context, id uuid.UUID) (*models.Condition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conditions[id]
	if !ok {
		return nil, fmt.Errorf("condition %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *mockConditionRepo) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Condition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Condition
	for _, c := range m.conditions {
		if c.ReferralID == referralID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockConditionRepo) AddClearance(ctx context.Context, clearance *models.Clearance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if clearance.ID == uuid.Nil {
		clearance.ID = uuid.New()
	}
	cp := *clearance
	m.clearances = append(m.clearances, &cp)
	return nil
}

func (m *mockConditionRepo) ListClearances(ctx context.Context, conditionID uuid.UUID) ([]*models.Clearance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Clearance
	for _, cl := range m.clearances {
		if cl.ConditionID == conditionID {
			cp := *cl
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockRecordRepo is an in-memory RecordRepository.
type mockRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.Record
	notes   map[uuid.UUID]*models.Note
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{
		records: make(map[uuid.UUID]*models.Record),
		notes:   make(map[uuid.UUID]*models.Note),
	}
}

func (m *mockRecordRepo) Create(ctx context.Context, rec *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockRecordRepo) Get(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRecordRepo) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Record
	for _, rec := range m.records {
		if rec.ReferralID == referralID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRecordRepo) CreateNote(ctx context.Context, note *models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	note.CreatedAt = time.Now()
	cp := *note
	m.notes[note.ID] = &cp
	return nil
}

func (m *mockRecordRepo) ListNotesByReferral(ctx context.Context, referralID uuid.UUID) ([]*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Note
	for _, n := range m.notes {
		if n.ReferralID == referralID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockSourceItemRepo is an in-memory SourceItemRepository.
type mockSourceItemRepo struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*models.SourceItem
	attachments map[uuid.UUID][]*models.Attachment
}

func newMockSourceItemRepo() *mockSourceItemRepo {
	return &mockSourceItemRepo{
		items:       make(map[uuid.UUID]*models.SourceItem),
		attachments: make(map[uuid.UUID][]*models.Attachment),
	}
}

func (m *mockSourceItemRepo) Create(ctx context.Context, item *models.SourceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Harvested.IsZero() {
		item.Harvested = time.Now()
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockSourceItemRepo) Get(ctx context.Context, id uuid.UUID) (*models.SourceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("source item %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

func (m *mockSourceItemRepo) ListUnprocessed(ctx context.Context) ([]*models.SourceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SourceItem
	for _, item := range m.items {
		if !item.Processed {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Harvested.Before(out[j].Harvested) })
	return out, nil
}

func (m *mockSourceItemRepo) Finalize(ctx context.Context, item *models.SourceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ID]
	if !ok {
		return fmt.Errorf("source item %s: %w", item.ID, apperrors.ErrNotFound)
	}
	stored.ReferralID = item.ReferralID
	stored.Processed = item.Processed
	stored.Purgeable = item.Purgeable
	stored.Log = item.Log
	return nil
}

func (m *mockSourceItemRepo) Attachments(ctx context.Context, sourceItemID uuid.UUID) ([]*models.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Attachment(nil), m.attachments[sourceItemID]...), nil
}

func (m *mockSourceItemRepo) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if att.ID == uuid.Nil {
		att.ID = uuid.New()
	}
	cp := *att
	m.attachments[att.SourceItemID] = append(m.attachments[att.SourceItemID], &cp)
	return nil
}

func (m *mockSourceItemRepo) LinkAttachmentRecord(ctx context.Context, attachmentID, recordID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, atts := range m.attachments {
		for _, att := range atts {
			if att.ID == attachmentID {
				att.RecordID = &recordID
				return nil
			}
		}
	}
	return fmt.Errorf("attachment %s: %w", attachmentID, apperrors.ErrNotFound)
}

// mockLookupRepo is an in-memory LookupRepository seeded per test.
type mockLookupRepo struct {
	agencies        map[string]*models.Agency
	orgs            map[string]*models.Organisation
	referralTypes   []*models.ReferralType
	taskTypes       map[string]*models.TaskType
	taskStates      map[string]*models.TaskState
	triggers        []*models.DopTrigger
	lgas            map[string]*models.LocalGovernment
	regions         map[string]*models.Region
	regionAssignees map[uuid.UUID]*models.User
	usersByName     map[string]*models.User
	usersByID       map[uuid.UUID]*models.User
	groups          map[string][]*models.User

	pointRegions []*models.Region
}

func newMockLookupRepo() *mockLookupRepo {
	return &mockLookupRepo{
		agencies:        make(map[string]*models.Agency),
		orgs:            make(map[string]*models.Organisation),
		taskTypes:       make(map[string]*models.TaskType),
		taskStates:      make(map[string]*models.TaskState),
		lgas:            make(map[string]*models.LocalGovernment),
		regions:         make(map[string]*models.Region),
		regionAssignees: make(map[uuid.UUID]*models.User),
		usersByName:     make(map[string]*models.User),
		usersByID:       make(map[uuid.UUID]*models.User),
		groups:          make(map[string][]*models.User),
	}
}

func (m *mockLookupRepo) addUser(username string) *models.User {
	u := &models.User{ID: uuid.New(), Username: username, FullName: username, Email: username + "@example.com", Active: true}
	m.usersByName[username] = u
	m.usersByID[u.ID] = u
	return u
}

func (m *mockLookupRepo) addTaskState(name string) *models.TaskState {
	s := &models.TaskState{ID: uuid.New(), Name: name}
	m.taskStates[name] = s
	return s
}

func (m *mockLookupRepo) addTaskType(name, initialState string, targetDays int) *models.TaskType {
	initial, ok := m.taskStates[initialState]
	if !ok {
		initial = m.addTaskState(initialState)
	}
	tt := &models.TaskType{
		ID: uuid.New(), Name: name,
		InitialStateID: initial.ID, InitialState: initial.Name,
		TargetDays: targetDays,
	}
	m.taskTypes[name] = tt
	return tt
}

func (m *mockLookupRepo) addTrigger(name string) *models.DopTrigger {
	t := &models.DopTrigger{ID: uuid.New(), Name: name}
	m.triggers = append(m.triggers, t)
	return t
}

func (m *mockLookupRepo) AgencyBySlug(ctx context.Context, slug string) (*models.Agency, error) {
	if a, ok := m.agencies[slug]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("agency %q: %w", slug, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) OrganisationBySlug(ctx context.Context, slug string) (*models.Organisation, error) {
	if o, ok := m.orgs[slug]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("organisation %q: %w", slug, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) ReferralTypeByPrefix(ctx context.Context, prefix string) (*models.ReferralType, error) {
	for _, rt := range m.referralTypes {
		if strings.HasPrefix(strings.ToLower(rt.Name), strings.ToLower(prefix)) {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("referral type %q: %w", prefix, apperrors.ErrLookup)
}

func (m *mockLookupRepo) TaskTypeByName(ctx context.Context, name string) (*models.TaskType, error) {
	if tt, ok := m.taskTypes[name]; ok {
		return tt, nil
	}
	return nil, fmt.Errorf("task type %q: %w", name, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) TaskStateByName(ctx context.Context, name string) (*models.TaskState, error) {
	if s, ok := m.taskStates[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("task state %q: %w", name, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) TriggerByName(ctx context.Context, name string) (*models.DopTrigger, error) {
	for _, t := range m.triggers {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("trigger %q: %w", name, apperrors.ErrLookup)
}

func (m *mockLookupRepo) TriggerByUniquePrefix(ctx context.Context, prefix string) (*models.DopTrigger, error) {
	var matches []*models.DopTrigger
	for _, t := range m.triggers {
		if strings.HasPrefix(strings.ToLower(t.Name), strings.ToLower(prefix)) {
			matches = append(matches, t)
		}
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("trigger prefix %q matched %d entries: %w", prefix, len(matches), apperrors.ErrLookup)
	}
	return matches[0], nil
}

func (m *mockLookupRepo) LocalGovernmentByName(ctx context.Context, name string) (*models.LocalGovernment, error) {
	if lga, ok := m.lgas[name]; ok {
		return lga, nil
	}
	return nil, fmt.Errorf("local government %q: %w", name, apperrors.ErrLookup)
}

func (m *mockLookupRepo) RegionByName(ctx context.Context, name string) (*models.Region, error) {
	if r, ok := m.regions[name]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("region %q: %w", name, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) IntersectingRegions(ctx context.Context, point models.Point) ([]*models.Region, error) {
	return m.pointRegions, nil
}

func (m *mockLookupRepo) RegionAssignee(ctx context.Context, regionID uuid.UUID) (*models.User, error) {
	if u, ok := m.regionAssignees[regionID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("no assignee for region %s: %w", regionID, apperrors.ErrLookup)
}

func (m *mockLookupRepo) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := m.usersByName[username]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %q: %w", username, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m.usersByID[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
}

func (m *mockLookupRepo) ActiveUsersInGroup(ctx context.Context, group string) ([]*models.User, error) {
	return m.groups[group], nil
}

// mockGeocoder returns scripted features per PIN.
type mockGeocoder struct {
	features map[string][]Feature
	err      error
}

func (m *mockGeocoder) QueryParcel(ctx context.Context, pin string) ([]Feature, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.features[pin], nil
}

// mockStore is an in-memory ObjectStore.
type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte)}
}

func (m *mockStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *mockStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, apperrors.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("object %s: %w", srcKey, apperrors.ErrNotFound)
	}
	m.objects[dstKey] = append([]byte(nil), data...)
	return nil
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu         sync.Mutex
	assigned   []uuid.UUID
	clearances []uuid.UUID
	conditions []uuid.UUID
	reports    [][]string
}

func (m *mockNotifier) TaskAssigned(ctx context.Context, task *models.Task, assignee *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned = append(m.assigned, task.ID)
	return nil
}

func (m *mockNotifier) ClearanceRequested(ctx context.Context, task *models.Task, assignee *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearances = append(m.clearances, task.ID)
	return nil
}

func (m *mockNotifier) ConditionCreated(ctx context.Context, condition *models.Condition, creator *models.User, recipients []*models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions = append(m.conditions, condition.ID)
	return nil
}

func (m *mockNotifier) HarvestReport(ctx context.Context, recipients []string, actions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, actions)
	return nil
}

// mockIndexer records document pushes.
type mockIndexer struct {
	mu         sync.Mutex
	referrals  []ReferralDocument
	records    []RecordDocument
	notes      []NoteDocument
	tasks      []TaskDocument
	conditions []ConditionDocument
}

func (m *mockIndexer) UpsertReferral(ctx context.Context, doc ReferralDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals = append(m.referrals, doc)
	return nil
}

func (m *mockIndexer) UpsertRecord(ctx context.Context, doc RecordDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, doc)
	return nil
}

func (m *mockIndexer) UpsertNote(ctx context.Context, doc NoteDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, doc)
	return nil
}

func (m *mockIndexer) UpsertTask(ctx context.Context, doc TaskDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, doc)
	return nil
}

func (m *mockIndexer) UpsertCondition(ctx context.Context, doc ConditionDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions = append(m.conditions, doc)
	return nil
}
