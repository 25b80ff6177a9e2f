package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/config"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/models"
	"github.com/ropable/prs/pkg/repositories"
	"github.com/ropable/prs/pkg/storage"
)

// xmlAttachmentPrefix identifies the application package attachment.
const xmlAttachmentPrefix = "application.xml"

// Harvester drives harvested source items end-to-end: parse, resolve the
// referral, create locations, detect relationships, create the default task
// and document records, then mark the item processed. Processing is
// sequential, one item per transaction, and idempotent per item.
type Harvester interface {
	// HarvestUnprocessed ingests every unprocessed source item in harvest
	// order. Item failures are logged and do not stop the run.
	HarvestUnprocessed(ctx context.Context, purge bool) ([]string, error)
	// ProcessItem ingests one source item. Re-invoking on a processed item
	// is a no-op.
	ProcessItem(ctx context.Context, itemID uuid.UUID, purge bool) ([]string, error)
	// EmailReport sends the accumulated run actions to the power-user group.
	EmailReport(ctx context.Context, actions []string) error
}

// harvester implements Harvester.
type harvester struct {
	db           *database.DB
	sourceRepo   repositories.SourceItemRepository
	referralRepo repositories.ReferralRepository
	locationRepo repositories.LocationRepository
	taskRepo     repositories.TaskRepository
	recordRepo   repositories.RecordRepository
	lookupRepo   repositories.LookupRepository
	resolver     ReferralResolver
	spatial      SpatialService
	store        storage.ObjectStore
	notifier     Notifier
	indexer      Indexer
	cfg          config.HarvestConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewHarvester creates a new harvester with dependencies.
func NewHarvester(
	db *database.DB,
	sourceRepo repositories.SourceItemRepository,
	referralRepo repositories.ReferralRepository,
	locationRepo repositories.LocationRepository,
	taskRepo repositories.TaskRepository,
	recordRepo repositories.RecordRepository,
	lookupRepo repositories.LookupRepository,
	resolver ReferralResolver,
	spatial SpatialService,
	store storage.ObjectStore,
	notifier Notifier,
	indexer Indexer,
	cfg config.HarvestConfig,
	logger *zap.Logger,
) Harvester {
	return &harvester{
		db:           db,
		sourceRepo:   sourceRepo,
		referralRepo: referralRepo,
		locationRepo: locationRepo,
		taskRepo:     taskRepo,
		recordRepo:   recordRepo,
		lookupRepo:   lookupRepo,
		resolver:     resolver,
		spatial:      spatial,
		store:        store,
		notifier:     notifier,
		indexer:      indexer,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (h *harvester) HarvestUnprocessed(ctx context.Context, purge bool) ([]string, error) {
	items, err := h.sourceRepo.ListUnprocessed(ctx)
	if err != nil {
		return nil, err
	}

	var actions []string
	for _, item := range items {
		itemActions, err := h.ProcessItem(ctx, item.ID, purge)
		actions = append(actions, itemActions...)
		if err != nil {
			// The failed item stays unprocessed for the next run.
			h.logger.Error("failed to ingest source item",
				zap.String("source_item_id", item.ID.String()), zap.Error(err))
		}
	}
	return actions, nil
}

func (h *harvester) ProcessItem(ctx context.Context, itemID uuid.UUID, purge bool) ([]string, error) {
	log := NewActionLog(h.now)

	// Side effects that must run only after the transaction commits.
	var post []func(context.Context)

	err := h.db.InTx(ctx, func(ctx context.Context) error {
		return h.processItem(ctx, itemID, purge, log, &post)
	})
	if err != nil {
		return log.Entries(), err
	}

	// Notification and indexing are best-effort, outside the transaction.
	for _, fn := range post {
		fn(ctx)
	}
	return log.Entries(), nil
}

// finalizeItem persists the terminal state of an item: this run's log, the
// processed flag and any referral link or purge intent.
func (h *harvester) finalizeItem(ctx context.Context, item *models.SourceItem, log *ActionLog, purge bool) error {
	item.Processed = true
	item.Purgeable = item.Purgeable || purge
	item.Log = log.Text()
	return h.sourceRepo.Finalize(ctx, item)
}

func (h *harvester) processItem(ctx context.Context, itemID uuid.UUID, purge bool, log *ActionLog, post *[]func(context.Context)) error {
	item, err := h.sourceRepo.Get(ctx, itemID)
	if err != nil {
		return err
	}

	// Idempotence: a processed item is a no-op and its log is untouched.
	if item.Processed {
		h.logger.Info(fmt.Sprintf("source item %s is already processed, aborting", item.ID))
		return nil
	}

	attachments, err := h.sourceRepo.Attachments(ctx, item.ID)
	if err != nil {
		return err
	}

	// Emails without attachments are usually reminder notices.
	if len(attachments) == 0 {
		h.logger.Info(log.Addf("Skipping emailed referral %s (no attachments)", item.ID))
		return h.finalizeItem(ctx, item, log, purge)
	}

	// Overdue-referral reminders are never harvested.
	subject := strings.ToLower(item.Subject)
	for _, prefix := range h.cfg.OverdueSubjectPrefixes {
		if strings.HasPrefix(subject, strings.ToLower(prefix)) {
			h.logger.Info(log.Addf("Skipping harvested referral %s (overdue notice)", item.ID))
			return h.finalizeItem(ctx, item, log, purge)
		}
	}

	var xmlAttachment *models.Attachment
	for _, att := range attachments {
		if strings.HasPrefix(strings.ToLower(att.Name), xmlAttachmentPrefix) {
			xmlAttachment = att
			break
		}
	}
	if xmlAttachment == nil {
		h.logger.Info(log.Addf("Skipping harvested referral %s (no XML attachment)", item.ID))
		return h.finalizeItem(ctx, item, log, purge)
	}

	data, err := h.readAttachment(ctx, xmlAttachment)
	if err != nil {
		// Storage failure is transient; leave the item unprocessed for retry.
		return err
	}

	// A malformed package is terminal for the item; anything else is
	// transient and leaves the item unprocessed.
	pkg, err := ParsePackage(data)
	if err != nil {
		if !isParseFailure(err) {
			return err
		}
		h.logger.Error(log.Addf("Harvested referral %s parsing of application.xml failed: %v", item.ID, err))
		return h.finalizeItem(ctx, item, log, purge)
	}

	received := item.Harvested
	if item.Received != nil {
		received = *item.Received
	}

	res, err := h.resolver.Resolve(ctx, pkg, received, log)
	if err != nil {
		if isLookupFailure(err) {
			// Unrecognised referral type: terminal for the item.
			h.logger.Warn(log.Addf("%v; skipping", err))
			return h.finalizeItem(ctx, item, log, purge)
		}
		return err
	}
	ref := res.Referral

	newLocations, err := h.createLocations(ctx, ref, res.Addresses, log)
	if err != nil {
		return err
	}

	if err := h.relateIntersecting(ctx, ref, newLocations, log); err != nil {
		return err
	}

	task, err := h.createAssessTask(ctx, pkg, res, log, post)
	if err != nil {
		return err
	}

	records, err := h.createRecords(ctx, item, attachments, ref, log)
	if err != nil {
		return err
	}

	item.ReferralID = &ref.ID
	if err := h.finalizeItem(ctx, item, log, purge); err != nil {
		return err
	}
	h.logger.Info(fmt.Sprintf("marked source item %s as processed and linked it to referral %s", item.ID, ref.ID))

	h.queueIndexing(ctx, res, task, records, post)
	return nil
}

func (h *harvester) readAttachment(ctx context.Context, att *models.Attachment) ([]byte, error) {
	rc, err := h.store.Get(ctx, att.ObjectKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", att.Name, err)
	}
	return data, nil
}

// createLocations creates one location per polygon ring per feature.
// Degenerate rings are skipped, never fatal.
func (h *harvester) createLocations(ctx context.Context, ref *models.Referral, addresses []ResolvedAddress, log *ActionLog) ([]*models.Location, error) {
	var created []*models.Location
	for _, ra := range addresses {
		for _, f := range ra.Features {
			for i := range f.Rings {
				wkt, err := f.RingWKT(i)
				if err != nil {
					if !isGeometryFailure(err) {
						return nil, err
					}
					h.logger.Warn(log.Addf("Skipping invalid feature geometry for PIN %s: %v", ra.Address.PIN, err))
					continue
				}
				loc := &models.Location{
					ReferralID:    ref.ID,
					AddressNo:     ra.Address.HouseNumber(),
					AddressSuffix: ra.Address.NumberFromSuffix,
					RoadName:      ra.Address.StreetName,
					RoadSuffix:    ra.Address.StreetSuffix,
					Locality:      ra.Address.Suburb,
					Postcode:      ra.Address.Postcode,
					Poly:          &wkt,
				}
				if err := h.locationRepo.Create(ctx, loc); err != nil {
					return nil, err
				}
				created = append(created, loc)
				h.logger.Info(log.Addf("New PRS location generated: %s %s, %s", ra.Address.NumberFrom, ra.Address.StreetName, ra.Address.Suburb))
			}
		}
	}
	return created, nil
}

// relateIntersecting links the referral to any other referral whose current
// locations intersect a newly created location. The relationship edge is
// undirected and deduplicated by the repository.
func (h *harvester) relateIntersecting(ctx context.Context, ref *models.Referral, locations []*models.Location, log *ActionLog) error {
	for _, loc := range locations {
		if loc.Poly == nil {
			continue
		}
		intersecting, err := h.spatial.IntersectingLocations(ctx, *loc.Poly, loc.ID)
		if err != nil {
			return err
		}
		for _, other := range intersecting {
			if other.ReferralID == ref.ID {
				continue
			}
			if err := h.referralRepo.Relate(ctx, ref.ID, other.ReferralID); err != nil {
				return err
			}
			h.logger.Info(log.Addf("New referral %s related to existing referral %s", ref.ID, other.ReferralID))
		}
	}
	return nil
}

// createAssessTask creates the default "Assess a referral" task with the due
// date from the package when parseable, else the type's target turnaround.
func (h *harvester) createAssessTask(ctx context.Context, pkg *ReferralPackage, res *Resolution, log *ActionLog, post *[]func(context.Context)) (*models.Task, error) {
	assessType, err := h.lookupRepo.TaskTypeByName(ctx, models.TaskTypeAssess)
	if err != nil {
		return nil, err
	}

	due, err := pkg.ParsedDueDate()
	if err != nil {
		due = h.now().AddDate(0, 0, assessType.TargetDays)
	}
	start := res.Referral.ReferralDate

	task := &models.Task{
		ReferralID:     res.Referral.ID,
		TypeID:         assessType.ID,
		TypeName:       assessType.Name,
		StateID:        assessType.InitialStateID,
		StateName:      assessType.InitialState,
		AssignedUserID: res.Assignee.ID,
		Description:    res.Referral.Description,
		StartDate:      &start,
		DueDate:        &due,
	}
	if err := h.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	h.logger.Info(log.Addf("New PRS task generated: %s assigned to %s", task.ID, res.Assignee.FullName))

	// The item log is already persisted by the time this runs, so the
	// notification outcome is reported through the logger only.
	assignee := res.Assignee
	*post = append(*post, func(ctx context.Context) {
		if err := h.notifier.TaskAssigned(ctx, task, assignee); err != nil {
			h.logger.Warn("task assignment notification failed", zap.Error(err))
			return
		}
		h.logger.Info(fmt.Sprintf("task assignment email sent to %s", assignee.Email))
	})
	return task, nil
}

// createRecords saves the email body as an HTML record plus one record per
// attachment, duplicating each attachment's payload, and links attachments
// to their generated records.
func (h *harvester) createRecords(ctx context.Context, item *models.SourceItem, attachments []*models.Attachment, ref *models.Referral, log *ActionLog) ([]*models.Record, error) {
	var records []*models.Record
	today := h.now()

	bodyRecord := &models.Record{
		ID:         uuid.New(),
		ReferralID: ref.ID,
		Name:       item.Subject,
		FileName:   fmt.Sprintf("emailed_referral_%s.html", ref.Reference),
		OrderDate:  today,
	}
	bodyRecord.ObjectKey = fmt.Sprintf("records/%s/%s", bodyRecord.ID, bodyRecord.FileName)
	body := strings.NewReader(item.Body)
	if err := h.store.Put(ctx, bodyRecord.ObjectKey, body, int64(len(item.Body)), "text/html"); err != nil {
		return nil, err
	}
	if err := h.recordRepo.Create(ctx, bodyRecord); err != nil {
		return nil, err
	}
	records = append(records, bodyRecord)
	h.logger.Info(log.Addf("New PRS record generated: %s", bodyRecord.Name))

	for _, att := range attachments {
		rec := &models.Record{
			ID:         uuid.New(),
			ReferralID: ref.ID,
			Name:       att.Name,
			FileName:   att.Name,
			OrderDate:  today,
		}
		rec.ObjectKey = fmt.Sprintf("records/%s/%s", rec.ID, rec.FileName)
		if err := h.store.Copy(ctx, att.ObjectKey, rec.ObjectKey); err != nil {
			return nil, err
		}
		if err := h.recordRepo.Create(ctx, rec); err != nil {
			return nil, err
		}
		if err := h.sourceRepo.LinkAttachmentRecord(ctx, att.ID, rec.ID); err != nil {
			return nil, err
		}
		records = append(records, rec)
		h.logger.Info(log.Addf("New PRS record generated: %s", rec.Name))
	}
	return records, nil
}

// queueIndexing pushes flattened documents for everything this item touched
// once the transaction has committed.
func (h *harvester) queueIndexing(ctx context.Context, res *Resolution, task *models.Task, records []*models.Record, post *[]func(context.Context)) {
	ref := res.Referral

	triggers, err := h.referralRepo.Triggers(ctx, ref.ID)
	if err != nil {
		h.logger.Warn("failed to load triggers for indexing", zap.Error(err))
	}
	regions, err := h.referralRepo.Regions(ctx, ref.ID)
	if err != nil {
		h.logger.Warn("failed to load regions for indexing", zap.Error(err))
	}
	org, err := h.lookupRepo.OrganisationBySlug(ctx, h.cfg.ReferringOrgSlug)
	if err != nil {
		h.logger.Warn("failed to load organisation for indexing", zap.Error(err))
		org = &models.Organisation{}
	}

	refDoc := ReferralDocument{
		ID:           ref.ID.String(),
		Created:      ref.CreatedAt.Unix(),
		Type:         ref.TypeName,
		ReferringOrg: org.Name,
		Reference:    ref.Reference,
		Description:  ref.Description,
		Address:      ref.Address,
	}
	for _, reg := range regions {
		refDoc.Regions = append(refDoc.Regions, reg.Name)
	}
	for _, t := range triggers {
		refDoc.DopTriggers = append(refDoc.DopTriggers, t.Name)
	}

	taskDoc := TaskDocument{
		ID:          task.ID.String(),
		Created:     task.CreatedAt.Unix(),
		ReferralID:  task.ReferralID.String(),
		Description: task.Description,
	}

	recordDocs := make([]RecordDocument, 0, len(records))
	for _, rec := range records {
		recordDocs = append(recordDocs, RecordDocument{
			ID:         rec.ID.String(),
			Created:    rec.CreatedAt.Unix(),
			ReferralID: rec.ReferralID.String(),
			Name:       rec.Name,
			FileName:   rec.FileName,
		})
	}

	*post = append(*post, func(ctx context.Context) {
		if err := h.indexer.UpsertReferral(ctx, refDoc); err != nil {
			h.logger.Warn("referral index push failed", zap.Error(err))
		}
		if err := h.indexer.UpsertTask(ctx, taskDoc); err != nil {
			h.logger.Warn("task index push failed", zap.Error(err))
		}
		for _, doc := range recordDocs {
			if err := h.indexer.UpsertRecord(ctx, doc); err != nil {
				h.logger.Warn("record index push failed", zap.Error(err))
			}
		}
	})
}

func (h *harvester) EmailReport(ctx context.Context, actions []string) error {
	users, err := h.lookupRepo.ActiveUsersInGroup(ctx, h.cfg.PowerUserGroup)
	if err != nil {
		return err
	}
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	return h.notifier.HarvestReport(ctx, emails, actions)
}
