package services

import (
	"context"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/config"
)

// ReferralDocument is the flattened, searchable form of a referral.
type ReferralDocument struct {
	ID           string    `json:"id"`
	Created      int64     `json:"created"`
	Type         string    `json:"type"`
	ReferringOrg string    `json:"referring_org"`
	Regions      []string  `json:"regions"`
	Reference    string    `json:"reference"`
	Description  string    `json:"description"`
	Address      string    `json:"address"`
	LGA          string    `json:"lga"`
	DopTriggers  []string  `json:"dop_triggers"`
	Point        []float64 `json:"point,omitempty"`
}

// RecordDocument is the flattened, searchable form of a record.
type RecordDocument struct {
	ID          string `json:"id"`
	Created     int64  `json:"created"`
	ReferralID  string `json:"referral_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	FileName    string `json:"file_name"`
}

// NoteDocument is the flattened, searchable form of a note.
type NoteDocument struct {
	ID         string `json:"id"`
	Created    int64  `json:"created"`
	ReferralID string `json:"referral_id"`
	Note       string `json:"note"`
}

// TaskDocument is the flattened, searchable form of a task.
type TaskDocument struct {
	ID           string `json:"id"`
	Created      int64  `json:"created"`
	ReferralID   string `json:"referral_id"`
	Description  string `json:"description"`
	AssignedUser string `json:"assigned_user"`
}

// ConditionDocument is the flattened, searchable form of a condition.
type ConditionDocument struct {
	ID                string `json:"id"`
	Created           int64  `json:"created"`
	ReferralID        string `json:"referral_id"`
	ProposedCondition string `json:"proposed_condition"`
	ApprovedCondition string `json:"approved_condition"`
}

// Indexer pushes flattened documents into the full-text search index after a
// core mutation commits. Pushes are best-effort; a failed push never fails
// the mutation that triggered it.
type Indexer interface {
	UpsertReferral(ctx context.Context, doc ReferralDocument) error
	UpsertRecord(ctx context.Context, doc RecordDocument) error
	UpsertNote(ctx context.Context, doc NoteDocument) error
	UpsertTask(ctx context.Context, doc TaskDocument) error
	UpsertCondition(ctx context.Context, doc ConditionDocument) error
}

// typesenseIndexer implements Indexer against a Typesense cluster.
type typesenseIndexer struct {
	client  *typesense.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewTypesenseIndexer creates an Indexer from configuration.
func NewTypesenseIndexer(cfg *config.TypesenseConfig, logger *zap.Logger) Indexer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(timeout),
	)
	return &typesenseIndexer{client: client, timeout: timeout, logger: logger}
}

func (i *typesenseIndexer) upsert(ctx context.Context, collection string, doc any) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if _, err := i.client.Collection(collection).Documents().Upsert(ctx, doc); err != nil {
		return fmt.Errorf("%w: upsert into %s: %v", apperrors.ErrGateway, collection, err)
	}
	return nil
}

func (i *typesenseIndexer) UpsertReferral(ctx context.Context, doc ReferralDocument) error {
	return i.upsert(ctx, "referrals", doc)
}

func (i *typesenseIndexer) UpsertRecord(ctx context.Context, doc RecordDocument) error {
	return i.upsert(ctx, "records", doc)
}

func (i *typesenseIndexer) UpsertNote(ctx context.Context, doc NoteDocument) error {
	return i.upsert(ctx, "notes", doc)
}

func (i *typesenseIndexer) UpsertTask(ctx context.Context, doc TaskDocument) error {
	return i.upsert(ctx, "tasks", doc)
}

func (i *typesenseIndexer) UpsertCondition(ctx context.Context, doc ConditionDocument) error {
	return i.upsert(ctx, "conditions", doc)
}
