package models

import (
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work against a referral. Tasks are mutated exclusively
// through the workflow engine's transition operations.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	ReferralID     uuid.UUID  `json:"referral_id"`
	TypeID         uuid.UUID  `json:"type_id"`
	TypeName       string     `json:"type"`
	StateID        uuid.UUID  `json:"state_id"`
	StateName      string     `json:"state"`
	AssignedUserID uuid.UUID  `json:"assigned_user_id"`
	Description    string     `json:"description"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	StopDate       *time.Time `json:"stop_date,omitempty"`
	RestartDate    *time.Time `json:"restart_date,omitempty"`
	CompleteDate   *time.Time `json:"complete_date,omitempty"`
	// StopTime accumulates whole days the task has spent stopped.
	StopTime  int        `json:"stop_time"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Stopped reports whether the task is currently stopped (stopped without a
// subsequent restart).
func (t *Task) Stopped() bool {
	return t.StopDate != nil && t.RestartDate == nil
}

// Completed reports whether the task has a completion date recorded.
func (t *Task) Completed() bool {
	return t.CompleteDate != nil
}

// SourceItem is one harvested email believed to contain a referral package.
// Once Processed is set, re-running ingestion for the item is a no-op.
type SourceItem struct {
	ID        uuid.UUID  `json:"id"`
	EmailUID  string     `json:"email_uid"`
	ToEmail   string     `json:"to_email"`
	FromEmail string     `json:"from_email"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Received  *time.Time `json:"received,omitempty"`
	Harvested time.Time  `json:"harvested"`
	// ReferralID links the item to the referral it resolved to.
	ReferralID *uuid.UUID `json:"referral_id,omitempty"`
	Processed  bool       `json:"processed"`
	// Purgeable records intent to purge the source email from the mailbox.
	Purgeable bool `json:"purgeable"`
	// Log is the append-only human-readable processing log.
	Log string `json:"log"`
}

// Attachment is a saved email file attachment, owned by one source item and
// optionally linked to the record generated from it during ingestion.
type Attachment struct {
	ID           uuid.UUID  `json:"id"`
	SourceItemID uuid.UUID  `json:"source_item_id"`
	Name         string     `json:"name"`
	ObjectKey    string     `json:"object_key"`
	RecordID     *uuid.UUID `json:"record_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
