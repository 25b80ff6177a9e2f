package models

import (
	"time"

	"github.com/google/uuid"
)

// Referral is the case entity: one external land-use planning referral.
// Reference uniqueness is not enforced by storage; duplicate references are
// expected and resolved by the harvester, which always prefers the
// most-recently-created match.
type Referral struct {
	ID             uuid.UUID  `json:"id"`
	TypeID         uuid.UUID  `json:"type_id"`
	TypeName       string     `json:"type"`
	AgencyID       uuid.UUID  `json:"agency_id"`
	ReferringOrgID uuid.UUID  `json:"referring_org_id"`
	Reference      string     `json:"reference"`
	Description    string     `json:"description"`
	Address        string     `json:"address"`
	ReferralDate   time.Time  `json:"referral_date"`
	LGAID          *uuid.UUID `json:"lga_id,omitempty"`
	Point          *Point     `json:"point,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Current reports whether the referral is not soft-deleted.
func (r *Referral) Current() bool {
	return r.DeletedAt == nil
}

// Point is a lon/lat coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Location is one street address with an optional polygon geometry, owned by
// exactly one referral. Poly holds WKT; the spatial predicates run in PostGIS.
type Location struct {
	ID            uuid.UUID  `json:"id"`
	ReferralID    uuid.UUID  `json:"referral_id"`
	AddressNo     *int       `json:"address_no,omitempty"`
	AddressSuffix string     `json:"address_suffix"`
	RoadName      string     `json:"road_name"`
	RoadSuffix    string     `json:"road_suffix"`
	Locality      string     `json:"locality"`
	Postcode      string     `json:"postcode"`
	Poly          *string    `json:"poly,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Condition is a condition proposed on (and possibly later approved for) a
// referral.
type Condition struct {
	ID                uuid.UUID  `json:"id"`
	ReferralID        uuid.UUID  `json:"referral_id"`
	Identifier        string     `json:"identifier"`
	ProposedCondition string     `json:"proposed_condition"`
	ApprovedCondition string     `json:"approved_condition"`
	CreatedAt         time.Time  `json:"created_at"`
	CreatorID         uuid.UUID  `json:"creator_id"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// Clearance links one condition to one clearance-request task.
type Clearance struct {
	ID            uuid.UUID `json:"id"`
	ConditionID   uuid.UUID `json:"condition_id"`
	TaskID        uuid.UUID `json:"task_id"`
	DepositedPlan string    `json:"deposited_plan"`
	CreatedAt     time.Time `json:"created_at"`
}

// Record is a document attached to a referral. The payload lives in object
// storage under ObjectKey.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	ReferralID  uuid.UUID  `json:"referral_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	FileName    string     `json:"file_name"`
	ObjectKey   string     `json:"object_key"`
	OrderDate   time.Time  `json:"order_date"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Note is free-text commentary recorded against a referral.
type Note struct {
	ID         uuid.UUID  `json:"id"`
	ReferralID uuid.UUID  `json:"referral_id"`
	Note       string     `json:"note"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}
