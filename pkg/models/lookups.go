// Package models contains domain types for the PRS referral service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Region is an administrative region with an optional multipolygon boundary.
// Boundary geometry lives in PostGIS; only its presence is surfaced here.
type Region struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	HasBoundary bool      `json:"has_boundary"`
}

// LocalGovernment is a local government area.
type LocalGovernment struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Agency is an internal agency able to action referrals.
type Agency struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// Organisation is an external organisation able to refer applications.
type Organisation struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// ReferralType categorises a referral (e.g. "Development application").
type ReferralType struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// DopTrigger is a land-use/environmental trigger tag applied to referrals.
type DopTrigger struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// TaskState is a named workflow state. States are data-driven per task type
// apart from the three structural states below, which the workflow engine
// assigns directly.
type TaskState struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Structural task state names. All other states are seed data referenced by
// TaskType.InitialStateID.
const (
	TaskStateStopped   = "Stopped"
	TaskStateComplete  = "Complete"
	TaskStateCancelled = "Cancelled"
)

// TaskType categorises a task and carries its default initial state and
// target turnaround.
type TaskType struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	InitialStateID uuid.UUID `json:"initial_state_id"`
	InitialState   string    `json:"initial_state"`
	TargetDays     int       `json:"target_days"`
}

// Well-known task type names referenced by workflow rules.
const (
	TaskTypeAssess    = "Assess a referral"
	TaskTypeClearance = "Conditions clearance request"
)

// AutoCompleteTaskTypes are completed immediately on creation.
var AutoCompleteTaskTypes = []string{
	"Information only",
	"Provide pre-referral/preliminary advice",
}

// IsAutoCompleteTaskType reports whether tasks of the named type are
// auto-completed when created.
func IsAutoCompleteTaskType(name string) bool {
	for _, t := range AutoCompleteTaskTypes {
		if t == name {
			return true
		}
	}
	return false
}

// User is a PRS system user.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Active   bool      `json:"active"`
}

// RegionAssignee maps a region to the user assigned newly harvested
// referrals for that region. Absence of a mapping is a valid state.
type RegionAssignee struct {
	RegionID  uuid.UUID `json:"region_id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
