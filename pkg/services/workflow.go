package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/config"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/models"
	"github.com/ropable/prs/pkg/repositories"
)

// Assessment outcome states with dedicated completion rules.
const (
	outcomeInsufficientInfo  = "Insufficient information provided"
	outcomeResponseAdvice    = "Response with advice"
	outcomeResponseCondition = "Response with condition"
	outcomeResponseObjection = "Response with objection"
)

// taggedOutcomes are assessment outcomes that require at least one tag.
var taggedOutcomes = []string{
	outcomeInsufficientInfo,
	outcomeResponseAdvice,
	outcomeResponseCondition,
	outcomeResponseObjection,
}

// conditionOutcomeTypes are the referral types for which a "Response with
// condition" outcome requires a proposed condition on the referral.
var conditionOutcomeTypes = []string{
	"Development application",
	"Extractive industry / mining",
	"Subdivision",
}

// locationGatedTypes are the referral types that cannot have tasks completed
// until the referral has at least one recorded location.
var locationGatedTypes = []string{
	"Development application",
	"Drain/pump/take water, watercourse works",
	"Extractive industry / mining",
	"GBRS amendment",
	"Land tenure change",
	"Management plan / technical report",
	"MRS amendment",
	"Pastoral lease permit to diversify",
	"Planning scheme / amendment",
	"PRS amendment",
	"Structure Plan",
	"Subdivision",
	"Utilities infrastructure & roads",
	"Clearing Permit - DMIRS",
	"Clearing Permit - DWER",
	"LSU - Amendments to Reserves or UCL",
	"LSU - Leases or easements over crown land",
	"LSU - Road actions",
	"LSU - s91 licences",
	"LSU - s121 diversification permits",
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// UpdateTaskInput carries the editable task fields.
type UpdateTaskInput struct {
	Description *string
	DueDate     *time.Time
}

// CompleteTaskInput carries a completion request: the outcome state name,
// the completion date, and any tags to attach to the parent referral.
type CompleteTaskInput struct {
	Outcome      string
	CompleteDate time.Time
	Tags         []string
}

// CreateTaskInput carries a manual task creation request.
type CreateTaskInput struct {
	ReferralID     uuid.UUID
	TypeName       string
	AssignedUserID uuid.UUID
	Description    string
	StartDate      *time.Time
	DueDate        *time.Time
}

// CreateNoteInput carries a referral note creation request.
type CreateNoteInput struct {
	ReferralID uuid.UUID
	Note       string
}

// CreateConditionInput carries a condition creation request.
type CreateConditionInput struct {
	ReferralID        uuid.UUID
	Identifier        string
	ProposedCondition string
	CreatorID         uuid.UUID
}

// ClearanceRequestInput carries a clearance request: one task is created per
// selected condition, all sharing the same assignee, dates and description.
type ClearanceRequestInput struct {
	ReferralID     uuid.UUID
	ConditionIDs   []uuid.UUID
	AssignedUserID uuid.UUID
	Description    string
	StartDate      *time.Time
	DueDate        *time.Time
	DepositedPlan  string
}

// WorkflowService owns every task state transition. Each transition checks
// its business rules before mutating anything; a rejected transition returns
// a human-readable error and leaves the task unchanged.
type WorkflowService interface {
	UpdateTask(ctx context.Context, taskID uuid.UUID, input UpdateTaskInput) (*models.Task, error)
	StopTask(ctx context.Context, taskID uuid.UUID, stopDate time.Time) (*models.Task, error)
	StartTask(ctx context.Context, taskID uuid.UUID, restartDate time.Time) (*models.Task, error)
	InheritTask(ctx context.Context, taskID uuid.UUID, actor *models.User) (*models.Task, error)
	ReassignTask(ctx context.Context, taskID uuid.UUID, assigneeID uuid.UUID, notify bool) (*models.Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID, input CompleteTaskInput) (*models.Task, error)
	CancelTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	CreateTask(ctx context.Context, input CreateTaskInput) (*models.Task, error)
	CreateNote(ctx context.Context, input CreateNoteInput) (*models.Note, error)
	CreateCondition(ctx context.Context, input CreateConditionInput) (*models.Condition, error)
	CreateClearanceRequest(ctx context.Context, input ClearanceRequestInput) ([]*models.Task, error)
}

// workflowService implements WorkflowService.
type workflowService struct {
	db           *database.DB
	taskRepo     repositories.TaskRepository
	referralRepo repositories.ReferralRepository
	condRepo     repositories.ConditionRepository
	recordRepo   repositories.RecordRepository
	lookupRepo   repositories.LookupRepository
	notifier     Notifier
	indexer      Indexer
	cfg          config.HarvestConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewWorkflowService creates a new workflow service with dependencies.
func NewWorkflowService(
	db *database.DB,
	taskRepo repositories.TaskRepository,
	referralRepo repositories.ReferralRepository,
	condRepo repositories.ConditionRepository,
	recordRepo repositories.RecordRepository,
	lookupRepo repositories.LookupRepository,
	notifier Notifier,
	indexer Indexer,
	cfg config.HarvestConfig,
	logger *zap.Logger,
) WorkflowService {
	return &workflowService{
		db:           db,
		taskRepo:     taskRepo,
		referralRepo: referralRepo,
		condRepo:     condRepo,
		recordRepo:   recordRepo,
		lookupRepo:   lookupRepo,
		notifier:     notifier,
		indexer:      indexer,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// reject builds a transition rejection. Handlers map ErrConflict to a client
// error; the message is shown to the user as-is.
func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrConflict, fmt.Sprintf(format, args...))
}

// transition loads the task, applies fn inside a transaction and returns the
// mutated task. fn must return before any mutation if a rule fails.
func (s *workflowService) transition(ctx context.Context, taskID uuid.UUID, fn func(ctx context.Context, task *models.Task) error) (*models.Task, error) {
	var task *models.Task
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		var err error
		task, err = s.taskRepo.Get(ctx, taskID)
		if err != nil {
			return err
		}
		return fn(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	s.indexTask(ctx, task)
	return task, nil
}

func (s *workflowService) UpdateTask(ctx context.Context, taskID uuid.UUID, input UpdateTaskInput) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if task.Stopped() {
			return reject("you can't edit a stopped task; restart the task first")
		}
		if input.Description != nil {
			task.Description = *input.Description
		}
		if input.DueDate != nil {
			task.DueDate = input.DueDate
		}
		return s.taskRepo.Update(ctx, task)
	})
}

func (s *workflowService) StopTask(ctx context.Context, taskID uuid.UUID, stopDate time.Time) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if task.Completed() {
			return reject("you can't stop a completed task")
		}
		stopped, err := s.lookupRepo.TaskStateByName(ctx, models.TaskStateStopped)
		if err != nil {
			return err
		}
		task.StopDate = &stopDate
		task.RestartDate = nil
		task.StateID = stopped.ID
		task.StateName = stopped.Name
		return s.taskRepo.Update(ctx, task)
	})
}

func (s *workflowService) StartTask(ctx context.Context, taskID uuid.UUID, restartDate time.Time) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if !task.Stopped() {
			return reject("you can't restart a task that is not stopped")
		}
		taskType, err := s.lookupRepo.TaskTypeByName(ctx, task.TypeName)
		if err != nil {
			return err
		}
		// Accumulate the whole days spent stopped.
		task.StopTime += int(restartDate.Sub(*task.StopDate).Hours() / 24)
		task.RestartDate = &restartDate
		task.StateID = taskType.InitialStateID
		task.StateName = taskType.InitialState
		return s.taskRepo.Update(ctx, task)
	})
}

func (s *workflowService) InheritTask(ctx context.Context, taskID uuid.UUID, actor *models.User) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if task.AssignedUserID == actor.ID {
			return reject("task %s is already assigned to %s", task.ID, actor.Username)
		}
		task.AssignedUserID = actor.ID
		return s.taskRepo.Update(ctx, task)
	})
}

func (s *workflowService) ReassignTask(ctx context.Context, taskID uuid.UUID, assigneeID uuid.UUID, notify bool) (*models.Task, error) {
	var assignee *models.User
	task, err := s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if task.Completed() {
			return reject("you can't reassign a completed task")
		}
		var err error
		assignee, err = s.lookupRepo.UserByID(ctx, assigneeID)
		if err != nil {
			return err
		}
		task.AssignedUserID = assignee.ID
		return s.taskRepo.Update(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	if notify {
		if err := s.notifier.TaskAssigned(ctx, task, assignee); err != nil {
			s.logger.Warn("task reassignment notification failed", zap.Error(err))
		}
	}
	return task, nil
}

func (s *workflowService) CompleteTask(ctx context.Context, taskID uuid.UUID, input CompleteTaskInput) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if task.Completed() {
			return reject("task %s has already been completed", task.ID)
		}
		ref, err := s.referralRepo.Get(ctx, task.ReferralID)
		if err != nil {
			return err
		}

		if containsName(locationGatedTypes, ref.TypeName) {
			hasLocation, err := s.referralRepo.HasLocation(ctx, ref.ID)
			if err != nil {
				return err
			}
			if !hasLocation {
				return reject("a %s referral can't have tasks completed without a recorded location", ref.TypeName)
			}
		}

		if task.TypeName == models.TaskTypeAssess {
			if input.Outcome == outcomeResponseCondition && containsName(conditionOutcomeTypes, ref.TypeName) {
				hasCondition, err := s.referralRepo.HasProposedCondition(ctx, ref.ID)
				if err != nil {
					return err
				}
				if !hasCondition {
					return reject("you can't select that outcome until a condition with proposed text exists on the referral")
				}
			}
			if containsName(taggedOutcomes, input.Outcome) && len(input.Tags) == 0 {
				return reject("that outcome requires at least one tag")
			}
		}

		outcome, err := s.lookupRepo.TaskStateByName(ctx, input.Outcome)
		if err != nil {
			return err
		}

		completeDate := input.CompleteDate
		if completeDate.IsZero() {
			completeDate = s.now()
		}
		task.StateID = outcome.ID
		task.StateName = outcome.Name
		task.CompleteDate = &completeDate
		if err := s.taskRepo.Update(ctx, task); err != nil {
			return err
		}

		// Tags given with an assessment outcome are copied onto the referral.
		if task.TypeName == models.TaskTypeAssess {
			for _, tag := range input.Tags {
				if err := s.referralRepo.AddTag(ctx, ref.ID, tag); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *workflowService) CancelTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, task *models.Task) error {
		if task.Completed() {
			return reject("you can't cancel a completed task")
		}
		cancelled, err := s.lookupRepo.TaskStateByName(ctx, models.TaskStateCancelled)
		if err != nil {
			return err
		}
		now := s.now()
		task.StateID = cancelled.ID
		task.StateName = cancelled.Name
		task.CompleteDate = &now
		return s.taskRepo.Update(ctx, task)
	})
}

func (s *workflowService) CreateTask(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	var (
		task     *models.Task
		assignee *models.User
	)
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.referralRepo.Get(ctx, input.ReferralID); err != nil {
			return err
		}
		taskType, err := s.lookupRepo.TaskTypeByName(ctx, input.TypeName)
		if err != nil {
			return err
		}
		assignee, err = s.lookupRepo.UserByID(ctx, input.AssignedUserID)
		if err != nil {
			return err
		}

		today := s.now()
		start := input.StartDate
		if start == nil {
			start = &today
		}
		due := input.DueDate
		if due == nil {
			d := start.AddDate(0, 0, taskType.TargetDays)
			due = &d
		}

		task = &models.Task{
			ReferralID:     input.ReferralID,
			TypeID:         taskType.ID,
			TypeName:       taskType.Name,
			StateID:        taskType.InitialStateID,
			StateName:      taskType.InitialState,
			AssignedUserID: assignee.ID,
			Description:    input.Description,
			StartDate:      start,
			DueDate:        due,
		}

		// Advice-style task types are recorded as already complete.
		if models.IsAutoCompleteTaskType(taskType.Name) {
			complete, err := s.lookupRepo.TaskStateByName(ctx, models.TaskStateComplete)
			if err != nil {
				return err
			}
			task.StateID = complete.ID
			task.StateName = complete.Name
			task.DueDate = &today
			task.CompleteDate = &today
		}
		return s.taskRepo.Create(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	if !task.Completed() {
		if err := s.notifier.TaskAssigned(ctx, task, assignee); err != nil {
			s.logger.Warn("task assignment notification failed", zap.Error(err))
		}
	}
	s.indexTask(ctx, task)
	return task, nil
}

func (s *workflowService) CreateNote(ctx context.Context, input CreateNoteInput) (*models.Note, error) {
	if strings.TrimSpace(input.Note) == "" {
		return nil, reject("a note must have text")
	}

	var note *models.Note
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.referralRepo.Get(ctx, input.ReferralID); err != nil {
			return err
		}
		note = &models.Note{ReferralID: input.ReferralID, Note: input.Note}
		return s.recordRepo.CreateNote(ctx, note)
	})
	if err != nil {
		return nil, err
	}

	if err := s.indexer.UpsertNote(ctx, NoteDocument{
		ID:         note.ID.String(),
		Created:    note.CreatedAt.Unix(),
		ReferralID: note.ReferralID.String(),
		Note:       note.Note,
	}); err != nil {
		s.logger.Warn("note index push failed", zap.Error(err))
	}
	return note, nil
}

func (s *workflowService) CreateCondition(ctx context.Context, input CreateConditionInput) (*models.Condition, error) {
	var (
		condition *models.Condition
		creator   *models.User
	)
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.referralRepo.Get(ctx, input.ReferralID); err != nil {
			return err
		}
		var err error
		creator, err = s.lookupRepo.UserByID(ctx, input.CreatorID)
		if err != nil {
			return err
		}
		condition = &models.Condition{
			ReferralID:        input.ReferralID,
			Identifier:        input.Identifier,
			ProposedCondition: input.ProposedCondition,
			CreatorID:         creator.ID,
		}
		return s.condRepo.Create(ctx, condition)
	})
	if err != nil {
		return nil, err
	}

	recipients, err := s.lookupRepo.ActiveUsersInGroup(ctx, s.cfg.PowerUserGroup)
	if err != nil {
		s.logger.Warn("failed to load condition notification recipients", zap.Error(err))
	} else if err := s.notifier.ConditionCreated(ctx, condition, creator, recipients); err != nil {
		s.logger.Warn("condition creation notification failed", zap.Error(err))
	}

	if err := s.indexer.UpsertCondition(ctx, ConditionDocument{
		ID:                condition.ID.String(),
		Created:           condition.CreatedAt.Unix(),
		ReferralID:        condition.ReferralID.String(),
		ProposedCondition: condition.ProposedCondition,
	}); err != nil {
		s.logger.Warn("condition index push failed", zap.Error(err))
	}
	return condition, nil
}

func (s *workflowService) CreateClearanceRequest(ctx context.Context, input ClearanceRequestInput) ([]*models.Task, error) {
	if len(input.ConditionIDs) == 0 {
		return nil, reject("a clearance request must select at least one condition")
	}

	var (
		tasks    []*models.Task
		assignee *models.User
	)
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		clearanceType, err := s.lookupRepo.TaskTypeByName(ctx, models.TaskTypeClearance)
		if err != nil {
			return err
		}
		assignee, err = s.lookupRepo.UserByID(ctx, input.AssignedUserID)
		if err != nil {
			return err
		}

		today := s.now()
		start := input.StartDate
		if start == nil {
			start = &today
		}
		due := input.DueDate
		if due == nil {
			d := start.AddDate(0, 0, clearanceType.TargetDays)
			due = &d
		}

		// One task per selected condition, linked through a clearance row.
		for _, conditionID := range input.ConditionIDs {
			condition, err := s.condRepo.Get(ctx, conditionID)
			if err != nil {
				return err
			}
			if condition.ReferralID != input.ReferralID {
				return reject("condition %s does not belong to referral %s", condition.ID, input.ReferralID)
			}

			task := &models.Task{
				ReferralID:     input.ReferralID,
				TypeID:         clearanceType.ID,
				TypeName:       clearanceType.Name,
				StateID:        clearanceType.InitialStateID,
				StateName:      clearanceType.InitialState,
				AssignedUserID: assignee.ID,
				Description:    input.Description,
				StartDate:      start,
				DueDate:        due,
			}
			if err := s.taskRepo.Create(ctx, task); err != nil {
				return err
			}
			if err := s.condRepo.AddClearance(ctx, &models.Clearance{
				ConditionID:   condition.ID,
				TaskID:        task.ID,
				DepositedPlan: input.DepositedPlan,
			}); err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if err := s.notifier.ClearanceRequested(ctx, task, assignee); err != nil {
			s.logger.Warn("clearance request notification failed", zap.Error(err))
		}
		s.indexTask(ctx, task)
	}
	return tasks, nil
}

// indexTask pushes the task document after a transition commits; failure is
// logged only.
func (s *workflowService) indexTask(ctx context.Context, task *models.Task) {
	if err := s.indexer.UpsertTask(ctx, TaskDocument{
		ID:          task.ID.String(),
		Created:     task.CreatedAt.Unix(),
		ReferralID:  task.ReferralID.String(),
		Description: task.Description,
	}); err != nil {
		s.logger.Warn("task index push failed", zap.Error(err))
	}
}
