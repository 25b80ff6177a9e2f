package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/repositories"
	"github.com/ropable/prs/pkg/services"
)

// dateLayout is the wire format for date fields in task transition requests.
const dateLayout = "2006-01-02"

// TasksHandler serves tasks and their workflow transitions.
type TasksHandler struct {
	taskRepo   repositories.TaskRepository
	lookupRepo repositories.LookupRepository
	workflow   services.WorkflowService
	logger     *zap.Logger
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(
	taskRepo repositories.TaskRepository,
	lookupRepo repositories.LookupRepository,
	workflow services.WorkflowService,
	logger *zap.Logger,
) *TasksHandler {
	return &TasksHandler{
		taskRepo:   taskRepo,
		lookupRepo: lookupRepo,
		workflow:   workflow,
		logger:     logger,
	}
}

// RegisterRoutes registers the tasks handler's routes on the given mux.
func (h *TasksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v3/tasks/{id}", h.Get)
	mux.HandleFunc("POST /api/v3/tasks", h.Create)
	mux.HandleFunc("PATCH /api/v3/tasks/{id}", h.Update)
	mux.HandleFunc("POST /api/v3/tasks/{id}/stop", h.Stop)
	mux.HandleFunc("POST /api/v3/tasks/{id}/start", h.Start)
	mux.HandleFunc("POST /api/v3/tasks/{id}/inherit", h.Inherit)
	mux.HandleFunc("POST /api/v3/tasks/{id}/reassign", h.Reassign)
	mux.HandleFunc("POST /api/v3/tasks/{id}/complete", h.Complete)
	mux.HandleFunc("POST /api/v3/tasks/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v3/notes", h.CreateNote)
	mux.HandleFunc("POST /api/v3/conditions", h.CreateCondition)
	mux.HandleFunc("POST /api/v3/clearance-requests", h.CreateClearanceRequest)
}

func (h *TasksHandler) parseID(w http.ResponseWriter, r *http.Request) *uuid.UUID {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, codeInvalidID, "Invalid task ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil
	}
	return &id
}

func (h *TasksHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

// writeWorkflowError maps workflow errors to HTTP responses. Business-rule
// rejections surface the rule text directly.
func (h *TasksHandler) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		if err := ErrorResponse(w, http.StatusConflict, codeRejected, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	case errors.Is(err, apperrors.ErrNotFound):
		if err := ErrorResponse(w, http.StatusNotFound, codeNotFound, "Resource not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	default:
		h.logger.Error("Workflow operation failed", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, codeInternal, "Operation failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

// parseDate parses an optional YYYY-MM-DD field, defaulting to now.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	return time.Parse(dateLayout, value)
}

// Get handles GET /api/v3/tasks/{id}
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	task, err := h.taskRepo.Get(r.Context(), *id)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Create handles POST /api/v3/tasks
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferralID     uuid.UUID `json:"referral_id"`
		Type           string    `json:"type"`
		AssignedUserID uuid.UUID `json:"assigned_user_id"`
		Description    string    `json:"description"`
		StartDate      string    `json:"start_date"`
		DueDate        string    `json:"due_date"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	input := services.CreateTaskInput{
		ReferralID:     req.ReferralID,
		TypeName:       req.Type,
		AssignedUserID: req.AssignedUserID,
		Description:    req.Description,
	}
	if req.StartDate != "" {
		start, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		input.StartDate = &start
	}
	if req.DueDate != "" {
		due, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		input.DueDate = &due
	}

	task, err := h.workflow.CreateTask(r.Context(), input)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Update handles PATCH /api/v3/tasks/{id}
func (h *TasksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	var req struct {
		Description *string `json:"description"`
		DueDate     *string `json:"due_date"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	input := services.UpdateTaskInput{Description: req.Description}
	if req.DueDate != nil {
		due, err := time.Parse(dateLayout, *req.DueDate)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		input.DueDate = &due
	}

	task, err := h.workflow.UpdateTask(r.Context(), *id, input)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Stop handles POST /api/v3/tasks/{id}/stop
func (h *TasksHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	var req struct {
		StopDate string `json:"stop_date"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	stopDate, err := parseDate(req.StopDate)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	task, err := h.workflow.StopTask(r.Context(), *id, stopDate)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Start handles POST /api/v3/tasks/{id}/start
func (h *TasksHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	var req struct {
		RestartDate string `json:"restart_date"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	restartDate, err := parseDate(req.RestartDate)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	task, err := h.workflow.StartTask(r.Context(), *id, restartDate)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Inherit handles POST /api/v3/tasks/{id}/inherit
func (h *TasksHandler) Inherit(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	actor, err := h.lookupRepo.UserByUsername(r.Context(), req.Username)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	task, err := h.workflow.InheritTask(r.Context(), *id, actor)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Reassign handles POST /api/v3/tasks/{id}/reassign
func (h *TasksHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	var req struct {
		AssignedUserID uuid.UUID `json:"assigned_user_id"`
		Notify         bool      `json:"notify"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	task, err := h.workflow.ReassignTask(r.Context(), *id, req.AssignedUserID, req.Notify)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Complete handles POST /api/v3/tasks/{id}/complete
func (h *TasksHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	var req struct {
		Outcome      string   `json:"outcome"`
		CompleteDate string   `json:"complete_date"`
		Tags         []string `json:"tags"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	completeDate, err := parseDate(req.CompleteDate)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	task, err := h.workflow.CompleteTask(r.Context(), *id, services.CompleteTaskInput{
		Outcome:      req.Outcome,
		CompleteDate: completeDate,
		Tags:         req.Tags,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// Cancel handles POST /api/v3/tasks/{id}/cancel
func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	task, err := h.workflow.CancelTask(r.Context(), *id)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to encode task response", zap.Error(err))
	}
}

// CreateNote handles POST /api/v3/notes
func (h *TasksHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferralID uuid.UUID `json:"referral_id"`
		Note       string    `json:"note"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	note, err := h.workflow.CreateNote(r.Context(), services.CreateNoteInput{
		ReferralID: req.ReferralID,
		Note:       req.Note,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, note); err != nil {
		h.logger.Error("Failed to encode note response", zap.Error(err))
	}
}

// CreateCondition handles POST /api/v3/conditions
func (h *TasksHandler) CreateCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferralID        uuid.UUID `json:"referral_id"`
		Identifier        string    `json:"identifier"`
		ProposedCondition string    `json:"proposed_condition"`
		CreatorID         uuid.UUID `json:"creator_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	condition, err := h.workflow.CreateCondition(r.Context(), services.CreateConditionInput{
		ReferralID:        req.ReferralID,
		Identifier:        req.Identifier,
		ProposedCondition: req.ProposedCondition,
		CreatorID:         req.CreatorID,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, condition); err != nil {
		h.logger.Error("Failed to encode condition response", zap.Error(err))
	}
}

// CreateClearanceRequest handles POST /api/v3/clearance-requests
func (h *TasksHandler) CreateClearanceRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferralID     uuid.UUID   `json:"referral_id"`
		ConditionIDs   []uuid.UUID `json:"condition_ids"`
		AssignedUserID uuid.UUID   `json:"assigned_user_id"`
		Description    string      `json:"description"`
		StartDate      string      `json:"start_date"`
		DueDate        string      `json:"due_date"`
		DepositedPlan  string      `json:"deposited_plan"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	input := services.ClearanceRequestInput{
		ReferralID:     req.ReferralID,
		ConditionIDs:   req.ConditionIDs,
		AssignedUserID: req.AssignedUserID,
		Description:    req.Description,
		DepositedPlan:  req.DepositedPlan,
	}
	if req.StartDate != "" {
		start, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		input.StartDate = &start
	}
	if req.DueDate != "" {
		due, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			h.writeWorkflowError(w, err)
			return
		}
		input.DueDate = &due
	}

	tasks, err := h.workflow.CreateClearanceRequest(r.Context(), input)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, tasks); err != nil {
		h.logger.Error("Failed to encode clearance tasks response", zap.Error(err))
	}
}
