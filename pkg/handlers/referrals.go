package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/repositories"
)

// ReferralsHandler serves read-only referral resources.
type ReferralsHandler struct {
	referralRepo repositories.ReferralRepository
	locationRepo repositories.LocationRepository
	recordRepo   repositories.RecordRepository
	condRepo     repositories.ConditionRepository
	taskRepo     repositories.TaskRepository
	logger       *zap.Logger
}

// NewReferralsHandler creates a new referrals handler.
func NewReferralsHandler(
	referralRepo repositories.ReferralRepository,
	locationRepo repositories.LocationRepository,
	recordRepo repositories.RecordRepository,
	condRepo repositories.ConditionRepository,
	taskRepo repositories.TaskRepository,
	logger *zap.Logger,
) *ReferralsHandler {
	return &ReferralsHandler{
		referralRepo: referralRepo,
		locationRepo: locationRepo,
		recordRepo:   recordRepo,
		condRepo:     condRepo,
		taskRepo:     taskRepo,
		logger:       logger,
	}
}

// RegisterRoutes registers the referrals handler's routes on the given mux.
func (h *ReferralsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v3/referrals", h.List)
	mux.HandleFunc("GET /api/v3/referrals/{id}", h.Get)
	mux.HandleFunc("GET /api/v3/referrals/{id}/related", h.Related)
	mux.HandleFunc("GET /api/v3/referrals/{id}/locations", h.Locations)
	mux.HandleFunc("GET /api/v3/referrals/{id}/records", h.Records)
	mux.HandleFunc("GET /api/v3/referrals/{id}/notes", h.Notes)
	mux.HandleFunc("GET /api/v3/referrals/{id}/conditions", h.Conditions)
	mux.HandleFunc("GET /api/v3/referrals/{id}/tasks", h.Tasks)
}

// parseID extracts and validates the {id} path value. A nil return means the
// error response has already been written.
func (h *ReferralsHandler) parseID(w http.ResponseWriter, r *http.Request) *uuid.UUID {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, codeInvalidID, "Invalid referral ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil
	}
	return &id
}

func (h *ReferralsHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		if err := ErrorResponse(w, http.StatusNotFound, codeNotFound, "Referral not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	h.logger.Error("Failed to load referral resource", zap.Error(err))
	if err := ErrorResponse(w, http.StatusInternalServerError, codeInternal, "Failed to load referral"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// List handles GET /api/v3/referrals
// Returns the most recently created current referrals.
func (h *ReferralsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			if err := ErrorResponse(w, http.StatusBadRequest, codeInvalidLimit, "Limit must be between 1 and 100"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = n
	}

	referrals, err := h.referralRepo.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, referrals); err != nil {
		h.logger.Error("Failed to encode referrals response", zap.Error(err))
	}
}

// Get handles GET /api/v3/referrals/{id}
func (h *ReferralsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	referral, err := h.referralRepo.Get(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, referral); err != nil {
		h.logger.Error("Failed to encode referral response", zap.Error(err))
	}
}

// Related handles GET /api/v3/referrals/{id}/related
func (h *ReferralsHandler) Related(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	related, err := h.referralRepo.ListRelated(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, related); err != nil {
		h.logger.Error("Failed to encode related referrals response", zap.Error(err))
	}
}

// Locations handles GET /api/v3/referrals/{id}/locations
func (h *ReferralsHandler) Locations(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	locations, err := h.locationRepo.ListByReferral(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, locations); err != nil {
		h.logger.Error("Failed to encode locations response", zap.Error(err))
	}
}

// Records handles GET /api/v3/referrals/{id}/records
func (h *ReferralsHandler) Records(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	records, err := h.recordRepo.ListByReferral(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, records); err != nil {
		h.logger.Error("Failed to encode records response", zap.Error(err))
	}
}

// Notes handles GET /api/v3/referrals/{id}/notes
func (h *ReferralsHandler) Notes(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	notes, err := h.recordRepo.ListNotesByReferral(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, notes); err != nil {
		h.logger.Error("Failed to encode notes response", zap.Error(err))
	}
}

// Conditions handles GET /api/v3/referrals/{id}/conditions
func (h *ReferralsHandler) Conditions(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	conditions, err := h.condRepo.ListByReferral(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, conditions); err != nil {
		h.logger.Error("Failed to encode conditions response", zap.Error(err))
	}
}

// Tasks handles GET /api/v3/referrals/{id}/tasks
func (h *ReferralsHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	id := h.parseID(w, r)
	if id == nil {
		return
	}
	tasks, err := h.taskRepo.ListByReferral(r.Context(), *id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, tasks); err != nil {
		h.logger.Error("Failed to encode tasks response", zap.Error(err))
	}
}
