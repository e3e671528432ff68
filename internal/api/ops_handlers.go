package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

// Notifier is the notification surface the API exposes: manual alert resend
// and on-demand recaps.
type Notifier interface {
	NotifyViolation(ctx context.Context, violationID int64) error
	SendRecap(ctx context.Context, start, end time.Time, templateKey, reportType string,
		userIDs, cctvIDs []int64) (int, error)
}

// ConfigRefresher is any cache the refresh endpoint re-reads from the
// database.
type ConfigRefresher interface {
	Refresh(ctx context.Context) error
}

type FleetRefresher interface {
	RefreshState(ctx context.Context)
}

// ScheduleInvalidator drops cached schedule answers after an edit.
type ScheduleInvalidator interface {
	Invalidate()
}

// OpsHandler serves the operational endpoints: configuration pokes, manual
// notification sends and on-demand recaps.
type OpsHandler struct {
	Notifier   Notifier
	Refreshers []ConfigRefresher
	Fleet      FleetRefresher
	Schedule   ScheduleInvalidator
	Location   *time.Location
}

// POST /api/refresh-config
//
// Re-reads every cache and converges the fleet, so edits made directly in
// the database (cameras, ROIs, classes, schedules) apply without a restart.
func (h *OpsHandler) RefreshConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for _, ref := range h.Refreshers {
		if err := ref.Refresh(ctx); err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("refresh failed: %v", err))
			return
		}
	}
	if h.Schedule != nil {
		h.Schedule.Invalidate()
	}
	if h.Fleet != nil {
		h.Fleet.RefreshState(ctx)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration refreshed.",
	})
}

// POST /api/send-recap
func (h *OpsHandler) SendRecap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate   string  `json:"start_date"`
		EndDate     string  `json:"end_date"`
		TemplateKey string  `json:"template_key"`
		UserIDs     []int64 `json:"user_ids"`
		CctvIDs     []int64 `json:"cctv_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TemplateKey == "" {
		respondError(w, http.StatusBadRequest, "template_key is required")
		return
	}

	loc := h.Location
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation("2006-01-02", req.StartDate, loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start_date, want YYYY-MM-DD")
		return
	}
	endDay, err := time.ParseInLocation("2006-01-02", req.EndDate, loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end_date, want YYYY-MM-DD")
		return
	}
	if endDay.Before(start) {
		respondError(w, http.StatusBadRequest, "end_date before start_date")
		return
	}
	// The whole end day is included.
	end := endDay.AddDate(0, 0, 1)

	sent, err := h.Notifier.SendRecap(r.Context(), start, end,
		req.TemplateKey, reportTypeFor(req.TemplateKey), req.UserIDs, req.CctvIDs)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("template %q not found", req.TemplateKey))
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("recap failed: %v", err))
		return
	}
	if sent == 0 {
		respondJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "No violations found or email failed to send.",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Recap sent to %d recipients.", sent),
	})
}

// POST /api/send-email/{id}
func (h *OpsHandler) SendViolationEmail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid violation id")
		return
	}

	if err := h.Notifier.NotifyViolation(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "violation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("send failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Violation alert sent.",
	})
}

func reportTypeFor(templateKey string) string {
	switch templateKey {
	case "weekly_recap":
		return "Weekly"
	case "monthly_recap":
		return "Monthly"
	default:
		return "Custom"
	}
}
