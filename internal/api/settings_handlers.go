package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/data"
)

// maskedPassword is what the API returns instead of the stored SMTP
// password. A POST carrying it back means "keep the stored one".
const maskedPassword = "********"

type EmailSettingsStore interface {
	Get(ctx context.Context) (*data.EmailSettings, error)
	Update(ctx context.Context, s *data.EmailSettings) error
}

type DetectionSettingsStore interface {
	ListAll(ctx context.Context) ([]data.DetectionSetting, error)
	Get(ctx context.Context, key string) (*data.DetectionSetting, error)
	UpdateValue(ctx context.Context, key string, value float64) error
}

// SettingsHandler serves the operator-tunable configuration: SMTP settings
// and the live detection knobs.
type SettingsHandler struct {
	Email     EmailSettingsStore
	Detection DetectionSettingsStore
	Live      *camconfig.Settings
}

// GET /api/settings
func (h *SettingsHandler) GetEmailSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Email.Get(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	out := *settings
	if out.SMTPPass != "" {
		out.SMTPPass = maskedPassword
	}
	respondJSON(w, http.StatusOK, out)
}

// POST /api/settings
func (h *SettingsHandler) UpdateEmailSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SMTPHost        string `json:"smtp_host"`
		SMTPPort        int    `json:"smtp_port"`
		SMTPUser        string `json:"smtp_user"`
		SMTPPass        string `json:"smtp_pass"`
		SMTPFrom        string `json:"smtp_from"`
		EnableAutoEmail bool   `json:"enable_auto_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SMTPHost == "" || req.SMTPFrom == "" {
		respondError(w, http.StatusBadRequest, "smtp_host and smtp_from are required")
		return
	}
	if req.SMTPPort <= 0 || req.SMTPPort > 65535 {
		respondError(w, http.StatusBadRequest, "smtp_port out of range")
		return
	}

	settings := data.EmailSettings{
		SMTPHost:        req.SMTPHost,
		SMTPPort:        req.SMTPPort,
		SMTPUser:        req.SMTPUser,
		SMTPPass:        req.SMTPPass,
		SMTPFrom:        req.SMTPFrom,
		EnableAutoEmail: req.EnableAutoEmail,
	}

	// An empty or masked password keeps the stored secret, so the settings
	// form can round-trip without ever holding it.
	if req.SMTPPass == "" || req.SMTPPass == maskedPassword {
		current, err := h.Email.Get(r.Context())
		if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusInternalServerError, "failed to load current settings")
			return
		}
		if current != nil {
			settings.SMTPPass = current.SMTPPass
		} else {
			settings.SMTPPass = ""
		}
	}

	if err := h.Email.Update(r.Context(), &settings); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration successfully saved and applied.",
	})
}

// GET /api/detection-settings
func (h *SettingsHandler) ListDetectionSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Detection.ListAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load detection settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// POST /api/detection-settings
//
// Accepts the full knob list; each value is validated against its stored
// bounds before anything is written, so one bad entry rejects the batch.
func (h *SettingsHandler) UpdateDetectionSettings(w http.ResponseWriter, r *http.Request) {
	var req []struct {
		Key   string  `json:"key"`
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req) == 0 {
		respondError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	for _, item := range req {
		stored, err := h.Detection.Get(r.Context(), item.Key)
		if err != nil {
			if errors.Is(err, data.ErrRecordNotFound) {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown setting %q", item.Key))
				return
			}
			respondError(w, http.StatusInternalServerError, "failed to validate settings")
			return
		}
		if stored.MinValue != nil && item.Value < *stored.MinValue {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("%s below minimum %g", item.Key, *stored.MinValue))
			return
		}
		if stored.MaxValue != nil && item.Value > *stored.MaxValue {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("%s above maximum %g", item.Key, *stored.MaxValue))
			return
		}
	}

	for _, item := range req {
		if err := h.Detection.UpdateValue(r.Context(), item.Key, item.Value); err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save %s", item.Key))
			return
		}
		if h.Live != nil {
			h.Live.Set(item.Key, item.Value)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Detection settings updated.",
	})
}
