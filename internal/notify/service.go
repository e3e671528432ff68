package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

// ViolationTemplateKey selects the per-event alert template.
const ViolationTemplateKey = "ppe_violation"

// Fallbacks keep alerts flowing when the template row was deleted.
const (
	fallbackSubject = "PPE Violation Alert - {cctv_name}"
	fallbackBody    = "<p>Dear {full_name},</p>" +
		"<p>A <b>{violation_name}</b> violation was detected on camera <b>{cctv_name}</b> ({location}) at {timestamp}.</p>" +
		"<p>The evidence image is attached.</p>"
)

type SettingsRepo interface {
	Get(ctx context.Context) (*data.EmailSettings, error)
}

type TemplateRepo interface {
	GetByKey(ctx context.Context, key string) (*data.EmailTemplate, error)
}

type RecipientRepo interface {
	RecipientsForCamera(ctx context.Context, cctvID int64) ([]data.Recipient, error)
	RecapRecipients(ctx context.Context) ([]data.Recipient, error)
}

type ViolationRepo interface {
	GetDetail(ctx context.Context, violationID int64) (*data.ViolationDetail, error)
	ListDetailsForUser(ctx context.Context, userID int64, start, end time.Time, cameraIDs []int64) ([]data.ViolationDetail, error)
}

// EvidenceFetcher pulls a stored evidence image back for attaching.
type EvidenceFetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Service owns the two notification paths: the per-event alert and the
// PDF recap. All reads go through the data layer on every send, so settings
// and template edits apply immediately.
type Service struct {
	mailer     Mailer
	settings   SettingsRepo
	templates  TemplateRepo
	recipients RecipientRepo
	violations ViolationRepo
	evidence   EvidenceFetcher
}

func NewService(mailer Mailer, settings SettingsRepo, templates TemplateRepo,
	recipients RecipientRepo, violations ViolationRepo, evidence EvidenceFetcher) *Service {

	return &Service{
		mailer:     mailer,
		settings:   settings,
		templates:  templates,
		recipients: recipients,
		violations: violations,
		evidence:   evidence,
	}
}

// NotifyViolation sends the alert for one recorded event to every user
// assigned to its camera. Per-recipient failures are logged and skipped;
// the call fails only when nothing could be delivered.
func (s *Service) NotifyViolation(ctx context.Context, violationID int64) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load email settings: %w", err)
	}

	detail, err := s.violations.GetDetail(ctx, violationID)
	if err != nil {
		return fmt.Errorf("load violation %d: %w", violationID, err)
	}

	recipients, err := s.recipients.RecipientsForCamera(ctx, detail.CctvID)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients assigned to cctv %d", detail.CctvID)
	}

	subjectTpl, bodyTpl := fallbackSubject, fallbackBody
	tpl, err := s.templates.GetByKey(ctx, ViolationTemplateKey)
	switch {
	case err == nil:
		subjectTpl, bodyTpl = tpl.SubjectTemplate, tpl.BodyTemplate
	case errors.Is(err, data.ErrRecordNotFound):
		log.Printf("[Notify] template %q missing, using fallback", ViolationTemplateKey)
	default:
		return fmt.Errorf("load template: %w", err)
	}

	var image []byte
	if detail.ImageURL != "" {
		image, err = s.evidence.Download(ctx, detail.ImageURL)
		if err != nil {
			log.Printf("[Notify] evidence download for violation %d failed: %v", violationID, err)
			image = nil
		}
	}

	location := ""
	if detail.Location != nil {
		location = *detail.Location
	}

	sent := 0
	for _, r := range recipients {
		vars := map[string]string{
			"full_name":      r.FullName,
			"cctv_name":      detail.CctvName,
			"location":       location,
			"violation_name": detail.ViolationName,
			"timestamp":      detail.Timestamp.Format("2006-01-02 15:04:05"),
			"violation_id":   strconv.FormatInt(violationID, 10),
		}
		msg := Message{
			To:       r.Email,
			ToName:   r.FullName,
			Subject:  RenderTemplate(subjectTpl, vars),
			HTMLBody: RenderTemplate(bodyTpl, vars),
		}
		if image != nil {
			msg.AttachmentName = fmt.Sprintf("violation_%d.jpg", violationID)
			msg.Attachment = image
		}
		if err := s.mailer.Send(ctx, *settings, msg); err != nil {
			log.Printf("[Notify] send to %s failed: %v", r.Email, err)
			continue
		}
		sent++
	}

	if sent == 0 {
		return fmt.Errorf("alert for violation %d reached no recipients", violationID)
	}
	log.Printf("[Notify] violation %d alert sent to %d/%d recipients", violationID, sent, len(recipients))
	return nil
}

// AutoNotify runs the alert path only when the deployment enabled automatic
// mail. Called from the violation processor, so it never returns an error;
// failures are logged.
func (s *Service) AutoNotify(ctx context.Context, violationID int64) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		log.Printf("[Notify] load email settings: %v", err)
		return
	}
	if !settings.EnableAutoEmail {
		return
	}
	if err := s.NotifyViolation(ctx, violationID); err != nil {
		log.Printf("[Notify] auto alert for violation %d: %v", violationID, err)
	}
}

// SendRecap builds and mails one PDF per recipient covering [start, end).
// userIDs filters the recap subscriber list when non-empty; cctvIDs narrows
// each user's events to the named cameras on top of their own assignment.
// Recipients with no events in the window are skipped. Returns how many
// mails went out.
func (s *Service) SendRecap(ctx context.Context, start, end time.Time, templateKey, reportType string,
	userIDs, cctvIDs []int64) (int, error) {

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("load email settings: %w", err)
	}

	tpl, err := s.templates.GetByKey(ctx, templateKey)
	if err != nil {
		return 0, fmt.Errorf("load template %q: %w", templateKey, err)
	}

	recipients, err := s.recipients.RecapRecipients(ctx)
	if err != nil {
		return 0, fmt.Errorf("load recipients: %w", err)
	}
	if len(userIDs) > 0 {
		keep := make(map[int64]struct{}, len(userIDs))
		for _, id := range userIDs {
			keep[id] = struct{}{}
		}
		filtered := recipients[:0]
		for _, r := range recipients {
			if _, ok := keep[r.UserID]; ok {
				filtered = append(filtered, r)
			}
		}
		recipients = filtered
	}

	// end is exclusive; the last covered day is one second before it.
	displayEnd := end.Add(-time.Second)
	filename := fmt.Sprintf("Laporan_PPE_%s_%s_%s.pdf",
		reportType, start.Format("20060102"), displayEnd.Format("20060102"))

	sent := 0
	for _, r := range recipients {
		details, err := s.violations.ListDetailsForUser(ctx, r.UserID, start, end, cctvIDs)
		if err != nil {
			log.Printf("[Notify] recap query for user %d failed: %v", r.UserID, err)
			continue
		}
		if len(details) == 0 {
			continue
		}

		items := make([]RecapItem, 0, len(details))
		for _, d := range details {
			item := RecapItem{Detail: d}
			if d.ImageURL != "" {
				if img, err := s.evidence.Download(ctx, d.ImageURL); err == nil {
					item.Image = img
				} else {
					log.Printf("[Notify] recap image for violation %d failed: %v", d.ViolationID, err)
				}
			}
			items = append(items, item)
		}

		pdfBytes, err := BuildRecapPDF(r.FullName, start, displayEnd, items)
		if err != nil {
			log.Printf("[Notify] recap pdf for user %d failed: %v", r.UserID, err)
			continue
		}

		vars := map[string]string{
			"full_name":   r.FullName,
			"start_date":  start.Format("2006-01-02"),
			"end_date":    displayEnd.Format("2006-01-02"),
			"report_type": reportType,
		}
		msg := Message{
			To:             r.Email,
			ToName:         r.FullName,
			Subject:        RenderTemplate(tpl.SubjectTemplate, vars),
			HTMLBody:       RenderTemplate(tpl.BodyTemplate, vars),
			AttachmentName: filename,
			Attachment:     pdfBytes,
		}
		if err := s.mailer.Send(ctx, *settings, msg); err != nil {
			log.Printf("[Notify] recap to %s failed: %v", r.Email, err)
			continue
		}
		log.Printf("[Notify] %s recap with %d events sent to %s", reportType, len(items), r.Email)
		sent++
	}
	return sent, nil
}
