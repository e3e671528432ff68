package data

import (
	"context"
	"database/sql"
)

// EmailSettings is the single-row SMTP relay configuration.
type EmailSettings struct {
	SMTPHost        string `json:"smtp_host"`
	SMTPPort        int    `json:"smtp_port"`
	SMTPUser        string `json:"smtp_user"`
	SMTPPass        string `json:"smtp_pass"`
	SMTPFrom        string `json:"smtp_from"`
	EnableAutoEmail bool   `json:"enable_auto_email"`
}

type EmailSettingsModel struct {
	DB DBTX
}

func (m EmailSettingsModel) Get(ctx context.Context) (*EmailSettings, error) {
	query := `
		SELECT smtp_host, smtp_port, smtp_user, smtp_pass, smtp_from, enable_auto_email
		FROM email_settings
		WHERE id = 1`

	var s EmailSettings
	err := m.DB.QueryRowContext(ctx, query).Scan(
		&s.SMTPHost, &s.SMTPPort, &s.SMTPUser, &s.SMTPPass, &s.SMTPFrom, &s.EnableAutoEmail,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if s.SMTPPort == 0 {
		s.SMTPPort = 587
	}
	if s.SMTPFrom == "" {
		s.SMTPFrom = s.SMTPUser
	}
	return &s, nil
}

func (m EmailSettingsModel) Update(ctx context.Context, s *EmailSettings) error {
	query := `
		INSERT INTO email_settings (id, smtp_host, smtp_port, smtp_user, smtp_pass, smtp_from, enable_auto_email)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			smtp_user = EXCLUDED.smtp_user,
			smtp_pass = EXCLUDED.smtp_pass,
			smtp_from = EXCLUDED.smtp_from,
			enable_auto_email = EXCLUDED.enable_auto_email`

	_, err := m.DB.ExecContext(ctx, query,
		s.SMTPHost, s.SMTPPort, s.SMTPUser, s.SMTPPass, s.SMTPFrom, s.EnableAutoEmail,
	)
	return err
}

// DetectionSetting is one run-time pipeline knob with its allowed range.
type DetectionSetting struct {
	Key         string   `json:"key"`
	Value       float64  `json:"value"`
	Description *string  `json:"description,omitempty"`
	MinValue    *float64 `json:"min_value,omitempty"`
	MaxValue    *float64 `json:"max_value,omitempty"`
}

type DetectionSettingsModel struct {
	DB DBTX
}

func (m DetectionSettingsModel) ListAll(ctx context.Context) ([]DetectionSetting, error) {
	query := `
		SELECT key, value, description, min_value, max_value
		FROM detection_settings
		ORDER BY key ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []DetectionSetting
	for rows.Next() {
		var s DetectionSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &s.MinValue, &s.MaxValue); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

func (m DetectionSettingsModel) Get(ctx context.Context, key string) (*DetectionSetting, error) {
	query := `
		SELECT key, value, description, min_value, max_value
		FROM detection_settings
		WHERE key = $1`

	var s DetectionSetting
	err := m.DB.QueryRowContext(ctx, query, key).Scan(&s.Key, &s.Value, &s.Description, &s.MinValue, &s.MaxValue)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (m DetectionSettingsModel) UpdateValue(ctx context.Context, key string, value float64) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE detection_settings SET value = $2 WHERE key = $1`, key, value)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
