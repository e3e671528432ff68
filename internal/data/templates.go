package data

import (
	"context"
	"database/sql"
)

type EmailTemplate struct {
	ID              int64  `json:"id"`
	TemplateKey     string `json:"template_key"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
	IsActive        bool   `json:"is_active"`
}

type EmailTemplateModel struct {
	DB DBTX
}

// GetByKey returns the active template for a key.
func (m EmailTemplateModel) GetByKey(ctx context.Context, key string) (*EmailTemplate, error) {
	query := `
		SELECT id, template_key, subject_template, body_template, is_active
		FROM email_templates
		WHERE template_key = $1 AND is_active = true
		LIMIT 1`

	var t EmailTemplate
	err := m.DB.QueryRowContext(ctx, query, key).Scan(
		&t.ID, &t.TemplateKey, &t.SubjectTemplate, &t.BodyTemplate, &t.IsActive,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (m EmailTemplateModel) Upsert(ctx context.Context, key, subject, body string) error {
	query := `
		INSERT INTO email_templates (template_key, subject_template, body_template, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (template_key) DO UPDATE SET
			subject_template = EXCLUDED.subject_template,
			body_template = EXCLUDED.body_template,
			is_active = true`

	_, err := m.DB.ExecContext(ctx, query, key, subject, body)
	return err
}

func (m EmailTemplateModel) ListKeys(ctx context.Context) ([]string, error) {
	query := `
		SELECT template_key
		FROM email_templates
		WHERE is_active = true
		ORDER BY template_key ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
