package data

import (
	"context"
	"database/sql"
)

// ObjectClass is one detectable category, e.g. "helmet" or "no-helmet".
// PairID links the positive class to its "no-" counterpart and back.
type ObjectClass struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ColorR      *int16 `json:"color_r"`
	ColorG      *int16 `json:"color_g"`
	ColorB      *int16 `json:"color_b"`
	IsViolation bool   `json:"is_violation"`
	PairID      *int64 `json:"pair_id,omitempty"`
}

type ObjectClassModel struct {
	DB DBTX
}

func (m ObjectClassModel) ListAll(ctx context.Context) ([]ObjectClass, error) {
	query := `
		SELECT id, name, color_r, color_g, color_b, is_violation, pair_id
		FROM object_class
		ORDER BY id ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []ObjectClass
	for rows.Next() {
		var c ObjectClass
		if err := rows.Scan(&c.ID, &c.Name, &c.ColorR, &c.ColorG, &c.ColorB, &c.IsViolation, &c.PairID); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

func (m ObjectClassModel) GetByID(ctx context.Context, id int64) (*ObjectClass, error) {
	query := `
		SELECT id, name, color_r, color_g, color_b, is_violation, pair_id
		FROM object_class
		WHERE id = $1`

	var c ObjectClass
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.ColorR, &c.ColorG, &c.ColorB, &c.IsViolation, &c.PairID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}
