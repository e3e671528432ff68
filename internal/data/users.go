package data

import (
	"context"
	"database/sql"
)

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// Recipient is the (email, full_name) pair notification loops iterate over.
type Recipient struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type UserModel struct {
	DB DBTX
}

func (m UserModel) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (username, full_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			role = EXCLUDED.role
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		u.Username, u.FullName, u.Email, u.PasswordHash, u.Role,
	).Scan(&u.ID)
}

func (m UserModel) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, full_name, email, password_hash, role
		FROM users
		WHERE username = $1`

	var u User
	err := m.DB.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.FullName, &u.Email, &u.PasswordHash, &u.Role,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &u, nil
}

// RecipientsForCamera returns the users mapped to a camera for per-event mail.
func (m UserModel) RecipientsForCamera(ctx context.Context, cctvID int64) ([]Recipient, error) {
	query := `
		SELECT u.id, u.email, u.full_name
		FROM user_cctv_map ucm
		JOIN users u ON ucm.user_id = u.id
		WHERE ucm.cctv_id = $1`

	rows, err := m.DB.QueryContext(ctx, query, cctvID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.Email, &r.FullName); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// RecapRecipients returns every user that owns at least one camera.
func (m UserModel) RecapRecipients(ctx context.Context) ([]Recipient, error) {
	query := `
		SELECT DISTINCT u.id, u.email, u.full_name
		FROM users u
		JOIN user_cctv_map ucm ON u.id = ucm.user_id
		ORDER BY u.id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.Email, &r.FullName); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// MapCamera grants a user notification ownership of a camera.
func (m UserModel) MapCamera(ctx context.Context, userID, cctvID int64) error {
	query := `
		INSERT INTO user_cctv_map (user_id, cctv_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, cctv_id) DO NOTHING`

	_, err := m.DB.ExecContext(ctx, query, userID, cctvID)
	return err
}
