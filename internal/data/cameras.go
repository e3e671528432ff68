package data

import (
	"context"
	"database/sql"
	"fmt"
)

// Camera is one RTSP/RTSPS source. Area carries the ROI configuration as
// either an inline JSON document or the name of an object-storage file;
// callers decide which shape they are looking at.
type Camera struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	IPAddress string  `json:"ip_address"`
	Port      int     `json:"port"`
	Token     string  `json:"token"`
	Location  *string `json:"location,omitempty"`
	Area      *string `json:"area,omitempty"`
	Enabled   bool    `json:"enabled"`
}

// StreamURL builds the primary rtsps URL for the camera.
func (c *Camera) StreamURL() string {
	return fmt.Sprintf("rtsps://%s:%d/%s?enableSrtp", c.IPAddress, c.Port, c.Token)
}

// FallbackURL builds the plain-rtsp fallback on port+6.
func (c *Camera) FallbackURL() string {
	return fmt.Sprintf("rtsp://%s:%d/%s", c.IPAddress, c.Port+6, c.Token)
}

type CameraModel struct {
	DB DBTX
}

func (m CameraModel) ListEnabled(ctx context.Context) ([]Camera, error) {
	query := `
		SELECT id, name, ip_address, port, token, location, area, enabled
		FROM cctv_data
		WHERE enabled = true
		ORDER BY id ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cams []Camera
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.IPAddress, &c.Port, &c.Token, &c.Location, &c.Area, &c.Enabled); err != nil {
			return nil, err
		}
		cams = append(cams, c)
	}
	return cams, rows.Err()
}

func (m CameraModel) GetByID(ctx context.Context, id int64) (*Camera, error) {
	query := `
		SELECT id, name, ip_address, port, token, location, area, enabled
		FROM cctv_data
		WHERE id = $1`

	var c Camera
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.IPAddress, &c.Port, &c.Token, &c.Location, &c.Area, &c.Enabled,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}
