package data

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCamera_URLBuilders(t *testing.T) {
	c := Camera{IPAddress: "192.168.1.50", Port: 7441, Token: "abc123"}
	assert.Equal(t, "rtsps://192.168.1.50:7441/abc123?enableSrtp", c.StreamURL())
	// the plain fallback lives six ports up on UniFi Protect gateways
	assert.Equal(t, "rtsp://192.168.1.50:7447/abc123", c.FallbackURL())
}

func TestCameraModel_ListEnabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := CameraModel{DB: db}

	loc := "Gate A"
	area := `{"image_width":1920,"image_height":1080,"items":[]}`
	rows := sqlmock.NewRows([]string{"id", "name", "ip_address", "port", "token", "location", "area", "enabled"}).
		AddRow(int64(1), "Gate", "10.0.0.5", 7441, "tok", loc, area, true).
		AddRow(int64(2), "Dock", "10.0.0.6", 7441, "tok2", nil, nil, true)

	mock.ExpectQuery("FROM cctv_data").WillReturnRows(rows)

	cams, err := m.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 2)
	assert.Equal(t, "Gate", cams[0].Name)
	require.NotNil(t, cams[0].Area)
	assert.Equal(t, area, *cams[0].Area)
	assert.Nil(t, cams[1].Location)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCameraModel_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := CameraModel{DB: db}

	mock.ExpectQuery("FROM cctv_data").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = m.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
