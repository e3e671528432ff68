package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// ViolationEvent is one recorded incident. Image holds the public evidence URL.
type ViolationEvent struct {
	ID          int64     `json:"id"`
	CctvID      int64     `json:"id_cctv"`
	ViolationID int64     `json:"id_violation"`
	Image       string    `json:"image"`
	Timestamp   time.Time `json:"timestamp"`
}

// ViolationDetail is the joined shape used by notification and recap paths.
type ViolationDetail struct {
	ViolationID   int64     `json:"violation_id"`
	Timestamp     time.Time `json:"timestamp"`
	CctvID        int64     `json:"cctv_id"`
	CctvName      string    `json:"cctv_name"`
	Location      *string   `json:"location"`
	ViolationName string    `json:"violation_name"`
	ImageURL      string    `json:"image_url"`
}

type ViolationModel struct {
	DB DBTX
}

// Insert records a violation and returns its id.
func (m ViolationModel) Insert(ctx context.Context, cctvID, classID int64, imageURL string, ts time.Time) (int64, error) {
	query := `
		INSERT INTO violation_detection (id_cctv, id_violation, image, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	if err := m.DB.QueryRowContext(ctx, query, cctvID, classID, imageURL, ts).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetDetail resolves one event joined with its camera and class for the
// notification path.
func (m ViolationModel) GetDetail(ctx context.Context, violationID int64) (*ViolationDetail, error) {
	query := `
		SELECT
			vd.id, vd.timestamp, vd.image,
			cd.id, cd.name, cd.location,
			oc.name
		FROM violation_detection vd
		JOIN cctv_data cd ON vd.id_cctv = cd.id
		JOIN object_class oc ON vd.id_violation = oc.id
		WHERE vd.id = $1`

	var d ViolationDetail
	err := m.DB.QueryRowContext(ctx, query, violationID).Scan(
		&d.ViolationID, &d.Timestamp, &d.ImageURL,
		&d.CctvID, &d.CctvName, &d.Location,
		&d.ViolationName,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDetailsForUser returns the violations on the user's cameras in
// [start, end), newest first, optionally narrowed to cameraIDs.
func (m ViolationModel) ListDetailsForUser(ctx context.Context, userID int64, start, end time.Time, cameraIDs []int64) ([]ViolationDetail, error) {
	query := `
		SELECT
			vd.id, vd.timestamp,
			cd.id, cd.name, cd.location,
			oc.name, vd.image
		FROM violation_detection vd
		JOIN cctv_data cd ON vd.id_cctv = cd.id
		JOIN object_class oc ON vd.id_violation = oc.id
		JOIN user_cctv_map ucm ON cd.id = ucm.cctv_id
		WHERE ucm.user_id = $1
		  AND vd.timestamp >= $2
		  AND vd.timestamp < $3`
	args := []any{userID, start, end}

	if len(cameraIDs) > 0 {
		query += ` AND vd.id_cctv = ANY($4)`
		args = append(args, pq.Array(cameraIDs))
	}
	query += ` ORDER BY vd.timestamp DESC`

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []ViolationDetail
	for rows.Next() {
		var d ViolationDetail
		if err := rows.Scan(&d.ViolationID, &d.Timestamp, &d.CctvID, &d.CctvName, &d.Location, &d.ViolationName, &d.ImageURL); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// UpsertDailyRollup increments the per-day counter for one new event.
func (m ViolationModel) UpsertDailyRollup(ctx context.Context, logDate time.Time, cctvID, classID int64, ts time.Time) error {
	query := `
		INSERT INTO violation_daily_log (log_date, id_cctv, id_violation, total_violation, latest_update)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (log_date, id_cctv, id_violation) DO UPDATE SET
			total_violation = violation_daily_log.total_violation + 1,
			latest_update = EXCLUDED.latest_update`

	_, err := m.DB.ExecContext(ctx, query, logDate, cctvID, classID, ts)
	return err
}

// MaterializeDailyRollup rebuilds today's rollup rows from the raw events.
// Idempotent within a day: the counter is replaced, not incremented, so the
// hourly job can replay without double-counting.
func (m ViolationModel) MaterializeDailyRollup(ctx context.Context, day time.Time) error {
	query := `
		INSERT INTO violation_daily_log (log_date, id_cctv, id_violation, total_violation, latest_update)
		SELECT DATE(vd.timestamp), vd.id_cctv, vd.id_violation, COUNT(*), MAX(vd.timestamp)
		FROM violation_detection vd
		WHERE DATE(vd.timestamp) = $1
		GROUP BY DATE(vd.timestamp), vd.id_cctv, vd.id_violation
		ON CONFLICT (log_date, id_cctv, id_violation) DO UPDATE SET
			total_violation = EXCLUDED.total_violation,
			latest_update = EXCLUDED.latest_update`

	_, err := m.DB.ExecContext(ctx, query, day)
	return err
}

// ListOlderThan returns events past the retention cutoff for cleanup.
func (m ViolationModel) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]ViolationEvent, error) {
	query := `
		SELECT id, id_cctv, id_violation, image, timestamp
		FROM violation_detection
		WHERE timestamp < $1
		ORDER BY timestamp ASC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ViolationEvent
	for rows.Next() {
		var e ViolationEvent
		if err := rows.Scan(&e.ID, &e.CctvID, &e.ViolationID, &e.Image, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (m ViolationModel) DeleteByID(ctx context.Context, id int64) error {
	_, err := m.DB.ExecContext(ctx, `DELETE FROM violation_detection WHERE id = $1`, id)
	return err
}

type ViolationConfigModel struct {
	DB DBTX
}

// ActiveMap returns cctv_id -> set of class ids the operator has activated.
func (m ViolationConfigModel) ActiveMap(ctx context.Context) (map[int64][]int64, error) {
	query := `
		SELECT cctv_id, class_id
		FROM cctv_violation_config
		WHERE is_active = true`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := make(map[int64][]int64)
	for rows.Next() {
		var cctvID, classID int64
		if err := rows.Scan(&cctvID, &classID); err != nil {
			return nil, err
		}
		active[cctvID] = append(active[cctvID], classID)
	}
	return active, rows.Err()
}
