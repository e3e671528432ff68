package data

import (
	"context"
)

// ScheduleWindow is one weekly activation row. DayOfWeek uses the schema
// encoding 0=Sunday .. 6=Saturday. Times are wall-clock strings "HH:MM:SS"
// in the schedule timezone; midnight crossings are stored pre-split.
type ScheduleWindow struct {
	ID        int64  `json:"id"`
	CctvID    int64  `json:"cctv_id"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsActive  bool   `json:"is_active"`
}

type ScheduleModel struct {
	DB DBTX
}

// IsActiveNow reports whether any active window for the camera on the given
// day contains the given clock time ("HH:MM:SS").
func (m ScheduleModel) IsActiveNow(ctx context.Context, cctvID int64, dayOfWeek int, clock string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM cctv_scheduler
			WHERE cctv_id = $1
			  AND day_of_week = $2
			  AND is_active = true
			  AND start_time <= $3
			  AND end_time >= $3
		)`

	var active bool
	if err := m.DB.QueryRowContext(ctx, query, cctvID, dayOfWeek, clock).Scan(&active); err != nil {
		return false, err
	}
	return active, nil
}

func (m ScheduleModel) ListForCamera(ctx context.Context, cctvID int64) ([]ScheduleWindow, error) {
	query := `
		SELECT id, cctv_id, day_of_week, start_time, end_time, is_active
		FROM cctv_scheduler
		WHERE cctv_id = $1
		ORDER BY day_of_week, start_time`

	rows, err := m.DB.QueryContext(ctx, query, cctvID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []ScheduleWindow
	for rows.Next() {
		var w ScheduleWindow
		if err := rows.Scan(&w.ID, &w.CctvID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.IsActive); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}
