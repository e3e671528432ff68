package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/technosupport/ppe-sentinel/internal/auth"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbname := os.Getenv("DB_NAME")
	sslmode := envOr("DB_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("DB Ping Failed: %v", err)
	}

	// 1. Upsert Admin User. Re-running the seeder resets the admin
	// credentials, so it doubles as a recovery tool.
	adminUser := envOr("ADMIN_USERNAME", "admin")
	adminPass := envOr("ADMIN_PASSWORD", "admin12345")
	adminEmail := envOr("ADMIN_EMAIL", "admin@example.com")

	hash, err := auth.HashPassword(adminPass)
	if err != nil {
		log.Fatalf("Password Hash Failed: %v", err)
	}

	var adminID int64
	err = db.QueryRow(`
		INSERT INTO users (username, full_name, email, password_hash, role)
		VALUES ($1, 'System Administrator', $2, $3, 'admin')
		ON CONFLICT (username) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash
		RETURNING id`, adminUser, adminEmail, hash).Scan(&adminID)
	if err != nil {
		log.Fatalf("Admin Insert Failed: %v", err)
	}

	// 2. Upsert Object Classes. Colors follow the annotation palette; pair
	// links are applied in a second pass once both rows have IDs.
	classes := []struct {
		name      string
		r, g, b   int
		violation bool
	}{
		{"helmet", 0, 255, 0, false},
		{"no-helmet", 255, 0, 255, true},
		{"vest", 0, 255, 255, false},
		{"no-vest", 255, 255, 0, true},
	}

	classIDs := make(map[string]int64, len(classes))
	for _, c := range classes {
		var id int64
		err := db.QueryRow(`
			INSERT INTO object_class (name, color_r, color_g, color_b, is_violation)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET
				color_r = EXCLUDED.color_r,
				color_g = EXCLUDED.color_g,
				color_b = EXCLUDED.color_b,
				is_violation = EXCLUDED.is_violation
			RETURNING id`, c.name, c.r, c.g, c.b, c.violation).Scan(&id)
		if err != nil {
			log.Fatalf("Class Insert Failed for %s: %v", c.name, err)
		}
		classIDs[c.name] = id
	}

	for _, pair := range [][2]string{{"helmet", "no-helmet"}, {"vest", "no-vest"}} {
		a, b := classIDs[pair[0]], classIDs[pair[1]]
		if _, err := db.Exec(`UPDATE object_class SET pair_id = $1 WHERE id = $2`, b, a); err != nil {
			log.Fatalf("Pair Update Failed for %s: %v", pair[0], err)
		}
		if _, err := db.Exec(`UPDATE object_class SET pair_id = $1 WHERE id = $2`, a, b); err != nil {
			log.Fatalf("Pair Update Failed for %s: %v", pair[1], err)
		}
	}

	// 3. Upsert Demo Camera. Disabled so a fresh install does not spin
	// capture workers against a dead address; enabled stays whatever the
	// operator last set it to.
	fullFrameROI := `{"image_width":1920,"image_height":1080,"items":[{"type":"polygon","points":[[0,0],[1920,0],[1920,1080],[0,1080]]}]}`
	var cctvID int64
	err = db.QueryRow(`
		INSERT INTO cctv_data (name, ip_address, port, token, location, area, enabled)
		VALUES ('Demo Camera', '127.0.0.1', 7441, 'demo', 'Workshop Floor', $1, false)
		ON CONFLICT (ip_address, port, token) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			area = EXCLUDED.area
		RETURNING id`, fullFrameROI).Scan(&cctvID)
	if err != nil {
		log.Fatalf("Camera Insert Failed: %v", err)
	}

	// 4. Map Admin to Camera
	_, err = db.Exec(`
		INSERT INTO user_cctv_map (user_id, cctv_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, cctv_id) DO NOTHING`, adminID, cctvID)
	if err != nil {
		log.Fatalf("User-Camera Map Failed: %v", err)
	}

	// 5. Enable both violation classes on the demo camera
	for _, name := range []string{"no-helmet", "no-vest"} {
		_, err = db.Exec(`
			INSERT INTO cctv_violation_config (cctv_id, class_id, is_active)
			VALUES ($1, $2, true)
			ON CONFLICT (cctv_id, class_id) DO UPDATE SET is_active = true`, cctvID, classIDs[name])
		if err != nil {
			log.Fatalf("Violation Config Failed for %s: %v", name, err)
		}
	}

	// 6. Working-hours schedule, Monday through Friday. cctv_scheduler has
	// no unique constraint, so guard against duplicate rows explicitly.
	for day := 1; day <= 5; day++ {
		_, err = db.Exec(`
			INSERT INTO cctv_scheduler (cctv_id, day_of_week, start_time, end_time, is_active)
			SELECT $1, $2, '07:00:00', '17:00:00', true
			WHERE NOT EXISTS (
				SELECT 1 FROM cctv_scheduler WHERE cctv_id = $1 AND day_of_week = $2
			)`, cctvID, day)
		if err != nil {
			log.Fatalf("Schedule Insert Failed for day %d: %v", day, err)
		}
	}

	// 7. Default Email Templates. DO NOTHING on conflict so operator edits
	// survive a re-seed.
	templates := []struct {
		key, subject, body string
	}{
		{
			"ppe_violation",
			"[PPE Alert] {violation_name} at {cctv_name}",
			"<html><body>" +
				"<p>Dear {full_name},</p>" +
				"<p>A <b>{violation_name}</b> violation was detected by <b>{cctv_name}</b> ({location}) at {timestamp}.</p>" +
				"<p>The evidence snapshot is attached. Reference ID: {violation_id}.</p>" +
				"<p>This message was sent automatically by the PPE monitoring system.</p>" +
				"</body></html>",
		},
		{
			"weekly_recap",
			"[PPE Report] Weekly Violation Recap {start_date} - {end_date}",
			"<html><body>" +
				"<p>Dear {full_name},</p>" +
				"<p>Please find attached the {report_type} PPE violation report covering {start_date} to {end_date}.</p>" +
				"<p>This message was sent automatically by the PPE monitoring system.</p>" +
				"</body></html>",
		},
		{
			"monthly_recap",
			"[PPE Report] Monthly Violation Recap {start_date} - {end_date}",
			"<html><body>" +
				"<p>Dear {full_name},</p>" +
				"<p>Please find attached the {report_type} PPE violation report covering {start_date} to {end_date}.</p>" +
				"<p>This message was sent automatically by the PPE monitoring system.</p>" +
				"</body></html>",
		},
	}

	for _, t := range templates {
		_, err = db.Exec(`
			INSERT INTO email_templates (template_key, subject_template, body_template, is_active)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (template_key) DO NOTHING`, t.key, t.subject, t.body)
		if err != nil {
			log.Fatalf("Template Insert Failed for %s: %v", t.key, err)
		}
	}

	fmt.Printf("SUCCESS: DB seeded. Admin user %q, %d object classes, demo camera %d.\n", adminUser, len(classes), cctvID)
}
