// Command migrator applies the schema migrations under db/migrations using
// the same configuration file as the detection service, so both always point
// at the same database.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/technosupport/ppe-sentinel/internal/config"
)

func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "apply +n / roll back -n migrations")
	dir := flag.String("dir", "db/migrations", "migrations directory")
	flag.Parse()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("Migrate driver error: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "postgres", driver)
	if err != nil {
		log.Fatalf("Migrate init error: %v", err)
	}

	switch {
	case *up:
		run("up", m.Up())
	case *down:
		run("down", m.Down())
	case *steps != 0:
		log.Printf("Applying %d migration steps", *steps)
		run("steps", m.Steps(*steps))
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Println("No migration version recorded (empty database?). Use -up, -down or -steps.")
			return
		}
		log.Printf("Current version: %d, dirty: %v", version, dirty)
	}
}

func run(what string, err error) {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migration %s failed: %v", what, err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Printf("Migration %s: nothing to do", what)
		return
	}
	log.Printf("Migration %s completed", what)
}
