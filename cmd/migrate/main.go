package main

import (
	"flag"
	"log"

	"github.com/ytarchiver/channel-archiver/internal/config"
	"github.com/ytarchiver/channel-archiver/internal/db"
)

func main() {
	var (
		dbURL          string
		migrationsPath string
		direction      string
		steps          int
	)

	flag.StringVar(&dbURL, "db", "", "Database URL (defaults to the database section of the config)")
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (defaults to database.migrationspath)")
	flag.StringVar(&direction, "direction", "up", "Migration direction: up or down")
	flag.IntVar(&steps, "steps", 0, "Number of steps to migrate (0 means all)")
	flag.Parse()

	if dbURL == "" || migrationsPath == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if dbURL == "" {
			dbURL = cfg.Database.URL()
		}
		if migrationsPath == "" {
			migrationsPath = cfg.Database.MigrationsPath
		}
	}

	switch direction {
	case "up":
		version, err := db.Migrate(dbURL, migrationsPath, steps)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("Migration completed successfully (version: %d)", version)
	case "down":
		if steps > 0 {
			version, err := db.Migrate(dbURL, migrationsPath, -steps)
			if err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			log.Printf("Rolled back %d step(s) (version: %d)", steps, version)
			return
		}
		if err := db.MigrateDown(dbURL, migrationsPath); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("All migrations rolled back")
	default:
		log.Fatalf("Invalid direction: %s (must be 'up' or 'down')", direction)
	}
}
