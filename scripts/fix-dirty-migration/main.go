package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Resets a dirty golang-migrate state to the previous clean version so
// the failed migration can be retried after the underlying problem is
// fixed. Equivalent to inspecting schema_migrations by hand.
func main() {
	dsn := os.Getenv("MEMORY_DATABASE_URL")
	if dsn == "" {
		log.Fatal("MEMORY_DATABASE_URL environment variable not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	var version int
	var dirty bool
	err = db.QueryRow("SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Println("No migrations found in schema_migrations table")
			return
		}
		log.Fatal("Failed to query migration state:", err)
	}

	log.Printf("Current migration state - Version: %d, Dirty: %v\n", version, dirty)

	if !dirty {
		log.Println("Migration is not dirty, no action needed")
		return
	}

	log.Println("Fixing dirty migration state...")
	if _, err := db.Exec("DELETE FROM schema_migrations WHERE version = $1", version); err != nil {
		log.Fatal("Failed to delete dirty migration:", err)
	}

	newVersion := version - 1
	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES ($1, false)", newVersion); err != nil {
		log.Fatal("Failed to insert clean migration state:", err)
	}

	log.Printf("Reset migration state to version %d (clean) to retry migration %d\n", newVersion, version)
}
