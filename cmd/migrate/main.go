package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/recallmesh/recallmesh/pkg/migrations"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

const defaultMigrationsPath = "migrations/sql"

var (
	upFlag      = flag.Bool("up", false, "Apply all pending migrations")
	downFlag    = flag.Bool("down", false, "Roll back all migrations")
	versionFlag = flag.Bool("version", false, "Show current schema version")
	forceFlag   = flag.Int("force", -1, "Force schema version without running migrations")
	stepsFlag   = flag.Int("steps", 0, "Apply n migrations up, or -n down")

	dsn           = flag.String("dsn", os.Getenv("MEMORY_DATABASE_URL"), "Database connection string")
	migrationsDir = flag.String("dir", defaultMigrationsPath, "Migrations directory")
	timeout       = flag.Duration("timeout", time.Minute, "Migration timeout")
)

func main() {
	flag.Parse()

	if *dsn == "" {
		log.Fatal("No database connection string: pass -dsn or set MEMORY_DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqlx.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	runner, err := migrations.NewRunner(db, migrations.Config{
		Path:    *migrationsDir,
		Timeout: *timeout,
	}, observability.NewLogger("migrate"))
	if err != nil {
		log.Fatalf("Failed to initialize migration runner: %v", err)
	}
	defer runner.Close()

	switch {
	case *versionFlag:
		version, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		fmt.Printf("Current schema version: %d (dirty: %t)\n", version, dirty)

	case *forceFlag >= 0:
		if err := runner.Force(*forceFlag); err != nil {
			log.Fatalf("Failed to force version %d: %v", *forceFlag, err)
		}
		fmt.Printf("Schema version forced to %d\n", *forceFlag)

	case *stepsFlag != 0:
		if err := runner.Steps(ctx, *stepsFlag); err != nil {
			log.Fatalf("Failed to apply %d migration steps: %v", *stepsFlag, err)
		}
		fmt.Printf("Applied %d migration steps\n", *stepsFlag)

	case *upFlag:
		start := time.Now()
		if err := runner.Up(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migrations applied in %s\n", time.Since(start).Round(time.Millisecond))

	case *downFlag:
		if err := runner.Down(ctx); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		fmt.Println("All migrations rolled back")

	default:
		flag.Usage()
		os.Exit(1)
	}
}
