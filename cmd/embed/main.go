package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/recallmesh/recallmesh/pkg/common/config"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
)

var (
	tenantFlag = flag.String("tenant", "", "Backfill a single tenant (default: all tenants)")
	limitFlag  = flag.Int("limit", 500, "Maximum messages to queue per run")
	dryRunFlag = flag.Bool("dry-run", false, "Report what would be queued without queueing")
	statsFlag  = flag.Bool("stats", false, "Print job queue counts and exit")
)

// main requeues embedding work for messages that never got a vector:
// rows still pending after a crash, or failed past their retry budget.
// It only queues; a running worker does the embedding.
func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewStandardLogger("embed").
		WithLevel(observability.ParseLogLevel(cfg.Logging.Level))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dbConfig := database.NewConfig()
	dbConfig.DSN = cfg.Database.URL
	db, err := database.NewDatabase(ctx, dbConfig, logger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	repos := repository.New(db, logger)

	if *statsFlag {
		counts, err := repos.Jobs.CountByStatus(ctx)
		if err != nil {
			log.Fatalf("Failed to count jobs: %v", err)
		}
		for _, status := range []string{models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed} {
			fmt.Printf("%-10s %d\n", status, counts[status])
		}
		return
	}

	messages, err := repos.Messages.ListUnembedded(ctx, *tenantFlag, *limitFlag)
	if err != nil {
		log.Fatalf("Failed to list unembedded messages: %v", err)
	}
	if len(messages) == 0 {
		fmt.Println("Nothing to backfill")
		return
	}

	if *dryRunFlag {
		perTenant := map[string]int{}
		for _, msg := range messages {
			perTenant[msg.TenantID]++
		}
		fmt.Printf("Would queue %d messages:\n", len(messages))
		for tenant, n := range perTenant {
			fmt.Printf("  %-20s %d\n", tenant, n)
		}
		return
	}

	queued := 0
	for _, msg := range messages {
		if _, err := repos.Jobs.Enqueue(ctx, msg.ID); err != nil {
			logger.Error("Failed to enqueue message", map[string]interface{}{
				"message_id": msg.ID.String(),
				"error":      err.Error(),
			})
			continue
		}
		if err := repos.Messages.SetEmbeddingStatus(ctx, msg.ID, models.EmbeddingStatusPending); err != nil {
			logger.Warn("Failed to reset embedding status", map[string]interface{}{
				"message_id": msg.ID.String(),
				"error":      err.Error(),
			})
		}
		queued++
	}

	fmt.Printf("Queued %d of %d messages for embedding\n", queued, len(messages))
	if queued < len(messages) {
		os.Exit(1)
	}
}
