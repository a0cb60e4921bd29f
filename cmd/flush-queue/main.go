package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/db"
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/ad/go-techlabs-agent/internal/remote"
	"github.com/ad/go-techlabs-agent/internal/services"
	_ "github.com/joho/godotenv/autoload"
	_ "modernc.org/sqlite"
)

func main() {
	if !flush() {
		os.Exit(1)
	}
}

// flush drains the user's outbox once and reports whether every entry was sent.
func flush() bool {
	userID, err := strconv.ParseInt(os.Getenv("USER_ID"), 10, 64)
	if err != nil || userID <= 0 {
		log.Fatalf("USER_ID environment variable is required")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "labs.db"
	}
	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000/api"
	}

	database, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := db.InitSchema(database); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	dbQueue := db.NewDBQueue(database)
	defer dbQueue.Close()

	outboxRepo := db.NewOutboxRepository(dbQueue)
	identity := &models.Identity{ID: userID}
	client := remote.NewClient(baseURL, remote.DefaultTimeout)
	monitor := connectivity.NewMonitor(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	before, err := outboxRepo.CountByUser(ctx, userID)
	if err != nil {
		log.Fatalf("Failed to count pending entries: %v", err)
	}
	log.Printf("Pending for user %d: %d progress, %d badge awards", userID, before[db.OutboxKindProgress], before[db.OutboxKindBadgeAward])

	progressStore := services.NewProgressStore(identity, db.NewProgressRepository(dbQueue), outboxRepo, client, nil, monitor)
	achievementEngine := services.NewAchievementEngine(identity, services.MustDefaultBadgeCatalog(), db.NewBadgeRepository(dbQueue), outboxRepo, client, nil, nil, monitor)

	if err := progressStore.LoadCached(ctx); err != nil {
		log.Fatalf("Failed to load cached progress: %v", err)
	}

	progress := progressStore.SyncOfflineProgress(ctx)
	log.Printf("Progress: %d attempted, %d synced, %d failed", progress.Attempted, progress.Synced, progress.Failed)

	badges := achievementEngine.SyncPendingAwards(ctx)
	log.Printf("Badge awards: %d attempted, %d synced, %d failed", badges.Attempted, badges.Synced, badges.Failed)

	after, err := outboxRepo.CountByUser(ctx, userID)
	if err != nil {
		log.Fatalf("Failed to count pending entries: %v", err)
	}
	log.Printf("Still pending: %d progress, %d badge awards", after[db.OutboxKindProgress], after[db.OutboxKindBadgeAward])

	return progress.Failed == 0 && badges.Failed == 0
}
