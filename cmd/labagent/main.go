package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/db"
	"github.com/ad/go-techlabs-agent/internal/events"
	"github.com/ad/go-techlabs-agent/internal/handlers"
	"github.com/ad/go-techlabs-agent/internal/jobs"
	"github.com/ad/go-techlabs-agent/internal/remote"
	"github.com/ad/go-techlabs-agent/internal/services"
	"github.com/go-telegram/bot"
	_ "github.com/joho/godotenv/autoload"
	_ "modernc.org/sqlite"
)

func main() {
	cfg := loadConfig(os.Getenv)

	sqlDB, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := db.InitSchema(sqlDB); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	dbQueue := db.NewDBQueue(sqlDB)
	defer dbQueue.Close()

	progressRepo := db.NewProgressRepository(dbQueue)
	outboxRepo := db.NewOutboxRepository(dbQueue)
	badgeRepo := db.NewBadgeRepository(dbQueue)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := remote.NewClient(cfg.APIBaseURL, cfg.SyncTimeout)
	monitor := connectivity.NewMonitor(cfg.StartOnline)
	prober := connectivity.NewProber(client, monitor)
	bus := events.NewBus()

	bus.Subscribe(events.TopicBadgeEarned, func(payload any) {
		if earned, ok := payload.(events.BadgeEarned); ok {
			log.Printf("[AGENT] Badge earned: %s (+%d points)", earned.BadgeKey, earned.BadgeInfo.Points)
		}
	})

	dispatcher := services.NewNotificationDispatcher(newNotifier(cfg))

	progressStore := services.NewProgressStore(cfg.Identity, progressRepo, outboxRepo, client, bus, monitor)
	achievementEngine := services.NewAchievementEngine(cfg.Identity, services.MustDefaultBadgeCatalog(), badgeRepo, outboxRepo, client, bus, dispatcher, monitor)

	progressStore.Start(ctx)
	achievementEngine.Start(ctx)

	runner, err := jobs.NewRunner()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := progressStore.StartAutoSave(runner, cfg.AutosaveInterval); err != nil {
		log.Fatalf("Failed to schedule autosave: %v", err)
	}
	if err := runner.Every("connectivity-probe", cfg.ProbeInterval, func(ctx context.Context) {
		prober.Probe(ctx)
	}); err != nil {
		log.Fatalf("Failed to schedule connectivity probe: %v", err)
	}
	runner.Start()

	app := handlers.NewApp(handlers.NewAPI(progressStore, achievementEngine, monitor))
	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Printf("[AGENT] HTTP server stopped: %v", err)
			cancel()
		}
	}()

	log.Printf("Agent started. User: %s, DB: %s, API: %s, listening on %s",
		cfg.Identity.DisplayName(), cfg.DBPath, cfg.APIBaseURL, cfg.ListenAddr)

	<-ctx.Done()
	log.Printf("[AGENT] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("[AGENT] HTTP shutdown error: %v", err)
	}
	if err := runner.Shutdown(); err != nil {
		log.Printf("[AGENT] Scheduler shutdown error: %v", err)
	}
	progressStore.Stop(shutdownCtx)
	achievementEngine.Stop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("[AGENT] Undelivered notifications dropped: %v", err)
	}
}

func newNotifier(cfg config) services.BadgeNotifier {
	if !cfg.telegramEnabled() {
		return services.LogNotifier{}
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}
	b, err := bot.New(cfg.BotToken, bot.WithHTTPClient(15*time.Second, httpClient), bot.WithSkipGetMe())
	if err != nil {
		log.Printf("[AGENT] Failed to create bot, notifications go to the log: %v", err)
		return services.LogNotifier{}
	}
	return services.NewTelegramNotifier(b, cfg.NotifyChatID)
}
