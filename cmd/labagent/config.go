package main

import (
	"log"
	"strconv"
	"time"

	"github.com/ad/go-techlabs-agent/internal/models"
)

type config struct {
	Identity         *models.Identity
	DBPath           string
	APIBaseURL       string
	ListenAddr       string
	SyncTimeout      time.Duration
	AutosaveInterval time.Duration
	ProbeInterval    time.Duration
	StartOnline      bool
	BotToken         string
	NotifyChatID     int64
}

func loadConfig(getenv func(string) string) config {
	cfg := config{
		DBPath:           stringOr(getenv("DB_PATH"), "labs.db"),
		APIBaseURL:       stringOr(getenv("API_BASE_URL"), "http://localhost:3000/api"),
		ListenAddr:       stringOr(getenv("LISTEN_ADDR"), "127.0.0.1:8765"),
		SyncTimeout:      durationOr("SYNC_TIMEOUT", getenv("SYNC_TIMEOUT"), 10*time.Second),
		AutosaveInterval: durationOr("AUTOSAVE_INTERVAL", getenv("AUTOSAVE_INTERVAL"), 30*time.Second),
		ProbeInterval:    durationOr("PROBE_INTERVAL", getenv("PROBE_INTERVAL"), 15*time.Second),
		StartOnline:      true,
		BotToken:         getenv("BOT_TOKEN"),
	}

	if userIDStr := getenv("USER_ID"); userIDStr != "" {
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			log.Printf("[CONFIG] Invalid USER_ID %q, running without identity", userIDStr)
		} else {
			cfg.Identity = &models.Identity{
				ID:       userID,
				Username: getenv("USERNAME"),
				Email:    getenv("EMAIL"),
			}
		}
	}

	if onlineStr := getenv("START_ONLINE"); onlineStr != "" {
		online, err := strconv.ParseBool(onlineStr)
		if err != nil {
			log.Printf("[CONFIG] Invalid START_ONLINE %q, using true", onlineStr)
		} else {
			cfg.StartOnline = online
		}
	}

	if chatIDStr := getenv("NOTIFY_CHAT_ID"); chatIDStr != "" {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			log.Printf("[CONFIG] Invalid NOTIFY_CHAT_ID %q, Telegram notifications disabled", chatIDStr)
		} else {
			cfg.NotifyChatID = chatID
		}
	}

	return cfg
}

// telegramEnabled reports whether badge notifications go to Telegram.
func (c config) telegramEnabled() bool {
	return c.BotToken != "" && c.NotifyChatID != 0
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func durationOr(name, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("[CONFIG] Invalid %s %q, using %s", name, value, fallback)
		return fallback
	}
	return d
}
