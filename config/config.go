// Package config reads the process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr  string
	Debug bool

	StorageConnectionString string
	StagesTable             string
	VisitsTable             string
	HistoryTable            string
	ViewsTable              string
	ServicesTable           string
	TriggersTable           string
	DeliveriesTable         string
	NotifyQueue             string

	RedisConnectionString string
	BoardCacheTTL         time.Duration
	MoveGuardTTL          time.Duration

	// Auth0 settings for staff tokens. LocalAuthSecret switches the
	// verifier to HS256 for development and tests.
	Auth0Audience   string
	Auth0Domain     string
	LocalAuthSecret string

	// SMTP - empty host leaves mail delivery disabled.
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	SalonName     string
	NotifyWorkers int
	NotifyBuffer  int
}

func Load() Config {
	debug, _ := strconv.ParseBool(os.Getenv("DEBUG"))
	addr := getenv("API_ADDR", ":8080")
	if port, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		addr = ":" + port
	}
	return Config{
		Addr:  addr,
		Debug: debug,

		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		StagesTable:             getenv("STAGES_TABLE", "stages"),
		VisitsTable:             getenv("VISITS_TABLE", "visits"),
		HistoryTable:            getenv("HISTORY_TABLE", "visithistory"),
		ViewsTable:              getenv("VIEWS_TABLE", "boardviews"),
		ServicesTable:           getenv("SERVICES_TABLE", "services"),
		TriggersTable:           getenv("TRIGGERS_TABLE", "notificationtriggers"),
		DeliveriesTable:         getenv("DELIVERIES_TABLE", "notificationdeliveries"),
		NotifyQueue:             getenv("NOTIFY_QUEUE", "stage-events"),

		RedisConnectionString: os.Getenv("REDIS_CONNECTION_STRING"),
		BoardCacheTTL:         getenvDuration("BOARD_CACHE_TTL", 30*time.Second),
		MoveGuardTTL:          getenvDuration("MOVE_GUARD_TTL", 10*time.Second),

		Auth0Audience:   os.Getenv("AUTH0_AUDIENCE"),
		Auth0Domain:     os.Getenv("AUTH0_DOMAIN"),
		LocalAuthSecret: os.Getenv("LOCAL_AUTH_SECRET"),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Pawboard"),

		SalonName:     getenv("SALON_NAME", "the salon"),
		NotifyWorkers: getenvInt("NOTIFY_WORKERS", 4),
		NotifyBuffer:  getenvInt("NOTIFY_BUFFER", 256),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
