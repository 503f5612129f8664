package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"pawboard-api/api"
	"pawboard-api/board"
	"pawboard-api/config"
	"pawboard-api/domain"
	"pawboard-api/notify"
	"pawboard-api/storage"
)

// eventFanout delivers stage-changed events to both the persistent queue
// and the in-process notification dispatcher.
type eventFanout struct {
	sinks []board.Events
}

func (f eventFanout) StageChanged(ctx context.Context, ev domain.StageChangedEvent) error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := sink.StageChanged(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func main() {
	cfg := config.Load()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if cfg.StorageConnectionString == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(cfg.StorageConnectionString, storage.TableNames{
		Stages:     cfg.StagesTable,
		Visits:     cfg.VisitsTable,
		History:    cfg.HistoryTable,
		Views:      cfg.ViewsTable,
		Services:   cfg.ServicesTable,
		Triggers:   cfg.TriggersTable,
		Deliveries: cfg.DeliveriesTable,
	}, cfg.NotifyQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	if cfg.RedisConnectionString == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(cfg.RedisConnectionString)
	if err != nil {
		parts := strings.Split(cfg.RedisConnectionString, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)
	cache := storage.NewCache(store, rc, cfg.BoardCacheTTL)

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	dispatcher := notify.NewDispatcher(notify.Config{
		Workers:   cfg.NotifyWorkers,
		Buffer:    cfg.NotifyBuffer,
		SalonName: cfg.SalonName,
	}, store, mailer, logger)
	dispatcher.Start()
	defer dispatcher.Close()

	engine := board.NewEngine(cache, eventFanout{sinks: []board.Events{store, dispatcher}}, logger)

	var auth *api.Auth
	if cfg.LocalAuthSecret != "" {
		issuer := ""
		if cfg.Auth0Domain != "" {
			issuer = "https://" + cfg.Auth0Domain + "/"
		}
		auth = api.NewAuth(nil, cfg.Auth0Audience, issuer, api.WithLocalSecret([]byte(cfg.LocalAuthSecret)))
	} else {
		if cfg.Auth0Audience == "" || cfg.Auth0Domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	guard := api.NewRedisMoveGuard(rc, cfg.MoveGuardTTL)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, cache, engine, auth, guard, logger)

	e.Logger.Fatal(e.Start(cfg.Addr))
}
