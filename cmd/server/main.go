package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillhubio/shield/internal/config"
	"github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/infra/http/handler"
	"github.com/skillhubio/shield/internal/infra/http/routes"
	"github.com/skillhubio/shield/internal/infra/jobs"
	"github.com/skillhubio/shield/internal/infra/nats"
	"github.com/skillhubio/shield/internal/infra/notification"
	"github.com/skillhubio/shield/internal/infra/redis"
	"github.com/skillhubio/shield/internal/ratelimit"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	// Redis is optional: when unreachable, rate limiting and the event
	// store fall back to in-process backends and the service stays up.
	var redisClient *redis.Client
	if client, err := redis.New(&cfg.Redis, log); err != nil {
		log.Warn("redis unavailable, using in-process backends", "error", err)
	} else {
		redisClient = client
		defer closeWithLog(redisClient, "redis", log)
		log.Info("redis connected", "addr", cfg.Redis.Addr())
	}

	// ==========================================================================
	// Rate Limiting
	// ==========================================================================
	var limiters *ratelimit.Set
	if cfg.RateLimit.Enabled {
		deps := ratelimit.SetDeps{Logger: log}
		if redisClient != nil {
			deps.Store = redisClient
			deps.Probe = redisClient
		}
		limiters, err = ratelimit.NewSet(ctx, &cfg.RateLimit, deps)
		if err != nil {
			log.Error("failed to initialize rate limiters", "error", err)
			return 1
		}
		defer limiters.Stop()
	} else {
		log.Warn("rate limiting is disabled")
	}

	// ==========================================================================
	// Security Monitor
	// ==========================================================================
	var store security.Store
	if redisClient != nil {
		store, err = security.NewRedisStore(redisClient, cfg.Security.EventRetention, cfg.Security.IPIndexRetention, log)
		if err != nil {
			log.Error("failed to initialize event store", "error", err)
			return 1
		}
	} else {
		store = security.NewMemoryStore()
	}

	dispatcher := initDispatcher(cfg, log)

	monitorOpts := []security.MonitorOption{
		security.WithNotifier(dispatcher),
		security.WithActionDispatcher(dispatcher),
	}

	if cfg.ThreatIntel.Enabled {
		provider, err := security.NewHTTPProvider(
			cfg.ThreatIntel.EndpointURL,
			cfg.ThreatIntel.APIKey,
			cfg.ThreatIntel.Timeout,
			cfg.ThreatIntel.LookupsPerSec,
		)
		if err != nil {
			log.Error("failed to initialize threat intel provider", "error", err)
			return 1
		}
		enricher, err := security.NewEnricher(provider, cfg.ThreatIntel.CacheSize, cfg.ThreatIntel.CacheTTL, log)
		if err != nil {
			log.Error("failed to initialize threat intel enricher", "error", err)
			return 1
		}
		monitorOpts = append(monitorOpts, security.WithEnricher(enricher))
		log.Info("threat intelligence enrichment enabled", "endpoint", cfg.ThreatIntel.EndpointURL)
	}

	if cfg.NATS.Enabled {
		publisher, err := nats.New(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Error("failed to connect to nats", "error", err)
			return 1
		}
		defer publisher.Close()
		monitorOpts = append(monitorOpts, security.WithPublisher(publisher))
		log.Info("event publisher enabled", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	monitor, err := security.NewMonitor(store, cfg.Security.RingCapacity, log, monitorOpts...)
	if err != nil {
		log.Error("failed to initialize security monitor", "error", err)
		return 1
	}

	if cfg.Security.RulesFile != "" {
		rules, err := security.LoadRulesFile(cfg.Security.RulesFile)
		if err != nil {
			log.Error("failed to load alert rules file", "file", cfg.Security.RulesFile, "error", err)
			return 1
		}
		for _, rule := range rules {
			if err := monitor.Rules().AddRule(rule); err != nil {
				log.Error("invalid alert rule", "rule", rule.ID, "error", err)
				return 1
			}
		}
		log.Info("alert rules loaded", "file", cfg.Security.RulesFile, "count", len(rules))
	}

	// ==========================================================================
	// Maintenance
	// ==========================================================================
	var memory *ratelimit.MemoryBackend
	if limiters != nil {
		memory = limiters.Memory()
	}
	maintenance := jobs.NewMaintenance(store, memory, monitor, cfg.Security.EventRetention, log)
	if err := maintenance.Start(); err != nil {
		log.Error("failed to start maintenance scheduler", "error", err)
		return 1
	}

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(cfg, log)

	healthOpts := []handler.HealthHandlerOption{}
	if redisClient != nil {
		healthOpts = append(healthOpts, handler.WithRedis(redisClient))
	}

	routes.Register(server.Router(), routes.Handlers{
		Health:    handler.NewHealthHandler(healthOpts...),
		Event:     handler.NewEventHandler(monitor),
		Dashboard: handler.NewDashboardHandler(monitor),
		Rule:      handler.NewRuleHandler(monitor.Rules()),
		Block:     handler.NewBlockHandler(store),
	}, routes.Deps{
		Limiters:  limiters,
		Blocklist: store,
		Logger:    log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	maintenance.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	if cfg.IsProduction() {
		return logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		})
	}
	return logger.NewDevelopment()
}

// initDispatcher builds the alert delivery channels from config.
// Missing channels degrade to structured-log delivery.
func initDispatcher(cfg *config.Config, log *logger.Logger) *notification.Dispatcher {
	var webhook, email notification.Client

	if cfg.Notify.AdminWebhookURL != "" {
		client, err := notification.NewWebhookClient(notification.Config{
			Provider:   notification.ProviderWebhook,
			WebhookURL: cfg.Notify.AdminWebhookURL,
		})
		if err != nil {
			log.Warn("invalid admin webhook configuration", "error", err)
		} else {
			webhook = client
		}
	}

	if cfg.Notify.EmailConfigured() {
		client, err := notification.NewEmailClient(notification.Config{
			Provider: notification.ProviderEmail,
			Email: &notification.EmailConfig{
				SMTPHost:    cfg.Notify.SMTPHost,
				SMTPPort:    cfg.Notify.SMTPPort,
				Username:    cfg.Notify.SMTPUser,
				Password:    cfg.Notify.SMTPPassword,
				FromEmail:   cfg.Notify.SMTPFrom,
				FromName:    cfg.App.Name,
				UseSTARTTLS: cfg.Notify.SMTPPort == 587,
				UseTLS:      cfg.Notify.SMTPPort == 465,
			},
		})
		if err != nil {
			log.Warn("invalid smtp configuration", "error", err)
		} else {
			email = client
		}
	}

	return notification.NewDispatcher(webhook, email, log)
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
