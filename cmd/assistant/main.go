package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/assistant"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/handlers"
	"github.com/stealth-assistant-go/internal/i18n"
	"github.com/stealth-assistant-go/internal/middleware"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/cache"
	"github.com/stealth-assistant-go/internal/services/llm"
	"github.com/stealth-assistant-go/internal/services/storage"
	"github.com/stealth-assistant-go/internal/services/usage"
	"github.com/stealth-assistant-go/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting stealth assistant core...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	// Seed persisted state from configuration on first run
	if err := seedState(ctx, cfg, storageManager, log); err != nil {
		log.WithError(err).Fatal("Failed to seed stored state")
	}

	// Initialize usage governor
	governor := usage.NewGovernor(storageManager, log)

	// Initialize provider gateway
	gateway, err := llm.NewGateway(ctx, storageManager, &cfg.Context, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize LLM gateway")
	}

	// Initialize cache
	cacheService := cache.NewCache(cfg, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()
	metrics.SetConfiguredProviders(float64(len(gateway.ConfiguredProviders())))

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize the assistant core
	core := assistant.New(ctx, gateway, governor, storageManager, cacheService, metrics, log)

	// Host-shell API
	api := handlers.NewAPI(core, rateLimiter, localizer, metrics, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("Host-shell API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}

	cancel()
	log.Info("Assistant stopped")
}

// seedState writes config-supplied credentials and the default tier into
// storage when nothing is stored yet; keys set through the API win on
// subsequent runs
func seedState(ctx context.Context, cfg *config.Config, store *storage.Manager, log *logrus.Logger) error {
	seeds := map[models.ProviderID]config.ProviderKeyConfig{
		models.ProviderClaude: cfg.Providers.Anthropic,
		models.ProviderGPT4:   cfg.Providers.OpenAI,
		models.ProviderGemini: cfg.Providers.Google,
		models.ProviderGrok:   cfg.Providers.Grok,
	}

	for provider, seed := range seeds {
		if seed.APIKey == "" && seed.BaseURL == "" {
			continue
		}
		existing, err := store.GetCredential(ctx, provider)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		cred := &models.Credential{APIKey: seed.APIKey, BaseURL: seed.BaseURL}
		if err := store.SetCredential(ctx, provider, cred); err != nil {
			return err
		}
		log.WithField("provider", provider).Info("Seeded provider credential from config")
	}

	sub, err := store.GetSubscription(ctx)
	if err != nil {
		return err
	}
	if sub == nil {
		tier := models.Tier(cfg.Subscription.DefaultTier)
		if err := store.SaveSubscription(ctx, &models.Subscription{Tier: tier}); err != nil {
			return err
		}
		log.WithField("tier", tier).Info("Seeded subscription tier")
	}

	return nil
}
