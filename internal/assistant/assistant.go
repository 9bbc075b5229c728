package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/middleware"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/cache"
	"github.com/stealth-assistant-go/internal/services/llm"
	"github.com/stealth-assistant-go/internal/services/storage"
	"github.com/stealth-assistant-go/internal/services/usage"
)

// Assistant is the single entry point the host shell talks to. It combines
// the usage quota gate, provider dispatch and usage recording into one
// request path: check quota, call vendor, record usage, return result.
type Assistant struct {
	gateway  llm.Service
	governor *usage.Governor
	storage  *storage.Manager
	cache    cache.Service
	metrics  *middleware.Metrics
	logger   *logrus.Logger

	mu      sync.Mutex
	stealth bool
}

// New creates the assistant and applies the stored stealth-by-default flag
func New(ctx context.Context, gateway llm.Service, governor *usage.Governor, store *storage.Manager, cacheService cache.Service, metrics *middleware.Metrics, logger *logrus.Logger) *Assistant {
	a := &Assistant{
		gateway:  gateway,
		governor: governor,
		storage:  store,
		cache:    cacheService,
		metrics:  metrics,
		logger:   logger,
	}

	if settings, err := store.GetSettings(ctx); err == nil && settings != nil {
		a.stealth = settings.StealthByDefault
	}

	return a
}

// SendToLLM sends a message to the given provider, routing through image
// analysis when the context carries a screenshot. Usage is recorded only
// after a successful vendor response.
func (a *Assistant) SendToLLM(ctx context.Context, provider models.ProviderID, message string, convCtx *models.ConversationContext) (*models.LLMResult, error) {
	if convCtx == nil {
		convCtx = &models.ConversationContext{}
	}

	hasScreenshot := convCtx.Screenshot != ""

	// Cache hits cost no vendor call and consume no quota
	if !hasScreenshot {
		if result, found := a.cache.Get(ctx, provider, message); found {
			a.metrics.RecordCacheHit()
			return result, nil
		}
		a.metrics.RecordCacheMiss()
	}

	if err := a.governor.CheckLimit(ctx, provider); err != nil {
		var quotaErr *usage.QuotaExceededError
		if errors.As(err, &quotaErr) {
			a.metrics.RecordQuotaBlocked(string(provider), string(quotaErr.Scope))
		}
		return nil, err
	}

	var (
		result *models.LLMResult
		err    error
		kind   = "chat"
		start  = time.Now()
	)

	if hasScreenshot {
		kind = "image"
		result, err = a.gateway.AnalyzeImage(ctx, provider, convCtx.Screenshot, message)
	} else {
		result, err = a.gateway.Send(ctx, provider, message, convCtx)
	}

	if err != nil {
		a.metrics.RecordLLMRequest(string(provider), kind, "failed", time.Since(start))
		return nil, err
	}

	if result.Error {
		a.metrics.RecordLLMRequest(string(provider), kind, "error", time.Since(start))
		return result, nil
	}

	a.metrics.RecordLLMRequest(string(provider), kind, "success", time.Since(start))

	if recordErr := a.governor.Record(ctx, provider); recordErr != nil {
		// The user already has their answer; a metering failure is logged,
		// not surfaced
		a.logger.WithError(recordErr).WithField("provider", provider).Error("Failed to record usage")
	}

	if !hasScreenshot {
		a.cache.Set(ctx, provider, message, result)
	}

	return result, nil
}

// AnalyzeImage runs the image-analysis pipeline directly, with the same
// quota gating as SendToLLM
func (a *Assistant) AnalyzeImage(ctx context.Context, provider models.ProviderID, imageBase64, question string) (*models.LLMResult, error) {
	if err := a.governor.CheckLimit(ctx, provider); err != nil {
		var quotaErr *usage.QuotaExceededError
		if errors.As(err, &quotaErr) {
			a.metrics.RecordQuotaBlocked(string(provider), string(quotaErr.Scope))
		}
		return nil, err
	}

	start := time.Now()
	result, err := a.gateway.AnalyzeImage(ctx, provider, imageBase64, question)
	if err != nil {
		a.metrics.RecordLLMRequest(string(provider), "image", "failed", time.Since(start))
		return nil, err
	}

	if result.Error {
		a.metrics.RecordLLMRequest(string(provider), "image", "error", time.Since(start))
		return result, nil
	}

	a.metrics.RecordLLMRequest(string(provider), "image", "success", time.Since(start))

	if recordErr := a.governor.Record(ctx, provider); recordErr != nil {
		a.logger.WithError(recordErr).WithField("provider", provider).Error("Failed to record usage")
	}

	return result, nil
}

// SetCredential persists a provider key; the rebuilt client is visible
// before any subsequently-issued call
func (a *Assistant) SetCredential(ctx context.Context, provider models.ProviderID, apiKey string) error {
	if err := a.gateway.SetCredential(ctx, provider, apiKey); err != nil {
		return err
	}
	a.metrics.SetConfiguredProviders(float64(len(a.gateway.ConfiguredProviders())))
	return nil
}

// ConfiguredProviders returns display names of providers with credentials
func (a *Assistant) ConfiguredProviders() []string {
	return a.gateway.ConfiguredProviders()
}

// Usage returns the effective usage counters and tier limits for a provider
func (a *Assistant) Usage(ctx context.Context, provider models.ProviderID) (*models.UsageRecord, models.TierLimits, error) {
	return a.governor.Snapshot(ctx, provider)
}

// Subscription returns the stored subscription, defaulting to free
func (a *Assistant) Subscription(ctx context.Context) (*models.Subscription, error) {
	sub, err := a.storage.GetSubscription(ctx)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub = &models.Subscription{Tier: models.TierFree}
	}
	return sub, nil
}

// SetSubscription updates the stored tier. Existing usage counters are
// untouched; the new ceilings apply from the next quota check.
func (a *Assistant) SetSubscription(ctx context.Context, sub *models.Subscription) error {
	return a.storage.SaveSubscription(ctx, sub)
}

// Settings returns the stored display settings or defaults
func (a *Assistant) Settings(ctx context.Context) (*models.UserSettings, error) {
	settings, err := a.storage.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = models.DefaultUserSettings()
	}
	return settings, nil
}

// SaveSettings persists display settings
func (a *Assistant) SaveSettings(ctx context.Context, settings *models.UserSettings) error {
	return a.storage.SaveSettings(ctx, settings)
}

// ToggleStealth flips stealth mode and returns the new state
func (a *Assistant) ToggleStealth() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stealth = !a.stealth
	a.logger.WithField("stealth", a.stealth).Info("Stealth mode toggled")
	return a.stealth
}

// Stealth reports whether stealth mode is active
func (a *Assistant) Stealth() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stealth
}
