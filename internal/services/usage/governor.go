package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/models"
	"github.com/stealth-assistant-go/internal/services/storage"
)

// Scope identifies which quota ceiling was breached
type Scope string

const (
	ScopeDaily   Scope = "daily"
	ScopeMonthly Scope = "monthly"
)

// QuotaExceededError is returned when a provider call would exceed the
// current subscription tier's ceiling
type QuotaExceededError struct {
	Provider models.ProviderID
	Scope    Scope
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s limit of %d reached for %s, upgrade your subscription for more usage",
		e.Scope, e.Limit, e.Provider)
}

// Governor enforces per-provider daily and monthly call quotas tied to the
// stored subscription tier. Counters reset when their calendar key goes
// stale; a stale counter reads as zero for comparison, and the persisted
// record is only rewritten by Record.
type Governor struct {
	storage *storage.Manager
	logger  *logrus.Logger

	mu    sync.Mutex
	locks map[models.ProviderID]*sync.Mutex
}

// NewGovernor creates a usage governor backed by the given storage
func NewGovernor(store *storage.Manager, logger *logrus.Logger) *Governor {
	return &Governor{
		storage: store,
		logger:  logger,
		locks:   make(map[models.ProviderID]*sync.Mutex),
	}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// providerLock returns the single-writer lock for one provider's record
func (g *Governor) providerLock(provider models.ProviderID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, exists := g.locks[provider]
	if !exists {
		lock = &sync.Mutex{}
		g.locks[provider] = lock
	}
	return lock
}

// tier reads the current subscription tier, defaulting to free
func (g *Governor) tier(ctx context.Context) (models.Tier, error) {
	sub, err := g.storage.GetSubscription(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read subscription: %w", err)
	}
	if sub == nil {
		return models.TierFree, nil
	}
	return sub.Tier, nil
}

// effectiveCounters resolves calendar staleness: a counter whose stored key
// no longer matches now reads as zero. Day and month checks are independent.
func effectiveCounters(record *models.UsageRecord, now time.Time) (daily, monthly int) {
	if record == nil {
		return 0, 0
	}
	if record.LastDailyKey == dayKey(now) {
		daily = record.Daily
	}
	if record.LastMonthlyKey == monthKey(now) {
		monthly = record.Monthly
	}
	return daily, monthly
}

// CheckLimit reports whether another call to the provider is allowed under
// the current tier. It must run before dispatching any provider request.
func (g *Governor) CheckLimit(ctx context.Context, provider models.ProviderID) error {
	lock := g.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	tier, err := g.tier(ctx)
	if err != nil {
		return err
	}
	limits := tier.Limits()

	record, err := g.storage.GetUsage(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to read usage record: %w", err)
	}

	now := time.Now()
	daily, monthly := effectiveCounters(record, now)

	if limits.Daily >= 0 && daily >= limits.Daily {
		g.logger.WithFields(logrus.Fields{
			"provider": provider,
			"tier":     tier,
			"daily":    daily,
		}).Warn("Daily quota reached")
		return &QuotaExceededError{Provider: provider, Scope: ScopeDaily, Limit: limits.Daily}
	}

	if limits.Monthly >= 0 && monthly >= limits.Monthly {
		g.logger.WithFields(logrus.Fields{
			"provider": provider,
			"tier":     tier,
			"monthly":  monthly,
		}).Warn("Monthly quota reached")
		return &QuotaExceededError{Provider: provider, Scope: ScopeMonthly, Limit: limits.Monthly}
	}

	return nil
}

// Record increments the provider's daily and monthly counters and persists
// the record. It must run only after a successful provider call.
func (g *Governor) Record(ctx context.Context, provider models.ProviderID) error {
	lock := g.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	record, err := g.storage.GetUsage(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to read usage record: %w", err)
	}

	now := time.Now()
	if record == nil {
		record = &models.UsageRecord{
			LastDailyKey:   dayKey(now),
			LastMonthlyKey: monthKey(now),
		}
	}

	// Reset stale counters before incrementing. Day rollover does not
	// imply month rollover and vice versa.
	if record.LastDailyKey != dayKey(now) {
		record.Daily = 0
		record.LastDailyKey = dayKey(now)
	}
	if record.LastMonthlyKey != monthKey(now) {
		record.Monthly = 0
		record.LastMonthlyKey = monthKey(now)
	}

	record.Daily++
	record.Monthly++

	if err := g.storage.SaveUsage(ctx, provider, record); err != nil {
		return fmt.Errorf("failed to persist usage record: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"provider": provider,
		"daily":    record.Daily,
		"monthly":  record.Monthly,
	}).Debug("Usage recorded")

	return nil
}

// Snapshot returns the effective (post-reset) counters and the current
// tier's limits, for display in the overlay
func (g *Governor) Snapshot(ctx context.Context, provider models.ProviderID) (*models.UsageRecord, models.TierLimits, error) {
	lock := g.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	tier, err := g.tier(ctx)
	if err != nil {
		return nil, models.TierLimits{}, err
	}

	record, err := g.storage.GetUsage(ctx, provider)
	if err != nil {
		return nil, models.TierLimits{}, fmt.Errorf("failed to read usage record: %w", err)
	}

	now := time.Now()
	daily, monthly := effectiveCounters(record, now)
	snapshot := &models.UsageRecord{
		Daily:          daily,
		Monthly:        monthly,
		LastDailyKey:   dayKey(now),
		LastMonthlyKey: monthKey(now),
	}

	return snapshot, tier.Limits(), nil
}
