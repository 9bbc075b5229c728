package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/models"
)

// Service defines response-cache operations. Only plain text sends are
// cached; image analysis always goes to the vendor.
type Service interface {
	Get(ctx context.Context, provider models.ProviderID, question string) (*models.LLMResult, bool)
	Set(ctx context.Context, provider models.ProviderID, question string, result *models.LLMResult) error
	Clear(ctx context.Context) error
}

// Cache implements caching service
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
	maxSize int
}

// NewCache creates a new cache service
func NewCache(cfg *config.Config, logger *logrus.Logger) Service {
	if !cfg.Cache.Enabled {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cfg.Cache.TTL, cfg.Cache.TTL*2),
		logger:  logger,
		maxSize: cfg.Cache.MaxSize,
	}
}

// Get retrieves a cached result
func (c *Cache) Get(ctx context.Context, provider models.ProviderID, question string) (*models.LLMResult, bool) {
	if !c.enabled {
		return nil, false
	}

	key := c.generateKey(provider, question)
	if val, found := c.cache.Get(key); found {
		result := val.(models.LLMResult)
		c.logger.WithFields(logrus.Fields{
			"provider": provider,
			"question": question,
		}).Debug("Cache hit")
		return &result, true
	}

	return nil, false
}

// Set stores a result in cache
func (c *Cache) Set(ctx context.Context, provider models.ProviderID, question string, result *models.LLMResult) error {
	if !c.enabled || result == nil || result.Error {
		return nil
	}

	// Check cache size
	if c.cache.ItemCount() >= c.maxSize {
		c.logger.Warn("Cache size limit reached, clearing expired entries")
		c.cache.DeleteExpired()
	}

	key := c.generateKey(provider, question)
	c.cache.SetDefault(key, *result)

	c.logger.WithFields(logrus.Fields{
		"provider": provider,
		"question": question,
	}).Debug("Response cached")

	return nil
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	c.cache.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

// generateKey creates a unique cache key
func (c *Cache) generateKey(provider models.ProviderID, question string) string {
	data := fmt.Sprintf("%s:%s", provider, question)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
