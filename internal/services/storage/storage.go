package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/config"
	"github.com/stealth-assistant-go/internal/models"
)

// Storage defines the persisted state of the assistant core: provider
// credentials, per-provider usage records, the subscription, and user
// display settings. A nil result with a nil error means "no stored entry".
type Storage interface {
	GetCredential(ctx context.Context, provider models.ProviderID) (*models.Credential, error)
	SetCredential(ctx context.Context, provider models.ProviderID, cred *models.Credential) error

	GetUsage(ctx context.Context, provider models.ProviderID) (*models.UsageRecord, error)
	SaveUsage(ctx context.Context, provider models.ProviderID, record *models.UsageRecord) error

	GetSubscription(ctx context.Context) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error

	GetSettings(ctx context.Context) (*models.UserSettings, error)
	SaveSettings(ctx context.Context, settings *models.UserSettings) error
}

// Manager manages different storage backends
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	redisClient *redis.Client
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{
		logger: logger,
	}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return manager, nil
}

// Delegate methods to underlying storage
func (m *Manager) GetCredential(ctx context.Context, provider models.ProviderID) (*models.Credential, error) {
	return m.storage.GetCredential(ctx, provider)
}

func (m *Manager) SetCredential(ctx context.Context, provider models.ProviderID, cred *models.Credential) error {
	return m.storage.SetCredential(ctx, provider, cred)
}

func (m *Manager) GetUsage(ctx context.Context, provider models.ProviderID) (*models.UsageRecord, error) {
	return m.storage.GetUsage(ctx, provider)
}

func (m *Manager) SaveUsage(ctx context.Context, provider models.ProviderID, record *models.UsageRecord) error {
	return m.storage.SaveUsage(ctx, provider, record)
}

func (m *Manager) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	return m.storage.GetSubscription(ctx)
}

func (m *Manager) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return m.storage.SaveSubscription(ctx, sub)
}

func (m *Manager) GetSettings(ctx context.Context) (*models.UserSettings, error) {
	return m.storage.GetSettings(ctx)
}

func (m *Manager) SaveSettings(ctx context.Context, settings *models.UserSettings) error {
	return m.storage.SaveSettings(ctx, settings)
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func (r *RedisStorage) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisStorage) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	// No expiration: credentials, usage and settings survive restarts
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisStorage) GetCredential(ctx context.Context, provider models.ProviderID) (*models.Credential, error) {
	var cred models.Credential
	found, err := r.getJSON(ctx, fmt.Sprintf("credential:%s", provider), &cred)
	if err != nil || !found {
		return nil, err
	}
	return &cred, nil
}

func (r *RedisStorage) SetCredential(ctx context.Context, provider models.ProviderID, cred *models.Credential) error {
	return r.setJSON(ctx, fmt.Sprintf("credential:%s", provider), cred)
}

func (r *RedisStorage) GetUsage(ctx context.Context, provider models.ProviderID) (*models.UsageRecord, error) {
	var record models.UsageRecord
	found, err := r.getJSON(ctx, fmt.Sprintf("usage:%s", provider), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *RedisStorage) SaveUsage(ctx context.Context, provider models.ProviderID, record *models.UsageRecord) error {
	return r.setJSON(ctx, fmt.Sprintf("usage:%s", provider), record)
}

func (r *RedisStorage) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	var sub models.Subscription
	found, err := r.getJSON(ctx, "subscription", &sub)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (r *RedisStorage) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.setJSON(ctx, "subscription", sub)
}

func (r *RedisStorage) GetSettings(ctx context.Context) (*models.UserSettings, error) {
	var settings models.UserSettings
	found, err := r.getJSON(ctx, "settings", &settings)
	if err != nil || !found {
		return nil, err
	}
	return &settings, nil
}

func (r *RedisStorage) SaveSettings(ctx context.Context, settings *models.UserSettings) error {
	return r.setJSON(ctx, "settings", settings)
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	credentials *cache.Cache
	usage       *cache.Cache
	state       *cache.Cache
	logger      *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		credentials: cache.New(cache.NoExpiration, cache.NoExpiration),
		usage:       cache.New(cache.NoExpiration, cache.NoExpiration),
		state:       cache.New(cache.NoExpiration, cache.NoExpiration),
		logger:      logger,
	}
}

func (m *MemoryStorage) GetCredential(ctx context.Context, provider models.ProviderID) (*models.Credential, error) {
	if val, found := m.credentials.Get(string(provider)); found {
		cred := val.(models.Credential)
		return &cred, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SetCredential(ctx context.Context, provider models.ProviderID, cred *models.Credential) error {
	m.credentials.Set(string(provider), *cred, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetUsage(ctx context.Context, provider models.ProviderID) (*models.UsageRecord, error) {
	if val, found := m.usage.Get(string(provider)); found {
		record := val.(models.UsageRecord)
		return &record, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveUsage(ctx context.Context, provider models.ProviderID, record *models.UsageRecord) error {
	m.usage.Set(string(provider), *record, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	if val, found := m.state.Get("subscription"); found {
		sub := val.(models.Subscription)
		return &sub, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	m.state.Set("subscription", *sub, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetSettings(ctx context.Context) (*models.UserSettings, error) {
	if val, found := m.state.Get("settings"); found {
		settings := val.(models.UserSettings)
		return &settings, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveSettings(ctx context.Context, settings *models.UserSettings) error {
	m.state.Set("settings", *settings, cache.NoExpiration)
	return nil
}
