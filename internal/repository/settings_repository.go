package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

const autoCloseSettingsKey = "inbox:settings:auto_close"

// SettingsRepository reads and writes the process-wide auto-close setting.
type SettingsRepository interface {
	AutoClose(ctx context.Context) (domain.AutoCloseSettings, error)
	SetAutoClose(ctx context.Context, settings domain.AutoCloseSettings) error
}

type redisSettingsRepository struct {
	client   *redis.Client
	fallback domain.AutoCloseSettings
}

// NewRedisSettingsRepository stores settings under a single Redis key and
// returns fallback until one is written.
func NewRedisSettingsRepository(client *redis.Client, fallback domain.AutoCloseSettings) SettingsRepository {
	return &redisSettingsRepository{client: client, fallback: fallback}
}

func (r *redisSettingsRepository) AutoClose(ctx context.Context) (domain.AutoCloseSettings, error) {
	raw, err := r.client.Get(ctx, autoCloseSettingsKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.fallback, nil
	}
	if err != nil {
		return domain.AutoCloseSettings{}, err
	}
	return domain.ParseAutoCloseSettings(raw)
}

func (r *redisSettingsRepository) SetAutoClose(ctx context.Context, settings domain.AutoCloseSettings) error {
	return r.client.Set(ctx, autoCloseSettingsKey, settings.String(), 0).Err()
}

// MemorySettingsRepository holds the setting in process.
type MemorySettingsRepository struct {
	mu       sync.RWMutex
	settings domain.AutoCloseSettings
	// Err, when set, is returned by AutoClose.
	Err error
}

// NewMemorySettingsRepository starts with settings.
func NewMemorySettingsRepository(settings domain.AutoCloseSettings) *MemorySettingsRepository {
	return &MemorySettingsRepository{settings: settings}
}

func (r *MemorySettingsRepository) AutoClose(context.Context) (domain.AutoCloseSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return domain.AutoCloseSettings{}, r.Err
	}
	return r.settings, nil
}

func (r *MemorySettingsRepository) SetAutoClose(_ context.Context, settings domain.AutoCloseSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	return nil
}
