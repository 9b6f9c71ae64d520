package identity

import (
	"context"
	"encoding/json"
	"time"

	"antigravity-biosync/internal/models"
	"antigravity-biosync/internal/store"

	"go.uber.org/zap"
)

const cacheKey = "biosync:staff:identities"

// StaffSource 员工身份来源（由 repository 实现）
type StaffSource interface {
	ListBiometricIdentities(ctx context.Context) ([]models.StaffIdentity, error)
}

// Loader 带缓存的员工身份加载器
// 员工映射变化不频繁，缓存减少每轮同步对数据库的读压力；
// 缓存只是加速，命中失败一律回源，不影响正确性。
type Loader struct {
	source StaffSource
	kv     store.KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewLoader 创建加载器；kv 传 nil 则每次直接回源
func NewLoader(source StaffSource, kv store.KV, ttl time.Duration, logger *zap.Logger) *Loader {
	return &Loader{source: source, kv: kv, ttl: ttl, logger: logger}
}

// Load 加载全部已绑定设备编号的员工身份
func (l *Loader) Load(ctx context.Context) ([]models.StaffIdentity, error) {
	if l.kv != nil {
		if cached, err := l.kv.Get(ctx, cacheKey); err == nil {
			var identities []models.StaffIdentity
			uerr := json.Unmarshal([]byte(cached), &identities)
			if uerr == nil {
				l.logger.Debug("Staff identities served from cache", zap.Int("count", len(identities)))
				return identities, nil
			}
			l.logger.Warn("Corrupt identity cache entry, falling back to store", zap.Error(uerr))
		} else if err != store.ErrCacheMiss {
			l.logger.Warn("Identity cache read failed, falling back to store", zap.Error(err))
		}
	}

	identities, err := l.source.ListBiometricIdentities(ctx)
	if err != nil {
		return nil, err
	}

	if l.kv != nil {
		if data, err := json.Marshal(identities); err == nil {
			if err := l.kv.Set(ctx, cacheKey, string(data), l.ttl); err != nil {
				l.logger.Warn("Failed to cache staff identities", zap.Error(err))
			}
		}
	}
	return identities, nil
}
