package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// TenantCache is a read-through Redis cache in front of a TenantStore.
// Each tenant owns one hash ("<prefix>:<tenantID>") holding its settings and
// services, plus a generation counter ("<prefix>:<tenantID>:gen") that
// Invalidate bumps. A read-through fill only lands if the generation it saw
// before reading the store is still current, so a fill racing an update
// cannot write the old row back. Relationships are never cached: a customer
// blocked a second ago must not book.
// Redis failures fall through to the underlying store.
type TenantCache struct {
	TenantStore
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewTenantCache(base TenantStore, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *TenantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantCache{TenantStore: base, rdb: rdb, ttl: ttl, prefix: "apptbook:tenant", logger: logger}
}

// fillScript writes one hash field unless the generation moved.
// KEYS[1] hash, KEYS[2] generation; ARGV: seen generation, field, value, ttl ms.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

func (c *TenantCache) key(tenantID string) string {
	return c.prefix + ":" + tenantID
}

func (c *TenantCache) genKey(tenantID string) string {
	return c.key(tenantID) + ":gen"
}

func (c *TenantCache) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	var t model.Tenant
	if c.load(ctx, tenantID, "settings", &t) {
		return t, nil
	}
	gen, genOK := c.generation(ctx, tenantID)
	t, err := c.TenantStore.GetTenant(ctx, tenantID)
	if err != nil {
		return model.Tenant{}, err
	}
	if genOK {
		c.store(ctx, tenantID, gen, "settings", t)
	}
	return t, nil
}

func (c *TenantCache) GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	field := "service:" + serviceID
	var s model.Service
	if c.load(ctx, tenantID, field, &s) {
		return s, nil
	}
	gen, genOK := c.generation(ctx, tenantID)
	s, err := c.TenantStore.GetService(ctx, tenantID, serviceID)
	if err != nil {
		return model.Service{}, err
	}
	if genOK {
		c.store(ctx, tenantID, gen, field, s)
	}
	return s, nil
}

// Invalidate drops everything cached for tenantID and fences off fills
// that started before it.
func (c *TenantCache) Invalidate(ctx context.Context, tenantID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(tenantID))
		pipe.Del(ctx, c.key(tenantID))
		return nil
	})
	return err
}

// generation reports the tenant's current generation, "0" before the first
// Invalidate. ok is false when Redis could not be read; the caller then skips
// the fill.
func (c *TenantCache) generation(ctx context.Context, tenantID string) (string, bool) {
	gen, err := c.rdb.Get(ctx, c.genKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		c.logger.Warn("tenant cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return "", false
	}
	return gen, true
}

func (c *TenantCache) load(ctx context.Context, tenantID, field string, dst any) bool {
	raw, err := c.rdb.HGet(ctx, c.key(tenantID), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("tenant cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("tenant cache entry corrupt", zap.String("tenant_id", tenantID), zap.String("field", field), zap.Error(err))
		return false
	}
	return true
}

func (c *TenantCache) store(ctx context.Context, tenantID, gen, field string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	keys := []string{c.key(tenantID), c.genKey(tenantID)}
	stored, err := fillScript.Run(ctx, c.rdb, keys, gen, field, raw, strconv.FormatInt(c.ttl.Milliseconds(), 10)).Int()
	if err != nil {
		c.logger.Warn("tenant cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if stored == 0 {
		c.logger.Debug("tenant cache fill skipped after invalidation",
			zap.String("tenant_id", tenantID), zap.String("field", field))
	}
}
