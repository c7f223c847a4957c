package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/channel-router/internal/redis"
)

const FlagSkillBuilder = "skill_builder_enabled"

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// FlagSource reads boolean feature flags from redis and caches each answer
// for the configured TTL. Lookup failures read as disabled.
type FlagSource struct {
	store stringGetter
	cache *ttlcache.Cache[string, bool]
	ttl   time.Duration
}

func NewFlagSource(store stringGetter, ttl time.Duration) *FlagSource {
	cache := ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](ttl),
	)
	go cache.Start()
	return &FlagSource{store: store, cache: cache, ttl: ttl}
}

func (f *FlagSource) Enabled(ctx context.Context, name string) bool {
	if item := f.cache.Get(name, ttlcache.WithDisableTouchOnHit[string, bool]()); item != nil {
		return item.Value()
	}

	val, err := f.store.Get(ctx, redisclient.FlagKey(name)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("flag", name).Msg("feature flag lookup failed")
		return false
	}

	enabled := parseFlag(val)
	f.cache.Set(name, enabled, f.ttl)
	return enabled
}

func (f *FlagSource) Stop() {
	f.cache.Stop()
}

func parseFlag(val string) bool {
	v := strings.TrimSpace(strings.ToLower(val))
	if v == "on" || v == "yes" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
