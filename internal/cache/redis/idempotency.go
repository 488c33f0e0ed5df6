// Package redis implements the pipeline's idempotency cache: a short-TTL
// record of event uuids already produced, so a redelivered message (from
// an uncommitted batch after a crash) is recognized and dropped instead of
// re-enriched and re-produced. Grounded on
// sdfpt05-backstage/services/truck/internal/cache/redis.go's enabled-flag
// wrapping a real client.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
)

// IdempotencyCache records event uuids that have already been produced.
// When disabled, SeenOrMark always reports "not seen" so callers skip
// straight through. When the backing Redis is unreachable, FailOpen
// decides whether that counts as "not seen" (allow duplicate processing,
// the safer default for an at-least-once pipeline) or as an error the
// caller must handle.
type IdempotencyCache struct {
	client   *redis.Client
	enabled  bool
	failOpen bool
	ttl      time.Duration
	log      *zap.Logger
}

func New(cfg config.RedisConfig, log *zap.Logger) *IdempotencyCache {
	if !cfg.Enabled {
		return &IdempotencyCache{enabled: false, log: log}
	}
	return &IdempotencyCache{
		client:   redis.NewClient(&redis.Options{Addr: cfg.Host + ":" + cfg.Port}),
		enabled:  true,
		failOpen: cfg.FailOpen,
		ttl:      cfg.IdempotencyTTL,
		log:      log,
	}
}

func (c *IdempotencyCache) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *IdempotencyCache) Close() error {
	if !c.enabled {
		return nil
	}
	return c.client.Close()
}

// SeenOrMark atomically checks whether uuid has been recorded before and,
// if not, records it. The SETNX-style check-and-set must be atomic or two
// concurrent consumers processing a racing redelivery could both see
// "not seen".
func (c *IdempotencyCache) SeenOrMark(ctx context.Context, uuid string) (seen bool, err error) {
	if !c.enabled {
		return false, nil
	}

	ok, err := c.client.SetNX(ctx, idempotencyKey(uuid), 1, c.ttl).Result()
	if err != nil {
		if c.failOpen {
			c.log.Warn("idempotency cache unreachable, failing open", zap.Error(err), zap.String("uuid", uuid))
			return false, nil
		}
		return false, err
	}
	// SetNX returns true when the key was newly set, i.e. not seen before.
	return !ok, nil
}

func idempotencyKey(uuid string) string {
	return "idempotency:event:" + uuid
}
