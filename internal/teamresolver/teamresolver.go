// Package teamresolver looks up a Team by API token or numeric ID, caching
// results in-memory with a short TTL. Cache-miss refreshes for the same key
// are collapsed via singleflight so concurrent lookups only hit the store
// once.
package teamresolver

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/metrics"
)

// Store is the narrow read interface the resolver needs from the
// relational store.
type Store interface {
	TeamByID(ctx context.Context, id int64) (*domain.Team, error)
	TeamByToken(ctx context.Context, token string) (*domain.Team, error)
}

type cacheEntry struct {
	team      *domain.Team
	expiresAt time.Time
}

// Resolver caches Team lookups by both id and token.
type Resolver struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger

	mu      sync.RWMutex
	byID    map[int64]cacheEntry
	byToken map[string]cacheEntry

	group singleflight.Group
}

func New(store Store, ttl time.Duration, log *zap.Logger) *Resolver {
	return &Resolver{
		store:   store,
		ttl:     ttl,
		log:     log,
		byID:    make(map[int64]cacheEntry),
		byToken: make(map[string]cacheEntry),
	}
}

// ByID resolves a Team by numeric id.
func (r *Resolver) ByID(ctx context.Context, id int64) (*domain.Team, error) {
	r.mu.RLock()
	entry, ok := r.byID[id]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		metrics.TeamCacheRefreshes.WithLabelValues("hit").Inc()
		return entry.team, nil
	}

	key := "id:" + strconv.FormatInt(id, 10)
	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		team, err := r.store.TeamByID(ctx, id)
		if err != nil {
			return nil, err
		}
		r.storeID(id, team)
		return team, nil
	})
	if shared {
		metrics.TeamCacheRefreshes.WithLabelValues("singleflight_shared").Inc()
	} else {
		metrics.TeamCacheRefreshes.WithLabelValues("miss").Inc()
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*domain.Team), nil
}

// ByToken resolves a Team by API token. A token with an embedded null byte
// is rejected (nil team, no store lookup) rather than allowed to crash the
// underlying query driver; surrounding whitespace is trimmed.
func (r *Resolver) ByToken(ctx context.Context, token string) (*domain.Team, error) {
	sanitized, ok := sanitizeToken(token)
	if !ok || sanitized == "" {
		return nil, nil
	}

	r.mu.RLock()
	entry, ok := r.byToken[sanitized]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		metrics.TeamCacheRefreshes.WithLabelValues("hit").Inc()
		return entry.team, nil
	}

	key := "token:" + sanitized
	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		team, err := r.store.TeamByToken(ctx, sanitized)
		if err != nil {
			return nil, err
		}
		if team != nil {
			r.storeToken(sanitized, team)
		}
		return team, nil
	})
	if shared {
		metrics.TeamCacheRefreshes.WithLabelValues("singleflight_shared").Inc()
	} else {
		metrics.TeamCacheRefreshes.WithLabelValues("miss").Inc()
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*domain.Team), nil
}

func (r *Resolver) storeID(id int64, team *domain.Team) {
	if team == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = cacheEntry{team: team, expiresAt: time.Now().Add(r.ttl)}
}

func (r *Resolver) storeToken(token string, team *domain.Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[token] = cacheEntry{team: team, expiresAt: time.Now().Add(r.ttl)}
}

// sanitizeToken rejects tokens carrying an embedded NUL byte rather than
// letting one reach the store driver and crash it; ok=false means "treat
// as lookup failure", never a panic.
func sanitizeToken(token string) (string, bool) {
	if strings.ContainsRune(token, 0) {
		return "", false
	}
	return strings.TrimSpace(token), true
}
