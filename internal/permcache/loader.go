package permcache

import (
	"context"

	"github.com/opsdesk/opsdesk/internal/log"
	"github.com/opsdesk/opsdesk/internal/metrics"
)

// FetchFunc fetches the full authorization data for a tenant.
type FetchFunc func(ctx context.Context, tenantID string) (Authorization, error)

// RevalidateFunc fetches only the volatile workflow roles for a tenant.
type RevalidateFunc func(ctx context.Context, tenantID string) ([]string, error)

// Loader is the read path in front of the cache.
//
// On a miss it fetches; on a hit it serves the cached entry and, when a
// revalidator is configured, refreshes only the workflow roles without
// discarding the entry. A failed fetch falls back to a stale entry for
// the same tenant when one exists, otherwise resolves to empty
// authorization, never to an error: transient backend trouble cannot
// lock users out of features they hold.
type Loader struct {
	cache      *Cache
	fetch      FetchFunc
	revalidate RevalidateFunc
	metrics    *metrics.Metrics
	logger     *log.Logger
}

// NewLoader creates a loader over cache. revalidate may be nil.
func NewLoader(cache *Cache, fetch FetchFunc, revalidate RevalidateFunc, m *metrics.Metrics, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Loader{
		cache:      cache,
		fetch:      fetch,
		revalidate: revalidate,
		metrics:    m,
		logger:     logger,
	}
}

// Cache returns the underlying cache.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Load returns the authorization data for exactly the given tenant id.
func (l *Loader) Load(ctx context.Context, tenantID string) (Authorization, error) {
	if entry, ok := l.cache.Get(tenantID); ok {
		if l.metrics != nil {
			l.metrics.CacheHits.Inc()
		}

		// Workflow roles churn faster than coarse permissions; refresh
		// them in place without invalidating the entry.
		if l.revalidate != nil {
			if roles, err := l.revalidate(ctx, tenantID); err == nil {
				l.cache.UpdateWorkflowRoles(tenantID, roles)
				entry, _ = l.cache.Get(tenantID)
			} else {
				l.logger.WithError(err).Debug("workflow role revalidation failed",
					"tenant_id", tenantID)
			}
		}

		return entry.Authorization, nil
	}

	if l.metrics != nil {
		l.metrics.CacheMisses.Inc()
	}

	auth, err := l.fetch(ctx, tenantID)
	if err != nil {
		if stale := l.cache.GetStale(tenantID); stale != nil {
			if l.metrics != nil {
				l.metrics.CacheStaleFallbacks.Inc()
			}
			l.logger.WithError(err).Warn("permission fetch failed, serving stale entry",
				"tenant_id", tenantID)
			return stale.Authorization, nil
		}

		l.logger.WithError(err).Warn("permission fetch failed with no cached fallback",
			"tenant_id", tenantID)
		return Authorization{}, nil
	}

	l.cache.Set(tenantID, auth)
	return auth, nil
}

// Reprime drops any entry for tenantID and fetches afresh.
// Used after a verified tenant switch.
func (l *Loader) Reprime(ctx context.Context, tenantID string) (Authorization, error) {
	l.cache.Invalidate(tenantID)
	return l.Load(ctx, tenantID)
}
