package timeline

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

// StatsCache refreshes the per-tenant Stats aggregate on a cron schedule
// instead of recomputing it on every call.
type StatsCache struct {
	store Store

	mu     sync.RWMutex
	tenant map[string]Stats

	cron    *cron.Cron
	spec    string
	entryID cron.EntryID
}

// NewStatsCache constructs a cache backed by store, refreshing registered
// tenants on the given cron spec (e.g. "*/30 * * * * *" for every 30s
// with the seconds-field parser) once Start is called.
func NewStatsCache(store Store, spec string) *StatsCache {
	return &StatsCache{
		store:  store,
		tenant: make(map[string]Stats),
		cron:   cron.New(cron.WithSeconds()),
		spec:   spec,
	}
}

// Track registers tenantID for periodic refresh and computes its stats
// immediately so the first read isn't empty.
func (c *StatsCache) Track(ctx context.Context, tenantID string) error {
	stats, err := c.store.Stats(ctx, tenantID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tenant[tenantID] = stats
	c.mu.Unlock()
	return nil
}

// Get returns the last refreshed stats for tenantID, computing them on
// the spot if the tenant hasn't been tracked yet.
func (c *StatsCache) Get(ctx context.Context, tenantID string) (Stats, error) {
	c.mu.RLock()
	stats, ok := c.tenant[tenantID]
	c.mu.RUnlock()
	if ok {
		return stats, nil
	}
	if err := c.Track(ctx, tenantID); err != nil {
		return Stats{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenant[tenantID], nil
}

// Start registers the refresh job and begins the cron scheduler.
func (c *StatsCache) Start(ctx context.Context) error {
	id, err := c.cron.AddFunc(c.spec, func() { c.refreshAll(ctx) })
	if err != nil {
		return err
	}
	c.entryID = id
	c.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight refresh.
func (c *StatsCache) Stop() {
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
}

func (c *StatsCache) refreshAll(ctx context.Context) {
	c.mu.RLock()
	tenants := make([]string, 0, len(c.tenant))
	for t := range c.tenant {
		tenants = append(tenants, t)
	}
	c.mu.RUnlock()

	for _, tenantID := range tenants {
		stats, err := c.store.Stats(ctx, tenantID)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.tenant[tenantID] = stats
		c.mu.Unlock()
	}
}
