package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
)

// RuleSource loads the full authority rule set from storage.
type RuleSource interface {
	LoadRules(ctx context.Context) ([]Rule, error)
}

// Cache is an injectable read-through cache over a RuleSource.
//
// The rule table is read on every authority decision and changes rarely, so
// reads are served from memory and the whole table is reloaded when the TTL
// expires. Single writer: the reload happens under the write lock, readers
// never block on an unexpired cache. There is no ambient/global instance;
// construct one and pass it where it is needed.
type Cache struct {
	source RuleSource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	rules    map[ruleKey]Rule
	loadedAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock injects a clock, letting tests drive TTL expiry without
// sleeping.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// DefaultTTL is how long a loaded rule set is served before reload.
const DefaultTTL = 5 * time.Minute

// NewCache creates a rule cache over source. A ttl of zero uses DefaultTTL.
func NewCache(source RuleSource, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the rule for (docType, entityType), loading or reloading the
// table first when the cache is empty or expired.
func (c *Cache) Get(ctx context.Context, docType docs.Type, entityType entities.Type) (Rule, bool, error) {
	c.mu.RLock()
	fresh := c.rules != nil && c.now().Sub(c.loadedAt) < c.ttl
	if fresh {
		rule, ok := c.rules[ruleKey{docType, entityType}]
		c.mu.RUnlock()
		return rule, ok, nil
	}
	c.mu.RUnlock()

	if err := c.Refresh(ctx); err != nil {
		return Rule{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.rules[ruleKey{docType, entityType}]
	return rule, ok, nil
}

// Refresh forces a full reload from the source regardless of TTL.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have reloaded while we waited for the lock.
	if c.rules != nil && c.now().Sub(c.loadedAt) < c.ttl {
		return nil
	}

	loaded, err := c.source.LoadRules(ctx)
	if err != nil {
		// Serve stale rules over failing hard; a bounded staleness
		// window is tolerable, an aborted batch is not.
		if c.rules != nil {
			return nil
		}
		return fmt.Errorf("load authority rules: %w", err)
	}

	rules := make(map[ruleKey]Rule, len(loaded))
	for _, r := range loaded {
		rules[ruleKey{r.DocumentType, r.EntityType}] = r
	}
	c.rules = rules
	c.loadedAt = c.now()
	return nil
}

// ForceRefresh reloads unconditionally, ignoring TTL freshness. Used by the
// operator CLI after editing the rule table.
func (c *Cache) ForceRefresh(ctx context.Context) error {
	loaded, err := c.source.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load authority rules: %w", err)
	}

	rules := make(map[ruleKey]Rule, len(loaded))
	for _, r := range loaded {
		rules[ruleKey{r.DocumentType, r.EntityType}] = r
	}

	c.mu.Lock()
	c.rules = rules
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the currently cached rules, loading them first
// if the cache is empty.
func (c *Cache) Snapshot(ctx context.Context) ([]Rule, error) {
	c.mu.RLock()
	empty := c.rules == nil
	c.mu.RUnlock()
	if empty {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	return out, nil
}
