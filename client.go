package tessera

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/validate"
)

// Client holds the driver, the model registry and the collaborators shared
// by every model. Independent clients do not share any state.
type Client struct {
	driver    dialect.Driver
	validator *validate.Registry
	logger    *slog.Logger
	cache     Cache
	cacheTTL  time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	models map[string]*Model
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger of the client. It defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithValidator sets the validation registry used by all models.
func WithValidator(r *validate.Registry) Option {
	return func(c *Client) {
		if r != nil {
			c.validator = r
		}
	}
}

// WithCache caches rows found by primary key. Writes through a model drop
// the cached rows of its table. A zero ttl keeps entries until they are
// dropped.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithClock sets the time source of the timestamp fields.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient returns a client using the given driver.
func NewClient(drv dialect.Driver, opts ...Option) *Client {
	c := &Client{
		driver:    drv,
		validator: validate.New(),
		logger:    slog.Default(),
		now:       time.Now,
		models:    make(map[string]*Model),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens a driver registered in the dialect package and returns a
// client using it. Drivers register themselves when their package is
// imported:
//
//	import _ "github.com/syssam/tessera/dialect/sqlite"
//
//	client, err := tessera.Open(dialect.SQLite, "file:app.db")
func Open(driverName, source string, opts ...Option) (*Client, error) {
	drv, err := dialect.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return NewClient(drv, opts...), nil
}

// Driver returns the driver of the client.
func (c *Client) Driver() dialect.Driver { return c.driver }

// Validator returns the validation registry of the client.
func (c *Client) Validator() *validate.Registry { return c.validator }

// Logger returns the logger of the client.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Model returns the model defined under name.
func (c *Client) Model(name string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// Models returns the sorted names of the defined models.
func (c *Client) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.models))
}

// Close closes the driver.
func (c *Client) Close() error {
	return c.driver.Close()
}

func (c *Client) register(m *Model) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[m.name]; ok {
		return fmt.Errorf("tessera: model %q is already defined", m.name)
	}
	c.models[m.name] = m
	return nil
}

func (c *Client) cacheGet(ctx context.Context, key CacheKey) dialect.Row {
	if c.cache == nil {
		return nil
	}
	b, err := c.cache.Get(ctx, key.String())
	if err != nil || b == nil {
		if err != nil {
			c.logger.DebugContext(ctx, "tessera: cache get failed", "key", key.String(), "error", err)
		}
		return nil
	}
	row, err := decodeRow(b)
	if err != nil {
		c.logger.DebugContext(ctx, "tessera: cache decode failed", "key", key.String(), "error", err)
		return nil
	}
	return row
}

func (c *Client) cacheSet(ctx context.Context, key CacheKey, row dialect.Row) {
	if c.cache == nil {
		return
	}
	b, err := encodeRow(row)
	if err == nil {
		err = c.cache.Set(ctx, key.String(), b, c.cacheTTL)
	}
	if err != nil {
		c.logger.DebugContext(ctx, "tessera: cache set failed", "key", key.String(), "error", err)
	}
}

func (c *Client) invalidate(ctx context.Context, table string) {
	if c.cache == nil {
		return
	}
	if t, ok := txFromContext(ctx); ok {
		t.touch(table)
	}
	if err := c.cache.DeletePrefix(ctx, TablePrefix(table)); err != nil {
		c.logger.WarnContext(ctx, "tessera: cache invalidation failed", "table", table, "error", err)
	}
}
