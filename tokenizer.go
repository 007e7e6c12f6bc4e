// File: tokenizer.go

package tokenizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// touchTimeout bounds the detached last-used update after authentication.
const touchTimeout = 5 * time.Second

// Tokenizer wires drivers, the record store, the revocation caches and the
// event bus together. It is safe for concurrent use; create one Guard per
// request with Guard.
type Tokenizer struct {
	config      *Config
	registry    *Registry
	store       TokenStore
	cache       *RevocationCache
	cacheStore  CacheStore
	ownsCache   bool
	bus         *EventBus
	concurrency *ConcurrencyPolicy
	providers   Providers
	resolver    SubjectResolver
	hooks       Hooks
	clock       Clock
	logger      *slog.Logger
	lifetimes   Lifetimes

	factories map[DriverKind]DriverFactory
	touches   sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tokenizer) {
		t.logger = logger
	}
}

func WithClock(clock Clock) Option {
	return func(t *Tokenizer) {
		t.clock = clock
	}
}

// WithCache sets the backend of the blacklist and whitelist, replacing the
// one selected by cache.driver.
func WithCache(store CacheStore) Option {
	return func(t *Tokenizer) {
		t.cacheStore = store
	}
}

// WithResolver replaces the provider lookup used to materialize token
// owners.
func WithResolver(resolver SubjectResolver) Option {
	return func(t *Tokenizer) {
		t.resolver = resolver
	}
}

// WithProvider registers the provider of one owner type.
func WithProvider(ownerType string, provider UserProvider) Option {
	return func(t *Tokenizer) {
		t.providers[ownerType] = provider
	}
}

func WithHooks(hooks Hooks) Option {
	return func(t *Tokenizer) {
		t.hooks = hooks
	}
}

// WithDriver registers a custom driver kind.
func WithDriver(kind DriverKind, factory DriverFactory) Option {
	return func(t *Tokenizer) {
		t.factories[kind] = factory
	}
}

// New creates a Tokenizer persisting records in store. The configuration
// is sanitized in place; the default driver is built immediately so that
// missing key material fails here.
func New(cfg *Config, store TokenStore, opts ...Option) (*Tokenizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("token store cannot be nil")
	}
	if err := cfg.Sanitize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &Tokenizer{
		config:    cfg,
		store:     store,
		providers: make(Providers),
		factories: make(map[DriverKind]DriverFactory),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		t.clock = RealClock()
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.resolver == nil {
		t.resolver = t.providers
	}
	t.lifetimes = cfg.Lifetimes()

	if cfg.Store.NodeID != 0 {
		if err := SetNodeID(cfg.Store.NodeID); err != nil {
			return nil, err
		}
	}

	registryOpts := []RegistryOption{WithRegistryClock(t.clock)}
	for kind, factory := range t.factories {
		registryOpts = append(registryOpts, WithDriverFactory(kind, factory))
	}
	registry, err := NewRegistry(cfg, registryOpts...)
	if err != nil {
		return nil, err
	}
	t.registry = registry

	if err := t.initCache(); err != nil {
		return nil, err
	}

	t.bus = NewEventBus(cfg.Events, t.logger)
	t.cache.Subscribe(t.bus)
	if cfg.Concurrency.Enabled {
		t.concurrency = NewConcurrencyPolicy(cfg.Concurrency, store, t.bus, t.clock, t.logger)
		t.bus.Subscribe(t.concurrency, EventAccessTokenCreated)
	}

	return t, nil
}

func (t *Tokenizer) initCache() error {
	cfg := t.config.Cache
	if t.cacheStore == nil && (cfg.BlacklistEnabled || cfg.WhitelistEnabled) {
		switch cfg.Driver {
		case "memory":
			t.cacheStore = NewMemoryCacheStore(t.clock, 0)
			t.ownsCache = true
		case "redis":
			store, err := NewRedisCacheStoreFromConfig(cfg.Redis)
			if err != nil {
				return fmt.Errorf("failed to initialize cache: %w", err)
			}
			t.cacheStore = store
			t.ownsCache = true
		default:
			return fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
		}
	}
	t.cache = NewRevocationCache(t.cacheStore, cfg, t.clock)
	return nil
}

// Guard creates the named guard for one request. Unknown guard names use
// the default driver and input key.
func (t *Tokenizer) Guard(name string, req Request) (*Guard, error) {
	cfg := t.config.Guard(name)
	driver, err := t.registry.Driver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return &Guard{
		name:    name,
		cfg:     cfg,
		request: req,
		driver:  driver,
		t:       t,
	}, nil
}

// Grant returns a grant issuing tokens for subject with the named driver,
// for use outside a request.
func (t *Tokenizer) Grant(driverName string, subject Subject) (*Grant, error) {
	driver, err := t.registry.Driver(driverName)
	if err != nil {
		return nil, err
	}
	return t.newGrant(driver).WithSubject(subject), nil
}

func (t *Tokenizer) newGrant(driver Driver) *Grant {
	return NewGrant(driver, t.store,
		WithGrantDispatcher(t.bus),
		WithGrantClock(t.clock),
		WithGrantLifetimes(t.lifetimes),
		WithGrantSerializer(t.hooks.TokenPairSerializer),
	)
}

// Extend registers a custom driver kind after construction.
func (t *Tokenizer) Extend(kind DriverKind, factory DriverFactory) {
	t.registry.Extend(kind, factory)
}

// touch records the use of record without blocking the request.
func (t *Tokenizer) touch(record *TokenRecord) {
	if record == nil {
		return
	}
	at := t.clock.Now().UTC().Truncate(time.Second)

	t.touches.Add(1)
	go func() {
		defer t.touches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()

		if err := t.store.Touch(ctx, record.ID, at); err != nil {
			t.logger.Warn("failed to update token last use", "token_id", record.ID, "error", err)
		}
	}()
}

// Purger returns a purger over the tokenizer's store.
func (t *Tokenizer) Purger() *Purger {
	return NewPurger(t.store, t.clock, t.logger)
}

func (t *Tokenizer) Config() *Config                 { return t.config }
func (t *Tokenizer) Registry() *Registry             { return t.registry }
func (t *Tokenizer) Store() TokenStore               { return t.store }
func (t *Tokenizer) Cache() *RevocationCache         { return t.cache }
func (t *Tokenizer) Events() *EventBus               { return t.bus }
func (t *Tokenizer) Concurrency() *ConcurrencyPolicy { return t.concurrency }

// Close waits for pending last-use updates, drains the event bus and
// closes the cache backend it opened. A backend passed with WithCache is
// left open.
func (t *Tokenizer) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.touches.Wait()
		t.bus.Close()
		if closer, ok := t.cacheStore.(io.Closer); ok && t.ownsCache {
			err = closer.Close()
		}
	})
	return err
}
