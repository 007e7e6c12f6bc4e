// File: registry.go

package tokenizer

import (
	"fmt"
	"sync"
)

// Registry builds and caches the configured drivers by name.
type Registry struct {
	mu        sync.RWMutex
	config    *Config
	clock     Clock
	factories map[DriverKind]DriverFactory
	drivers   map[string]Driver
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithDriverFactory registers a factory for a custom driver kind before the
// default driver is built.
func WithDriverFactory(kind DriverKind, factory DriverFactory) RegistryOption {
	return func(r *Registry) {
		r.factories[kind] = factory
	}
}

// WithRegistryClock sets the clock handed to drivers.
func WithRegistryClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry creates a registry for cfg and builds the default driver so
// configuration and key material errors surface immediately.
func NewRegistry(cfg *Config, opts ...RegistryOption) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	r := &Registry{
		config: cfg,
		clock:  RealClock(),
		factories: map[DriverKind]DriverFactory{
			KindHash: NewHmacDriverFactory,
			KindJWT:  NewJWTDriverFactory,
		},
		drivers: make(map[string]Driver),
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.Driver(cfg.Default.Driver); err != nil {
		return nil, fmt.Errorf("failed to build default driver: %w", err)
	}
	return r, nil
}

// Extend registers a factory for kind. Cached drivers of that kind are
// rebuilt on next use.
func (r *Registry) Extend(kind DriverKind, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[kind] = factory
	for name := range r.drivers {
		if r.config.Drivers[name].Kind == kind {
			delete(r.drivers, name)
		}
	}
}

// DefaultName returns the name of the default driver.
func (r *Registry) DefaultName() string {
	return r.config.Default.Driver
}

// Driver returns the named driver, building it on first use. An empty name
// selects the default driver.
func (r *Registry) Driver(name string) (Driver, error) {
	if name == "" {
		name = r.config.Default.Driver
	}

	r.mu.RLock()
	driver, ok := r.drivers[name]
	r.mu.RUnlock()
	if ok {
		return driver, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if driver, ok := r.drivers[name]; ok {
		return driver, nil
	}

	cfg, ok := r.config.Drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, name)
	}
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no factory for kind %s of driver %s", ErrDriverNotFound, cfg.Kind, name)
	}

	driver, err := factory(name, cfg, DriverOptions{
		KeyPath:             r.config.KeyPath,
		Clock:               r.clock,
		MaxGenerateAttempts: r.config.MaxGenerateAttempts,
		Default:             name == r.config.Default.Driver,
	})
	if err != nil {
		return nil, err
	}

	r.drivers[name] = driver
	return driver, nil
}
