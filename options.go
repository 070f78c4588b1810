package snapshotgen

import (
	"context"
	"fmt"

	"github.com/gofhir/snapshotgen/loader"
	"github.com/gofhir/snapshotgen/logger"
	"github.com/gofhir/snapshotgen/snapcache"
)

// Option configures the Engine.
type Option func(*Config)

// Config holds all configuration for the Engine.
type Config struct {
	// Context lists the packages loaded for this engine, in load order.
	Context []loader.PackageRef

	// CachePath is the root directory for package and snapshot caches.
	CachePath string

	// FHIRVersion is the engine's operating version; default R4 (4.0.1).
	FHIRVersion FHIRVersion

	// DefaultFHIRVersion is the fallback passed to the base-library
	// version resolver when a package's own FHIR version can't be
	// determined from its manifest. Defaults to FHIRVersion.
	DefaultFHIRVersion FHIRVersion

	// CacheMode selects the snapshot cache coordinator's behaviour.
	CacheMode snapcache.Mode

	// Logger receives warnings for recoverable fallbacks and errors for
	// fatal paths. Defaults to logger.Noop{}.
	Logger logger.Interface

	// Metrics, if non-nil, records cache hit/miss and generation timing.
	Metrics *Metrics

	// Ctx is the context threaded through package-loader calls made
	// during engine construction (e.g. ensure/rebuild precache). It is
	// not retained past New; per-call contexts are passed to GetSnapshot.
	Ctx context.Context

	fhirVersionInput string
}

// DefaultConfig returns the engine's default configuration: R4, lazy
// caching, no-op logging, no metrics.
func DefaultConfig() *Config {
	return &Config{
		FHIRVersion:        R4,
		DefaultFHIRVersion: R4,
		CacheMode:          snapcache.ModeLazy,
		Logger:             logger.Noop{},
		Ctx:                context.Background(),
	}
}

// WithContext sets the packages loaded into the engine's context, each
// given in any of the accepted textual forms ("id#version",
// "id@version", or "id" for latest) or as an already-parsed
// loader.PackageRef.
func WithContext(refs ...any) Option {
	return func(c *Config) {
		c.Context = make([]loader.PackageRef, 0, len(refs))
		for _, r := range refs {
			switch v := r.(type) {
			case loader.PackageRef:
				c.Context = append(c.Context, v)
			case string:
				c.Context = append(c.Context, loader.ParsePackageRef(v))
			}
		}
	}
}

// WithCachePath sets the root directory for package and snapshot caches.
func WithCachePath(path string) Option {
	return func(c *Config) { c.CachePath = path }
}

// WithFHIRVersion sets the engine's operating version from any of its
// accepted textual forms. Validated (and DefaultFHIRVersion defaulted
// from it) when New resolves the final Config.
func WithFHIRVersion(input string) Option {
	return func(c *Config) { c.fhirVersionInput = input }
}

// WithDefaultFHIRVersion overrides the fallback version passed to the
// base-library version resolver (baseversion.Resolve) when a package's
// own manifest doesn't declare one. Takes an already-validated
// FHIRVersion, bypassing string parsing.
func WithDefaultFHIRVersion(v FHIRVersion) Option {
	return func(c *Config) { c.DefaultFHIRVersion = v }
}

// WithCacheMode selects lazy/ensure/rebuild/none cache coordinator
// behaviour; default lazy.
func WithCacheMode(mode snapcache.Mode) Option {
	return func(c *Config) { c.CacheMode = mode }
}

// WithLogger installs a custom logger, satisfying only
// logger.Interface's three-method capability set; a bare string via
// logger.NewStringLogger works here too.
func WithLogger(log logger.Interface) Option {
	return func(c *Config) { c.Logger = log }
}

// WithMetrics installs a Metrics collector the engine records cache and
// generation events into.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithCallerContext sets the context.Context threaded through
// construction-time package-loader calls (ensure/rebuild precache).
func WithCallerContext(ctx context.Context) Option {
	return func(c *Config) { c.Ctx = ctx }
}

// resolveConfig applies opts over DefaultConfig and validates the result,
// resolving the raw fhirVersionInput (if any) through ParseFHIRVersion
// and defaulting DefaultFHIRVersion from FHIRVersion when not overridden.
func resolveConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	defaultOverridden := false
	for _, opt := range opts {
		before := c.DefaultFHIRVersion
		opt(c)
		if c.DefaultFHIRVersion != before {
			defaultOverridden = true
		}
	}

	if c.fhirVersionInput != "" {
		v, err := ParseFHIRVersion(c.fhirVersionInput)
		if err != nil {
			return nil, err
		}
		c.FHIRVersion = v
		if !defaultOverridden {
			c.DefaultFHIRVersion = v
		}
	}

	if !c.FHIRVersion.IsValid() {
		return nil, &ErrUnknownVersion{Input: string(c.FHIRVersion)}
	}
	if c.Logger == nil {
		c.Logger = logger.Noop{}
	}
	if c.Ctx == nil {
		c.Ctx = context.Background()
	}
	if c.CachePath == "" {
		return nil, fmt.Errorf("snapshotgen: cachePath is required")
	}
	return c, nil
}
