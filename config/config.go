// Package config holds the read-only configuration threaded explicitly
// through every pass. Built with functional options, the same idiom used
// elsewhere in this codebase to build up a compregister.Registry.
package config

import (
	"golang.org/x/mod/semver"

	"farc/diag"
)

// Space is the default memory space new allocations are placed in absent a
// more specific hint.
type Space string

const (
	SpaceDefault Space = "default" // host memory
	SpaceDevice  Space = "device"
	SpaceLocal   Space = "local" // kernel-local / workgroup-shared
)

// Config is the read-only knob bag passed to every pass.
type Config struct {
	Logger diag.Logger

	DefaultSpace Space

	// SimplifyFixpointFactor bounds the number of simplification rounds a
	// pass may run: cap = SimplifyFixpointFactor * initialBindingCount.
	// Excess iterations indicate a buggy rule and should fail loudly rather
	// than loop.
	SimplifyFixpointFactor int

	// Default tuning for the blocked-reduction lowering. Neither is
	// compile-time-known; these are configuration defaults used when no
	// device profile overrides them.
	DefaultNumChunks  int
	DefaultGroupSize  int

	// MinCoreVersion gates optional rewrite rules the way a long-lived
	// compiler gates language features behind a version flag. Must be a
	// valid semver ("vX.Y.Z"); rules registered with a higher
	// RequiredVersion are skipped.
	MinCoreVersion string
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithLogger overrides the logger (default: diag.NoOp()).
func WithLogger(l diag.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithDefaultSpace overrides the default allocation space.
func WithDefaultSpace(s Space) Option {
	return func(c *Config) { c.DefaultSpace = s }
}

// WithSimplifyFixpointFactor overrides the simplifier's iteration-cap
// multiplier.
func WithSimplifyFixpointFactor(n int) Option {
	return func(c *Config) { c.SimplifyFixpointFactor = n }
}

// WithBlockedReductionDefaults overrides the default chunk/group tuning.
func WithBlockedReductionDefaults(numChunks, groupSize int) Option {
	return func(c *Config) {
		c.DefaultNumChunks = numChunks
		c.DefaultGroupSize = groupSize
	}
}

// WithMinCoreVersion overrides the version gate.
func WithMinCoreVersion(v string) Option {
	return func(c *Config) { c.MinCoreVersion = v }
}

// New builds a Config with sane defaults, then applies opts in order.
func New(opts ...Option) *Config {
	c := &Config{
		Logger:                 diag.NoOp(),
		DefaultSpace:           SpaceDefault,
		SimplifyFixpointFactor: 20,
		DefaultNumChunks:       32,
		DefaultGroupSize:       256,
		MinCoreVersion:         "v1.0.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RuleEnabled reports whether a rule gated behind requiredVersion may fire
// under this config's MinCoreVersion.
func (c *Config) RuleEnabled(requiredVersion string) bool {
	if requiredVersion == "" {
		return true
	}
	return semver.Compare(c.MinCoreVersion, requiredVersion) >= 0
}
