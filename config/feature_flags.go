package config

import (
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	FeatureStartupPreload       = "startup_preload"       // warm the cache at process start
	FeatureScheduledRefresh     = "scheduled_refresh"     // daily refresh job
	FeatureManualRefresh        = "manual_refresh"        // POST /api/cache/refresh
	FeatureSuspensionAdjustment = "suspension_adjustment" // subtract suspension months
)

var ErrFeatureNotFound = errors.New("feature not found")

// Feature is the reported state of one flag.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type flag struct {
	name        string
	description string
	enabled     atomic.Bool
}

// FeatureFlags holds runtime toggles for the refresh triggers and the
// suspension adjustment. The set of flags is fixed at load time; their
// values can be flipped while running.
type FeatureFlags struct {
	flags []*flag // sorted by name
}

// LoadFeatureFlags seeds the flags from cfg and applies FEATURE_<NAME>
// overrides, e.g. FEATURE_MANUAL_REFRESH=false. With a nil cfg every flag
// starts enabled. Unparseable overrides are ignored.
func LoadFeatureFlags(cfg *Config) *FeatureFlags {
	preload, scheduled := true, true
	if cfg != nil {
		preload = cfg.Scheduler.StartupPreload
		scheduled = cfg.Scheduler.Enabled
	}

	ff := &FeatureFlags{}
	ff.define(FeatureManualRefresh, "Allow refreshing sources on demand over HTTP", true)
	ff.define(FeatureScheduledRefresh, "Refresh sources every day at the configured time", scheduled)
	ff.define(FeatureStartupPreload, "Refresh sources once when the server starts", preload)
	ff.define(FeatureSuspensionAdjustment, "Subtract suspended months from elapsed months", true)

	slices.SortFunc(ff.flags, func(a, b *flag) int { return strings.Compare(a.name, b.name) })
	return ff
}

func (ff *FeatureFlags) define(name, description string, enabled bool) {
	if raw := os.Getenv(envKey(name)); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			enabled = v
		}
	}
	f := &flag{name: name, description: description}
	f.enabled.Store(enabled)
	ff.flags = append(ff.flags, f)
}

// envKey maps "manual_refresh" to "FEATURE_MANUAL_REFRESH".
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func (ff *FeatureFlags) lookup(name string) *flag {
	i, ok := slices.BinarySearchFunc(ff.flags, name, func(f *flag, n string) int { return strings.Compare(f.name, n) })
	if !ok {
		return nil
	}
	return ff.flags[i]
}

// IsEnabled reports false for unknown flags.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	f := ff.lookup(name)
	return f != nil && f.enabled.Load()
}

// Check returns a live view of one flag for components that take a
// func() bool toggle.
func (ff *FeatureFlags) Check(name string) func() bool {
	return func() bool { return ff.IsEnabled(name) }
}

func (ff *FeatureFlags) SetEnabled(name string, enabled bool) error {
	f := ff.lookup(name)
	if f == nil {
		return ErrFeatureNotFound
	}
	f.enabled.Store(enabled)
	return nil
}

// GetAllFeatures returns a snapshot sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	out := make([]Feature, len(ff.flags))
	for i, f := range ff.flags {
		out[i] = Feature{Name: f.name, Description: f.description, Enabled: f.enabled.Load()}
	}
	return out
}
