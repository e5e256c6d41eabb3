// Package config implements the Configuration Loader (C1): reads the
// workspace's forge.json/forge.jsonc, producing a WorkspaceConfig that
// downstream components (Plugin Host, Discoverer, Remote Executor) consume.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"muzzammil.xyz/jsonc"

	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/project"
)

// ConfigFileNames are tried, in order, at the workspace root.
var ConfigFileNames = []string{"forge.json", "forge.jsonc"}

// PluginSpec describes one plugin to load, in declared order.
type PluginSpec struct {
	ID      string         `mapstructure:"id"`
	Version string         `mapstructure:"version"`
	Source  string         `mapstructure:"source"`
	Options map[string]any `mapstructure:"options"`
}

// RemoteExecutionConfig is the workspace-level remote-execution section,
// per spec.md §4.1/§4.9.
type RemoteExecutionConfig struct {
	Enabled               bool                     `mapstructure:"enabled"`
	Endpoint              string                   `mapstructure:"endpoint"`
	UseTLS                bool                     `mapstructure:"useTls"`
	MaxConnections        int                      `mapstructure:"maxConnections"`
	DefaultTimeoutSeconds int                      `mapstructure:"defaultTimeoutSeconds"`
	DefaultPlatform       map[string]string        `mapstructure:"defaultPlatform"`
	NamedEndpoints        map[string]NamedEndpoint `mapstructure:"namedEndpoints"`
}

// NamedEndpoint is a reusable remote-execution endpoint referenced by
// targets via RemoteExecutionOverride.NamedEndpoint.
type NamedEndpoint struct {
	Endpoint string `mapstructure:"endpoint"`
	UseTLS   bool   `mapstructure:"useTls"`
}

// AffectedConfig configures `buildAffected` behavior (spec.md §4.5).
type AffectedConfig struct {
	DefaultBase string `mapstructure:"defaultBase"`
}

// WorkspaceConfig is the parsed form of forge.json/forge.jsonc.
type WorkspaceConfig struct {
	Plugins         []PluginSpec              `mapstructure:"plugins"`
	NamedInputs     map[string][]string       `mapstructure:"namedInputs"`
	TargetDefaults  map[string]project.Target `mapstructure:"targetDefaults"`
	RemoteExecution RemoteExecutionConfig     `mapstructure:"remoteExecution"`
	Affected        AffectedConfig            `mapstructure:"affected"`
	// Parallelism caps the Scheduler's worker count, per spec.md §4.7's
	// "one logical worker per configured slot (default = host
	// parallelism)". Zero means uncapped (host parallelism applies).
	Parallelism int `mapstructure:"parallelism"`
}

// Default returns the configuration used when no workspace config file is
// present: no plugins, remote execution disabled, per spec.md §4.1.
func Default() *WorkspaceConfig {
	return &WorkspaceConfig{
		Plugins:        nil,
		NamedInputs:    map[string][]string{},
		TargetDefaults: map[string]project.Target{},
	}
}

// Load reads the workspace configuration rooted at workspaceRoot. A
// missing file yields Default(); malformed JSON/JSONC yields a
// forgeerr.ConfigParse error.
func Load(workspaceRoot string) (*WorkspaceConfig, error) {
	for _, name := range ConfigFileNames {
		path := filepath.Join(workspaceRoot, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("reading %s", path), err)
		}
		return parse(raw, path)
	}
	return Default(), nil
}

func parse(raw []byte, path string) (*WorkspaceConfig, error) {
	// jsonc.ToJSON strips // and /* */ comments and trailing commas so the
	// same file format works whether it's named forge.json or forge.jsonc.
	stripped := jsonc.ToJSON(raw)

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(stripped)); err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("parsing %s", path), err)
	}

	cfg := Default()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("decoding %s", path), err)
	}
	if cfg.NamedInputs == nil {
		cfg.NamedInputs = map[string][]string{}
	}
	if cfg.TargetDefaults == nil {
		cfg.TargetDefaults = map[string]project.Target{}
	}

	for _, p := range cfg.Plugins {
		if p.Version == "" {
			continue
		}
		if _, err := semver.NewVersion(p.Version); err != nil {
			return nil, forgeerr.Wrap(forgeerr.ConfigParse,
				fmt.Sprintf("plugin %q has an invalid version %q", p.ID, p.Version), err)
		}
	}

	return cfg, nil
}

// EffectiveTarget returns defaults ∪ target for the given target name, per
// spec.md §4.1.
func (c *WorkspaceConfig) EffectiveTarget(name string, target project.Target) project.Target {
	defaults, ok := c.TargetDefaults[name]
	if !ok {
		target.Name = name
		return target
	}
	return project.MergeTarget(defaults, target)
}
