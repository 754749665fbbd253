// Package configstore persists awsconnect defaults: the profile and region to
// use when flags leave them out, plus per-profile target defaults. The file
// lives at $XDG_CONFIG_HOME/awsconnect/config.toml and never holds
// credentials.
package configstore

import "strings"

// Config is the persisted configuration.
type Config struct {
	Profile  string                     `toml:"profile,omitempty"`
	Region   string                     `toml:"region,omitempty"`
	Command  string                     `toml:"command,omitempty"`
	Profiles map[string]ProfileDefaults `toml:"profiles,omitempty"`
}

// ProfileDefaults narrows discovery for one profile so frequent targets need
// no flags at all.
type ProfileDefaults struct {
	Region    string `toml:"region,omitempty"`
	Cluster   string `toml:"cluster,omitempty"`
	Service   string `toml:"service,omitempty"`
	Container string `toml:"container,omitempty"`
}

// New returns a Config with initialized maps. Callers that mutate the
// configuration should start from this constructor to avoid nil maps.
func New() Config {
	return Config{Profiles: make(map[string]ProfileDefaults)}
}

func (c *Config) ensureInitialized() {
	if c.Profiles == nil {
		c.Profiles = make(map[string]ProfileDefaults)
	}
}

// ForProfile returns the defaults recorded for the named profile, or the zero
// value when none exist.
func (c Config) ForProfile(name string) ProfileDefaults {
	if c.Profiles == nil {
		return ProfileDefaults{}
	}
	return c.Profiles[strings.TrimSpace(name)]
}

// SetProfileDefaults records defaults for a profile. Zero-value defaults
// remove the entry.
func (c *Config) SetProfileDefaults(name string, defaults ProfileDefaults) {
	c.ensureInitialized()
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if defaults == (ProfileDefaults{}) {
		delete(c.Profiles, name)
		return
	}
	c.Profiles[name] = defaults
}
