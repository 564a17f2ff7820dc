// Package config loads the tunables a connection hub needs to drive
// HostWorldWriter/WorldChannel/reliable.Sender: packet sizing, resend
// timing, and record retention. Defaults are filled in the way the
// teacher's SyncerOpts fills its zero-valued fields, then a loaded YAML
// document is merged on top so an operator only needs to specify the
// values they actually want to change.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"sigs.k8s.io/yaml"
)

// ProtocolVersion is a major/minor/patch compatibility tag
// (SPEC_FULL.md §3). CompatibleWith accepts any peer whose major version
// matches, whatever its minor/patch; nothing in this module (pkg/hub
// included) calls it or logs version differences.
type ProtocolVersion [3]uint16

// String renders the version as "major.minor.patch".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// CompatibleWith reports whether v and other share the same major
// version, the only dimension that gates connection establishment.
func (v ProtocolVersion) CompatibleWith(other ProtocolVersion) bool {
	return v[0] == other[0]
}

// Version is this build's protocol version, bumped whenever a change
// to the wire format would break an older peer.
var Version = ProtocolVersion{1, 0, 0}

// Config holds every tunable a hub needs to run a connection.
type Config struct {
	// MTUBytes bounds every packet HostWorldWriter packs (spec.md §4.4).
	MTUBytes int `json:"mtuBytes"`

	// MaxNetEntity bounds a connection's NetEntity id space (spec.md §3).
	MaxNetEntity uint16 `json:"maxNetEntity"`

	// RTTEstimate seeds reliable.Sender's resend backoff before any real
	// round-trip samples are available.
	RTTEstimate time.Duration `json:"rttEstimate"`

	// RTTMultiplier scales RTTEstimate into the TTL used to prune update
	// and action records (spec.md §4.6: "update records are dropped
	// unconditionally after ~1.5xRTT").
	RTTMultiplier float64 `json:"rttMultiplier"`

	// TickBufferWindow is a window size for tickbuffer.New (SPEC_FULL.md
	// §4.9). pkg/hub creates no tick buffers, so nothing in this module
	// reads it.
	TickBufferWindow int `json:"tickBufferWindow"`

	// TickInterval is the wall-clock period between hub ticks.
	TickInterval time.Duration `json:"tickInterval"`

	// PruneInterval is not read by pkg/hub, which sweeps a connection's
	// stale update/action records on every tick.
	PruneInterval time.Duration `json:"pruneInterval"`
}

// Default returns the baseline configuration every loaded document is
// merged on top of.
func Default() Config {
	return Config{
		MTUBytes:         1200,
		MaxNetEntity:     65535,
		RTTEstimate:      100 * time.Millisecond,
		RTTMultiplier:    1.5,
		TickBufferWindow: 64,
		TickInterval:     50 * time.Millisecond,
		PruneInterval:    1 * time.Second,
	}
}

// RecordTTL returns the duration used to prune update/action records,
// derived from RTTEstimate and RTTMultiplier.
func (c Config) RecordTTL() time.Duration {
	return time.Duration(float64(c.RTTEstimate) * c.RTTMultiplier)
}

// Load reads a YAML document from path and merges it over Default(),
// so the file only needs to name the fields it overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if err := mergo.Merge(&cfg, loaded, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("config: merge %s: %w", path, err)
	}
	return cfg, nil
}
