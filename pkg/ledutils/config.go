package ledutils

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the decoded shape of ledmon's TOML configuration file: a flat
// set of top-level scalars plus named sub-tables.
type Config struct {
	LogPath      string   `toml:"log_path"`
	LogLevel     string   `toml:"log_level"`
	IntervalSecs int      `toml:"interval"`
	Blacklist    []string `toml:"blacklist"`
	Whitelist    []string `toml:"whitelist"`

	RaidMembers map[string]RaidMemberOverride `toml:"raid_members"`
}

// RaidMemberOverride lets an operator pin a device path to a forced IBPI
// name, bypassing the RAID status provider for that one member. Values are
// parsed against ibpi.ByName by the caller, keeping this package independent
// of the ibpi package.
type RaidMemberOverride struct {
	ForceIBPI string `toml:"force_ibpi"`
}

const (
	// DefaultInterval is the monitor tick period when neither the config
	// file nor --interval override it.
	DefaultInterval = 10
	// MinInterval is the floor enforced on the monitor tick period.
	MinInterval = 5
)

// LoadConfig decodes path as TOML into a Config, applying the defaults the
// monitor loop falls back on when a field is absent.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.IntervalSecs == 0 {
		cfg.IntervalSecs = DefaultInterval
	}
	if cfg.IntervalSecs < MinInterval {
		cfg.IntervalSecs = MinInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warning"
	}

	return &cfg, nil
}
