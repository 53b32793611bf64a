package raidstatus

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
)

// fixtureFile is the on-disk shape of a static RAID-status fixture: a flat
// device-name -> IBPI-pattern-name table, for driving the monitor loop
// without a live /proc/mdstat.
type fixtureFile struct {
	Members map[string]string `toml:"members"`
}

// FixtureProvider implements Provider by decoding a TOML file once per
// Refresh, so an operator (or a test) can edit it between ticks to drive
// the monitor loop deterministically.
type FixtureProvider struct {
	Path string
}

func (p *FixtureProvider) Refresh() (map[string]ibpi.Indication, error) {
	var ff fixtureFile
	if _, err := toml.DecodeFile(p.Path, &ff); err != nil {
		return nil, fmt.Errorf("decode RAID status fixture %s: %w", p.Path, err)
	}

	out := make(map[string]ibpi.Indication, len(ff.Members))
	for dev, name := range ff.Members {
		ind, ok := ibpi.ByName(name)
		if !ok {
			return nil, fmt.Errorf("fixture %s: unrecognized IBPI pattern %q for device %q", p.Path, name, dev)
		}
		out[dev] = ind
	}
	return out, nil
}
