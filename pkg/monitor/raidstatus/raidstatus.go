// Package raidstatus defines the narrow external RAID status provider the
// monitor loop polls each tick: one concrete /proc/mdstat reader plus a
// TOML fixture reader for offline/test mode.
package raidstatus

import "github.com/intel/ledmon-sub002/pkg/ibpi"

// Provider refreshes per-member desired IBPI state, keyed by the block
// device's node name (e.g. "sda", matching registry.BlockDevice.Name).
// Devices that are not RAID members simply do not appear in the returned
// map; the monitor loop leaves their desired IBPI untouched.
type Provider interface {
	Refresh() (map[string]ibpi.Indication, error)
}
