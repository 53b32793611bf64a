// Package api defines the closed transport interface every protocol-
// specific backend implements: Write plus an optional Flush. Dispatch
// across transports is a tag-match on registry.Controller.Type, not a
// hidden v-table.
package api

import "github.com/intel/ledmon-sub002/pkg/ibpi"

// Transport delivers a normalized IBPI indication to one block device.
// Write does not have to skip a repeated Indication: the monitor loop only
// dispatches when the desired IBPI differs from the last one written. Of the
// transports, only dellipmi also skips a repeated Indication on its own.
type Transport interface {
	Write(dev Device, ind ibpi.Indication) error
}

// Flusher is implemented by transports that batch per-device writes and
// require an explicit commit (only the SES transport.D).
type Flusher interface {
	Flush(enclosure string) error
}

// Device is the minimal view of a registry.BlockDevice a transport needs,
// kept narrow so transports don't import the registry package and create a
// cycle.
type Device struct {
	SysfsPath  string
	BDF        string
	PhyIndex   int
	HostName   string // SAS host, e.g. "host3"
	SASAddress uint64

	EnclosurePath string
	ElementIndex  int
}
