// Package registry implements the Device Registry: it cross-indexes
// controllers, enclosures, slots and block devices discovered by a scan,
// and is rebuilt wholesale on each re-scan.
//
package registry

import (
	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
)

// HostPort is one SAS host-facing phy port. Each port owns its own 4-byte
// outbound TX register cache and dirty flag.
type HostPort struct {
	PhyIndex int
	TXCache  [4]byte
	Dirty    bool
}

// Controller is a storage controller discovered in the kernel device tree.
// Identity is its sysfs path; it is immutable once created by a scan and is
// destroyed wholesale at teardown.
type Controller struct {
	Path            string
	Type            classify.Type
	EnclosureMgmtOK bool
	HostPorts       []*HostPort
	SASHostName     string // e.g. "host3", empty for non-SAS controllers
}

// NewHostPorts allocates n zeroed host-ports (one per phy) for a SAS
// controller.
func NewHostPorts(n int) []*HostPort {
	ports := make([]*HostPort, n)
	for i := range ports {
		ports[i] = &HostPort{PhyIndex: i}
	}
	return ports
}

// Enclosure is a character-device endpoint in /dev/bsg/ (or equivalent)
// fronting an SES target. Its SES pages are lazily loaded by the ses
// transport and are not modeled here; the registry only tracks identity and
// the slot table used to bind block devices to element indices.
type Enclosure struct {
	Path       string
	Slots      []EnclosureSlot
	ChangesPending bool
}

// EnclosureSlot is one {element_index, sas_address} pair parsed from an
// enclosure's additional-element-status page, indexed by descriptor
// position.
type EnclosureSlot struct {
	ElementIndex int
	SASAddress   uint64
}

// SlotKind tags which of the three slot variants a Slot value holds.
// Dispatch on Kind is a tag-match, not a hidden interface v-table.
type SlotKind int

const (
	SlotNone SlotKind = iota
	SlotPCI
	SlotSES
	SlotNPEM
)

// Slot is the tagged union over the three physical slot variants: PCI
// hotplug slot, SES element, or NPEM controller-as-slot.
type Slot struct {
	Kind SlotKind

	// SlotPCI
	SysfsPath string
	Address   string

	// SlotSES
	EnclosureRef *Enclosure
	ElementIndex int

	// SlotNPEM
	ControllerRef *Controller
}

// BlockDevice is one managed drive, borrowing references into the
// registry's controller and (optionally) enclosure tables.
type BlockDevice struct {
	SysfsPath    string
	Name         string // e.g. "sda", the device-node basename
	Controller   *Controller
	Enclosure    *Enclosure
	EnclIndex    int // -1 if no enclosure binding
	PhyIndex     int // SAS phy index, for SGPIO
	BDF          string // PCI bus:device.function, for VMD/NPEM/Dell
	SASAddress   uint64

	IBPICurrent  ibpi.Indication
	IBPIDesired  ibpi.Indication
	IBPIPrevious ibpi.Indication // last pattern actually written
}

// HasEnclosure reports whether the device is bound to an enclosure slot:
// Enclosure is set and EnclIndex is not -1.
func (b *BlockDevice) HasEnclosure() bool {
	return b.Enclosure != nil && b.EnclIndex != -1
}
