// Package vmd implements the VMD/PCI-slot Transport: block
// devices re-parented under a Volume Management Device root complex are
// driven through the PCIe hotplug slot's `attention` sysfs attribute rather
// than through NPEM or SES.
//
// The upward trace to a hotplug slot directory follows the same sysfs
// walking style as package registry, adapted here to VMD's nvme-segment
// convention.
package vmd

import (
	"strconv"
	"strings"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/sysfs"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

var log = ledutils.ComponentLogger("vmd")

// SysBusPCISlotsPath is the hotplug slot directory root. A var, not a const,
// so tests can point it at a scratch tree.
var SysBusPCISlotsPath = "/sys/bus/pci/slots"

// slotForDevice walks dev.SysfsPath's ancestors until the component just
// before an "nvme" segment, then strips a trailing ".function" suffix (e.g.
// "0000:17:00.0" -> "0000:17:00").
func slotForDevice(sysfsPath string) (string, bool) {
	parts := strings.Split(strings.Trim(sysfsPath, "/"), "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "nvme") && i > 0 {
			bdf := parts[i-1]
			if dot := strings.LastIndex(bdf, "."); dot != -1 {
				bdf = bdf[:dot]
			}
			return bdf, true
		}
	}
	return "", false
}

// slotDomain extracts the PCI domain component of a slot BDF address, e.g.
// "0000" from "0000:17:00".
func slotDomain(bdf string) string {
	if idx := strings.Index(bdf, ":"); idx != -1 {
		return bdf[:idx]
	}
	return ""
}

// isVMDSlot verifies the candidate slot's address string belongs to the
// supplied VMD controller's domain, excluding ordinary PCIe hotplug slots
// that happen to also host an nvme device directly on the root bus.
func isVMDSlot(slotAddr, vmdDomain string) bool {
	return vmdDomain != "" && slotDomain(slotAddr) == vmdDomain
}

func attentionPath(slotAddr string) string {
	return SysBusPCISlotsPath + "/" + slotAddr + "/attention"
}

// Transport implements api.Transport for VMD-backed devices.
type Transport struct {
	// VMDDomain is the root-complex PCI domain used to validate that a
	// resolved slot truly belongs to this VMD controller.
	VMDDomain string
}

// Write resolves dev's hotplug slot and writes the encoded attention
// nibble. An indication with no VMD nibble mapping returns InvalidState
// rather than guessing a nearby pattern.
func (t Transport) Write(dev api.Device, ind ibpi.Indication) error {
	slotAddr, ok := slotForDevice(dev.SysfsPath)
	if !ok {
		return ledstatus.New(ledstatus.InvalidPath, "no nvme hotplug slot above %s", dev.SysfsPath)
	}
	if !isVMDSlot(slotAddr, t.VMDDomain) {
		return ledstatus.New(ledstatus.InvalidController, "slot %s is not under VMD domain %s", slotAddr, t.VMDDomain)
	}

	nibble, ok := ibpi.VMDNibble(ind)
	if !ok {
		return ledstatus.New(ledstatus.InvalidState, "pattern %s has no VMD attention encoding", ind)
	}

	path := attentionPath(slotAddr)
	if err := writeDecimal(path, nibble); err != nil {
		return ledstatus.New(ledstatus.FileWriteError, "writing %s: %v", path, err)
	}
	log.WithField("slot", slotAddr).WithField("pattern", ind).Debug("wrote VMD attention nibble")
	return nil
}

// Get reads back the attention nibble and decodes it to an IBPI
// indication.
func Get(dev api.Device, vmdDomain string) (ibpi.Indication, error) {
	slotAddr, ok := slotForDevice(dev.SysfsPath)
	if !ok {
		return ibpi.Unknown, ledstatus.New(ledstatus.InvalidPath, "no nvme hotplug slot above %s", dev.SysfsPath)
	}
	if !isVMDSlot(slotAddr, vmdDomain) {
		return ibpi.Unknown, ledstatus.New(ledstatus.InvalidController, "slot %s is not under VMD domain %s", slotAddr, vmdDomain)
	}

	text := sysfs.ReadText(attentionPath(slotAddr))
	if text == "" {
		return ibpi.Unknown, ledstatus.New(ledstatus.FileReadError, "attention sysfs node missing for slot %s", slotAddr)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 8)
	if err != nil {
		return ibpi.Unknown, ledstatus.New(ledstatus.DataError, "attention value %q is not decimal", text)
	}
	return ibpi.DecodeVMD(byte(n)), nil
}

func writeDecimal(path string, nibble byte) error {
	return sysfs.WriteText(path, strconv.Itoa(int(nibble)))
}
