// Package classify implements the Protocol Classifier: the
// decision tree that labels each storage controller with the enclosure
// management protocol that governs it.
//
// Controller identity is read straight off PCI sysfs properties
// (driver symlink, vendor/device/class ids, capability list).
package classify

import (
	"path/filepath"
	"strings"

	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/sysfs"
	"github.com/intel/ledmon-sub002/pkg/transport/npem"
)

var log = ledutils.ComponentLogger("classify")

// Type is the Classifier's output label.
type Type string

const (
	AHCI    Type = "AHCI"
	SCSI    Type = "SCSI"
	VMD     Type = "VMD"
	NPEM    Type = "NPEM"
	DellSSD Type = "DELLSSD"
	AMD     Type = "AMD"
	Unknown Type = "UNKNOWN"
)

const (
	// Dell/Micron OEM PCI ids.
	dellMicronVendor = "0x1344"
	dellMicronDevice = "0x5150"
	dellSubsysVendor = "0x1028"
	dellSubsysClass  = "0x10802"

	intelVendor = "0x8086"
)

// Fixed sysfs roots. These are vars, not consts, so tests can
// point them at a scratch tree instead of the real /sys.
var (
	SysClassEnclosure = "/sys/class/enclosure"
	SysClassSASHost   = "/sys/class/sas_host"
	SysModuleLibAHCI  = "/sys/module/libahci"
)

// Classify applies the protocol decision tree to controller path ctrlPath,
// evaluating rules in order and returning the first match.
func Classify(ctrlPath string) Type {
	driver := driverName(ctrlPath)

	if driver == "vmd" {
		return VMD
	}

	if isDellMicronOEM(ctrlPath) {
		return DellSSD
	}

	if isMassStorageClass(ctrlPath) {
		if driver == "ahci" && prop(ctrlPath, "vendor") == intelVendor {
			if ahciEnclosureManagementGate(driver) {
				return AHCI
			}
			log.WithField("controller", ctrlPath).Debug("ahci_em_messages gate closed controller")
			return Unknown
		}
		if driver == "isci" || hasAttachedEnclosure(ctrlPath) || smpGPIOProbe(ctrlPath) {
			return SCSI
		}
	}

	if hasNPEMCapability(ctrlPath) {
		return NPEM
	}

	return Unknown
}

// PassesFilter reports whether ctrlPath survives the configured
// whitelist/blacklist: whitelist wins if present, otherwise blacklist
// excludes. Both lists hold shell glob patterns matched against ctrlPath.
func PassesFilter(ctrlPath string, whitelist, blacklist []string) bool {
	if len(whitelist) > 0 {
		return matchesAny(ctrlPath, whitelist)
	}
	if len(blacklist) > 0 {
		return !matchesAny(ctrlPath, blacklist)
	}
	return true
}

func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}

func driverName(ctrlPath string) string {
	target := sysfs.Readlink(filepath.Join(ctrlPath, "driver"))
	if target == "" {
		return ""
	}
	return sysfs.Basename(target)
}

func prop(ctrlPath, name string) string {
	return sysfs.ReadText(filepath.Join(ctrlPath, name))
}

func isDellMicronOEM(ctrlPath string) bool {
	if prop(ctrlPath, "vendor") == dellMicronVendor && prop(ctrlPath, "device") == dellMicronDevice {
		return true
	}
	subVendor := prop(ctrlPath, "subsystem_vendor")
	class := prop(ctrlPath, "class")
	return subVendor == dellSubsysVendor && strings.HasPrefix(class, dellSubsysClass)
}

func isMassStorageClass(ctrlPath string) bool {
	class := prop(ctrlPath, "class")
	return len(class) >= 2 && strings.HasPrefix(strings.TrimPrefix(class, "0x"), "01")
}

// hasAttachedEnclosure reports whether sysfs already advertises an
// enclosure attached below ctrlPath, used as one of the SCSI fallback
// signals.
func hasAttachedEnclosure(ctrlPath string) bool {
	for _, e := range sysfs.ListDir(SysClassEnclosure) {
		target := sysfs.Readlink(e)
		if target != "" && strings.HasPrefix(target, ctrlPath) {
			return true
		}
	}
	return false
}

// smpGPIOProbe reports whether an SMP READ GPIO probe would succeed for
// ctrlPath's SAS host, i.e. a sas_host entry exists below it. The actual SMP
// exchange lives in the sgpio transport; classification only needs to know
// a host-port is reachable.
func smpGPIOProbe(ctrlPath string) bool {
	for _, h := range sysfs.ListDir(SysClassSASHost) {
		target := sysfs.Readlink(h)
		if target != "" && strings.HasPrefix(target, ctrlPath) {
			return true
		}
	}
	return false
}

// hasNPEMCapability reads the PCIe extended config space looking for
// capability ID 0x29 with its "capable" bit set. The register layout lives in pkg/transport/npem, which the
// classifier reuses directly rather than duplicating the config-space
// offsets here.
func hasNPEMCapability(ctrlPath string) bool {
	return npem.HasCapability(ctrlPath)
}

// ahciEnclosureManagementGate reports whether ahci_em_messages is enabled
// and driverName appears as a holder of libahci (absence of the holders
// directory is treated as enabled).
func ahciEnclosureManagementGate(driver string) bool {
	modParam := filepath.Join(SysModuleLibAHCI, "parameters", "ahci_em_messages")
	enabled := sysfs.ReadInt(modParam, 0) != 0 || sysfs.ReadBool(modParam, false)

	holdersDir := filepath.Join(SysModuleLibAHCI, "holders")
	holders := sysfs.ListDir(holdersDir)
	if holders == nil {
		return enabled
	}
	for _, h := range holders {
		if sysfs.Basename(h) == driver {
			return enabled
		}
	}
	return false
}
