package registry

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/sysfs"
	"github.com/intel/ledmon-sub002/pkg/transport/ses"
	"github.com/intel/ledmon-sub002/pkg/transport/sgpio"
)

var log = ledutils.ComponentLogger("registry")

// sysfs roots, overridable so tests can point a scan at a scratch tree
// (mirrors the classify/vmd/sgpio/ses packages' SysClass*/SysBus* vars).
var (
	sysBusPCIDevices  = "/sys/bus/pci/devices"
	sysClassEnclosure = "/sys/class/enclosure"
	sysClassSASHost   = "/sys/class/sas_host"
	sysClassBlock     = "/sys/class/block"
	sysClassSASEndDev = "/sys/class/sas_end_device"
)

// Registry cross-indexes controllers, enclosures, slots and block devices.
// It is rebuilt in full by Scan; lookups are O(n) linear scans, acceptable
// for the typical system's device count.
type Registry struct {
	Controllers  []*Controller
	Enclosures   []*Enclosure
	BlockDevices []*BlockDevice

	Whitelist []string
	Blacklist []string
}

// New returns an empty registry configured with the optional glob
// whitelist/blacklist applied during Scan.
func New(whitelist, blacklist []string) *Registry {
	return &Registry{Whitelist: whitelist, Blacklist: blacklist}
}

// Scan rebuilds the registry from scratch: it enumerates controllers and
// filters them by whitelist/blacklist, discovers enclosures, and enumerates
// block devices, attaching each to its controller and (for SCSI/SAS)
// binding it to an enclosure slot.
func (r *Registry) Scan() error {
	r.Controllers = nil
	r.Enclosures = nil
	r.BlockDevices = nil

	for _, ctrlPath := range sysfs.ListDir(sysBusPCIDevices) {
		if !classify.PassesFilter(ctrlPath, r.Whitelist, r.Blacklist) {
			log.WithField("controller", ctrlPath).Debug("controller excluded by whitelist/blacklist")
			continue
		}

		ctrlType := classify.Classify(ctrlPath)
		ctrl := &Controller{Path: ctrlPath, Type: ctrlType}

		switch ctrlType {
		case classify.SCSI:
			ctrl.EnclosureMgmtOK = true
			if host := sasHostOf(ctrlPath); host != "" {
				ctrl.SASHostName = host
				ctrl.HostPorts = NewHostPorts(phyCountOf(host))
				for _, hp := range ctrl.HostPorts {
					if err := sgpio.InitHost(&hp.TXCache, &hp.Dirty, host); err != nil {
						log.WithField("host", host).WithError(err).Debug("SMP host-port init failed")
					}
				}
			}
		case classify.AHCI:
			ctrl.EnclosureMgmtOK = true
		}

		if ctrlType == classify.Unknown {
			log.WithField("controller", ctrlPath).Debug("controller classified UNKNOWN, excluding from registry")
			continue
		}

		r.Controllers = append(r.Controllers, ctrl)
	}

	for _, enclPath := range sysfs.ListDir(sysClassEnclosure) {
		encl := &Enclosure{Path: enclPath}
		if slots, err := ses.LoadSlotTable(enclPath); err != nil {
			log.WithField("enclosure", enclPath).WithError(err).Debug("SES slot table load failed")
		} else {
			for _, s := range slots {
				encl.Slots = append(encl.Slots, EnclosureSlot{ElementIndex: s.ElementIndex, SASAddress: s.SASAddress})
			}
		}
		r.Enclosures = append(r.Enclosures, encl)
	}

	for _, blkPath := range sysfs.ListDir(sysClassBlock) {
		name := sysfs.Basename(blkPath)
		if !looksLikeDisk(name) || sysfs.Exists(filepath.Join(blkPath, "partition")) {
			continue
		}

		dev := &BlockDevice{
			SysfsPath:    blkPath,
			Name:         name,
			EnclIndex:    -1,
			IBPICurrent:  ibpi.Unknown,
			IBPIDesired:  ibpi.Unknown,
			IBPIPrevious: ibpi.Unknown,
		}

		dev.Controller = r.controllerFor(blkPath)
		if dev.Controller == nil {
			log.WithField("device", name).Debug("no matching controller; dropping from registry")
			continue
		}

		if dev.Controller.Type == classify.SCSI {
			dev.SASAddress = sasAddressOf(blkPath)
			r.bindEnclosure(dev)
		}

		r.BlockDevices = append(r.BlockDevices, dev)
	}

	return nil
}

// controllerFor returns the controller whose Path is the longest prefix of
// devPath.
func (r *Registry) controllerFor(devPath string) *Controller {
	var best *Controller
	bestLen := -1
	for _, c := range r.Controllers {
		if strings.HasPrefix(devPath, c.Path) && len(c.Path) > bestLen {
			best = c
			bestLen = len(c.Path)
		}
	}
	return best
}

// bindEnclosure scans enclosures for the first slot whose SAS address
// matches dev's, recording Enclosure/EnclIndex.
func (r *Registry) bindEnclosure(dev *BlockDevice) {
	if dev.SASAddress == 0 {
		return
	}
	for _, encl := range r.Enclosures {
		for _, slot := range encl.Slots {
			if slot.SASAddress == dev.SASAddress {
				dev.Enclosure = encl
				dev.EnclIndex = slot.ElementIndex
				return
			}
		}
	}
}

// ByPath finds a block device by its sysfs path.
func (r *Registry) ByPath(path string) *BlockDevice {
	for _, d := range r.BlockDevices {
		if d.SysfsPath == path {
			return d
		}
	}
	return nil
}

// ByName finds a block device by its device-node basename (e.g. "sda").
func (r *Registry) ByName(name string) *BlockDevice {
	for _, d := range r.BlockDevices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func looksLikeDisk(name string) bool {
	// Exclude loop/ram/dm devices; keep plain disk and NVMe namespace names.
	// Partitions (sda1) are dropped by Scan through their "partition"
	// attribute, which a name alone cannot reveal.
	if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") || strings.HasPrefix(name, "dm-") {
		return false
	}
	return true
}

func sasHostOf(ctrlPath string) string {
	for _, p := range sysfs.ListDir(sysClassSASHost) {
		target := sysfs.Readlink(p)
		if target != "" && strings.HasPrefix(target, ctrlPath) {
			return sysfs.Basename(p)
		}
	}
	return ""
}

func phyCountOf(host string) int {
	phys := sysfs.ListDir(filepath.Join(sysClassSASHost, host, "device"))
	count := 0
	for _, p := range phys {
		if strings.Contains(sysfs.Basename(p), "phy") {
			count++
		}
	}
	if count == 0 {
		return 4 // SGPIO TX registers are always 4 bytes wide regardless.
	}
	return count
}

func sasAddressOf(blkPath string) uint64 {
	endDevices := sysfs.ListDir(sysClassSASEndDev)
	target := sysfs.Readlink(blkPath)
	for _, ed := range endDevices {
		edTarget := sysfs.Readlink(ed)
		if edTarget != "" && target != "" && strings.HasPrefix(target, edTarget) {
			return sysfs.ReadUint64(path.Join(ed, "device", "sas_device", sysfs.Basename(ed), "sas_address"), 0)
		}
	}
	return 0
}
