// Package monitor implements the Monitor Loop: the
// single-process cooperative tick that refreshes RAID-derived desired
// state, drains hot-plug events, dispatches per-device writes to the
// correct transport, and flushes batched SES pages.
//
// (pkg/katautils's monitor goroutines) for the tick/sleep/cancellation
// structure; dispatch itself is this module's own tag-match over
// registry.Controller.Type.
package monitor

import (
	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/registry"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
	"github.com/intel/ledmon-sub002/pkg/transport/dellipmi"
	"github.com/intel/ledmon-sub002/pkg/transport/npem"
	"github.com/intel/ledmon-sub002/pkg/transport/ses"
	"github.com/intel/ledmon-sub002/pkg/transport/sgpio"
	"github.com/intel/ledmon-sub002/pkg/transport/vmd"
)

var log = ledutils.ComponentLogger("monitor")

// Transports bundles the transport instances that carry state across ticks
// (a Dell generation, once detected; the VMD domain, fixed at startup).
// SES and NPEM are stateless package-level Transport{} values; SGPIO is
// constructed per dispatch since it needs the specific host-port cache.
type Transports struct {
	VMDDomain string
	Dell      *dellipmi.Transport // nil if no Dell OEM controller was found
}

func deviceFor(dev *registry.BlockDevice) api.Device {
	phyIndex := dev.PhyIndex
	hostName := ""
	if dev.Controller != nil {
		hostName = dev.Controller.SASHostName
	}
	return api.Device{
		SysfsPath:     dev.SysfsPath,
		BDF:           dev.BDF,
		PhyIndex:      phyIndex,
		HostName:      hostName,
		SASAddress:    dev.SASAddress,
		EnclosurePath: enclosurePath(dev),
		ElementIndex:  dev.EnclIndex,
	}
}

func enclosurePath(dev *registry.BlockDevice) string {
	if dev.Enclosure == nil {
		return ""
	}
	return dev.Enclosure.Path
}

// Dispatch exposes dispatch to callers outside this package (cmd/ledctl's
// one-shot path, which has no running Loop to drive it).
func Dispatch(dev *registry.BlockDevice, ind ibpi.Indication, t *Transports) error {
	return dispatch(dev, ind, t)
}

// FlushEnclosure commits a single enclosure's pending SES page, for
// cmd/ledctl's one-shot path where only the touched enclosures need a
// flush, not every enclosure in a registry.
func FlushEnclosure(path string) error {
	tr := ses.Transport{}
	return tr.Flush(path)
}

// dispatch delivers ind to dev's transport, chosen by a tag-match on the
// owning controller's classified Type.
func dispatch(dev *registry.BlockDevice, ind ibpi.Indication, t *Transports) error {
	if dev.Controller == nil {
		return ledstatus.New(ledstatus.InvalidController, "device %s has no bound controller", dev.Name)
	}

	switch dev.Controller.Type {
	case classify.VMD:
		tr := vmd.Transport{VMDDomain: t.VMDDomain}
		return tr.Write(deviceFor(dev), ind)

	case classify.NPEM:
		tr := npem.Transport{}
		return tr.Write(deviceFor(dev), ind)

	case classify.DellSSD:
		if t.Dell == nil {
			return ledstatus.New(ledstatus.InvalidController, "no Dell BMC generation detected for %s", dev.Name)
		}
		return t.Dell.Write(deviceFor(dev), ind)

	case classify.SCSI, classify.AHCI:
		return dispatchSCSI(dev, ind)

	default:
		return ledstatus.New(ledstatus.NotSupported, "no transport bound for controller type %s", dev.Controller.Type)
	}
}

// dispatchSCSI covers both the SES and SAS-SGPIO branches for a SCSI/AHCI
// controller: a device bound to an enclosure slot goes through SES;
// otherwise, if its controller exposes a SAS host, it goes through SGPIO.
func dispatchSCSI(dev *registry.BlockDevice, ind ibpi.Indication) error {
	if dev.HasEnclosure() {
		tr := ses.Transport{}
		if err := tr.Write(deviceFor(dev), ind); err != nil {
			return err
		}
		dev.Enclosure.ChangesPending = true
		return nil
	}

	if dev.Controller.SASHostName != "" && dev.PhyIndex >= 0 && dev.PhyIndex < len(dev.Controller.HostPorts) {
		hp := dev.Controller.HostPorts[dev.PhyIndex]
		tr := sgpio.Transport{HostName: dev.Controller.SASHostName, Cache: &hp.TXCache, Dirty: &hp.Dirty}
		return tr.Write(deviceFor(dev), ind)
	}

	return ledstatus.New(ledstatus.InvalidController, "device %s has neither an enclosure slot nor an SGPIO host-port binding", dev.Name)
}

// flushEnclosures commits every enclosure with ChangesPending. A single
// enclosure's flush failure is logged and does not stop the remaining
// flushes; LEDs are advisory, not safety-critical.
func flushEnclosures(reg *registry.Registry) {
	tr := ses.Transport{}
	for _, encl := range reg.Enclosures {
		if !encl.ChangesPending {
			continue
		}
		if err := tr.Flush(encl.Path); err != nil {
			log.WithField("enclosure", encl.Path).WithError(err).Error("SES flush failed")
			continue
		}
		encl.ChangesPending = false
	}
}
