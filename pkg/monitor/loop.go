package monitor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/monitor/raidstatus"
	"github.com/intel/ledmon-sub002/pkg/registry"
	"github.com/intel/ledmon-sub002/pkg/udevmon"
)

// Loop is the cooperative single-process monitor tick.
type Loop struct {
	Registry   *registry.Registry
	Raid       raidstatus.Provider
	Watcher    *udevmon.Watcher
	Transports *Transports
	Interval   time.Duration

	// Overrides pins a device name to a forced IBPI regardless of what the
	// RAID status provider reports, matching ledmon.conf's raid_members
	// table.
	Overrides map[string]ibpi.Indication

	// quiesced tracks devices currently parked in the one-shot-normal
	// terminal state.
	quiesced map[string]bool
}

// NewLoop constructs a Loop with its internal bookkeeping initialized.
func NewLoop(reg *registry.Registry, raid raidstatus.Provider, watcher *udevmon.Watcher, t *Transports, interval time.Duration) *Loop {
	return &Loop{
		Registry:   reg,
		Raid:       raid,
		Watcher:    watcher,
		Transports: t,
		Interval:   interval,
		quiesced:   make(map[string]bool),
	}
}

// Run drives the tick loop until ctx is cancelled.J's five
// numbered steps. On cancellation it finishes the in-flight tick, tears
// down the udev watcher, and returns.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.tick()

		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-time.After(l.Interval):
		}
	}
}

// RunUntilSignal wraps Run with the SIGINT/SIGTERM graceful-shutdown
// wiring cmd/ledmon needs.
func (l *Loop) RunUntilSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return l.Run(ctx)
}

func (l *Loop) shutdown() error {
	log.Info("monitor loop shutting down")
	if l.Watcher != nil {
		return l.Watcher.Close()
	}
	return nil
}

// tick runs the five-step monitor cycle in order: refresh desired
// state, drain hotplug events (triggering a rescan), dispatch per-device
// writes, flush SES enclosures. Sleeping is the caller's job (Run).
func (l *Loop) tick() {
	l.refreshDesired()
	l.drainHotplug()
	l.dispatchAll()
	flushEnclosures(l.Registry)
}

// refreshDesired implements step 1: pull the RAID provider's per-member
// state, then apply any configured forced overrides on top.
func (l *Loop) refreshDesired() {
	if l.Raid == nil {
		return
	}
	desired, err := l.Raid.Refresh()
	if err != nil {
		log.WithError(err).Error("RAID status refresh failed")
		return
	}

	for _, dev := range l.Registry.BlockDevices {
		if ind, ok := l.Overrides[dev.Name]; ok {
			dev.IBPIDesired = ind
			continue
		}
		if ind, ok := desired[dev.Name]; ok {
			dev.IBPIDesired = ind
		}
	}
}

// drainHotplug implements step 2: any pending ADD/REMOVE event triggers a
// full registry rescan.
func (l *Loop) drainHotplug() {
	if l.Watcher == nil {
		return
	}
	events := l.Watcher.Drain()
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		log.WithField("action", ev.Action).WithField("devpath", ev.DevPath).Debug("hotplug event")
	}
	if err := l.Registry.Scan(); err != nil {
		log.WithError(err).Error("registry rescan after hotplug event failed")
	}
}

// dispatchAll implements step 3, plus the one-shot-normal bookkeeping of
// each device whose desired IBPI differs from the last one actually
// written is dispatched; a write failure is logged and the tick continues
// since LEDs are advisory, not safety-critical.
func (l *Loop) dispatchAll() {
	for _, dev := range l.Registry.BlockDevices {
		l.dispatchOne(dev)
	}
}

func (l *Loop) dispatchOne(dev *registry.BlockDevice) {
	desired := dev.IBPIDesired

	if desired == ibpi.OneshotNormal {
		if l.quiesced[dev.Name] && dev.IBPIPrevious == ibpi.Normal {
			return
		}
		if err := dispatch(dev, ibpi.Normal, l.Transports); err != nil {
			log.WithField("device", dev.Name).WithError(err).Error("ONESHOT_NORMAL write failed")
			return
		}
		dev.IBPICurrent = ibpi.Normal
		dev.IBPIPrevious = ibpi.Normal
		l.quiesced[dev.Name] = true
		return
	}

	if desired == dev.IBPIPrevious {
		return
	}

	if err := dispatch(dev, desired, l.Transports); err != nil {
		log.WithField("device", dev.Name).WithError(err).Error("write failed")
		return
	}
	dev.IBPICurrent = desired
	dev.IBPIPrevious = desired
	delete(l.quiesced, dev.Name)
}
