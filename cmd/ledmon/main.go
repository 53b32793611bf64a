// Command ledmon runs the monitor loop: it polls RAID status, drains
// hot-plug events, and keeps every managed device's LED indication in sync.
//
// ledmon refuses to start without root privileges. It does not detach from
// the terminal; --foreground only decides whether the syslog hook is
// installed.
package main

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/monitor"
	"github.com/intel/ledmon-sub002/pkg/monitor/raidstatus"
	"github.com/intel/ledmon-sub002/pkg/registry"
	"github.com/intel/ledmon-sub002/pkg/transport/dellipmi"
	"github.com/intel/ledmon-sub002/pkg/udevmon"
)

const appName = "ledmon"

var log = ledutils.ComponentLogger("ledmon")

var appFlags = []cli.Flag{
	cli.StringFlag{Name: "log", Usage: "write log output to this file (syslog still receives it unless --foreground)"},
	cli.StringFlag{Name: "log-level", Value: "warning", Usage: "quiet, error, warning, info, debug, or all"},
	cli.IntFlag{Name: "interval", Value: ledutils.DefaultInterval, Usage: "seconds between monitor ticks (minimum 5)"},
	cli.BoolFlag{Name: "foreground", Usage: "do not install the syslog hook (ledmon never detaches from the terminal)"},
	cli.StringFlag{Name: "config", Value: "/etc/ledmon.conf", Usage: "path to the TOML configuration file"},
	cli.StringFlag{Name: "raid-fixture", Usage: "use a static TOML RAID-member fixture instead of /proc/mdstat (offline/testing)"},
}

func checkPrivileged() error {
	if os.Geteuid() != 0 {
		return ledstatus.New(ledstatus.NotAPrivilegedUser, "ledmon must run as root")
	}
	return nil
}

func run(c *cli.Context) error {
	if err := checkPrivileged(); err != nil {
		return err
	}

	cfg := &ledutils.Config{
		LogLevel:     c.GlobalString("log-level"),
		IntervalSecs: c.GlobalInt("interval"),
	}
	if path := c.GlobalString("config"); path != "" {
		if loaded, err := ledutils.LoadConfig(path); err == nil {
			cfg = loaded
			if c.GlobalIsSet("log-level") {
				cfg.LogLevel = c.GlobalString("log-level")
			}
			if c.GlobalIsSet("interval") {
				cfg.IntervalSecs = c.GlobalInt("interval")
			}
		} else if c.GlobalIsSet("config") {
			return ledstatus.New(ledstatus.ConfigFileError, "%v", err)
		}
	}

	level, err := ledutils.LogLevelFromName(cfg.LogLevel)
	if err != nil {
		return ledstatus.New(ledstatus.CmdlineError, "%v", err)
	}
	ledutils.SetLevel(level)

	if logPath := c.GlobalString("log"); logPath != "" {
		cfg.LogPath = logPath
	}
	if cfg.LogPath != "" {
		if err := ledutils.SetLogFile(cfg.LogPath); err != nil {
			return ledstatus.New(ledstatus.LogFileError, "%v", err)
		}
	}
	if !c.GlobalBool("foreground") {
		if err := ledutils.EnableSyslog(appName); err != nil {
			log.WithError(err).Warn("syslog hook unavailable, continuing with direct logging only")
		}
	}

	reg := registry.New(cfg.Whitelist, cfg.Blacklist)
	if err := reg.Scan(); err != nil {
		return ledstatus.New(ledstatus.SysfsScanError, "%v", err)
	}

	transports := &monitor.Transports{VMDDomain: vmdDomainOf(reg)}
	if hasDellController(reg) {
		if ex, err := dellipmi.NewLocalExecutor(); err != nil {
			log.WithError(err).Warn("Dell OEM IPMI executor unavailable, DELLSSD devices will not be driven")
		} else if gen, err := dellipmi.DetectGeneration(ex); err != nil {
			log.WithError(err).Warn("Dell BMC generation detection failed, DELLSSD devices will not be driven")
		} else {
			transports.Dell = &dellipmi.Transport{Executor: ex, Generation: gen}
		}
	}

	watcher, err := udevmon.Open()
	if err != nil {
		log.WithError(err).Warn("udev hotplug monitor unavailable, running without live rescans")
		watcher = nil
	}

	raid, overrides := raidProviderFor(c, cfg)

	interval := time.Duration(cfg.IntervalSecs) * time.Second
	if interval < time.Duration(ledutils.MinInterval)*time.Second {
		interval = time.Duration(ledutils.MinInterval) * time.Second
	}

	loop := monitor.NewLoop(reg, raid, watcher, transports, interval)
	loop.Overrides = overrides

	log.WithField("interval", interval).Info("ledmon starting")
	if err := loop.RunUntilSignal(); err != nil {
		return ledstatus.New(ledstatus.LedmonRunning, "%v", err)
	}
	return nil
}

// raidProviderFor picks the mdstat-backed provider, unless a static fixture
// was requested for offline/testing use, and resolves the config file's
// raid_members overrides against the ibpi name table.
func raidProviderFor(c *cli.Context, cfg *ledutils.Config) (raidstatus.Provider, map[string]ibpi.Indication) {
	var provider raidstatus.Provider
	if fixture := c.GlobalString("raid-fixture"); fixture != "" {
		provider = &raidstatus.FixtureProvider{Path: fixture}
	} else {
		provider = &raidstatus.MdstatProvider{}
	}

	overrides := make(map[string]ibpi.Indication, len(cfg.RaidMembers))
	for devPath, ov := range cfg.RaidMembers {
		ind, ok := ibpi.ByName(ov.ForceIBPI)
		if !ok {
			log.WithField("device", devPath).WithField("pattern", ov.ForceIBPI).Warn("unrecognized forced IBPI pattern in config, ignoring")
			continue
		}
		overrides[strings.TrimPrefix(devPath, "/dev/")] = ind
	}
	return provider, overrides
}

func vmdDomainOf(reg *registry.Registry) string {
	for _, ctrl := range reg.Controllers {
		if ctrl.Type != classify.VMD {
			continue
		}
		base := path.Base(ctrl.Path)
		if idx := strings.Index(base, ":"); idx != -1 {
			return base[:idx]
		}
	}
	return ""
}

func hasDellController(reg *registry.Registry) bool {
	for _, ctrl := range reg.Controllers {
		if ctrl.Type == classify.DellSSD {
			return true
		}
	}
	return false
}

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "keep storage enclosure LEDs in sync with device and RAID state"
	app.Flags = appFlags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		if le, ok := err.(*ledstatus.Error); ok {
			fmt.Fprintln(os.Stderr, le.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
			logrus.WithError(err).Error("ledmon failed")
		}
		os.Exit(ledstatus.ExitCode(err))
	}
}
