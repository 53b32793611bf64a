// Command ledctl applies IBPI indications to storage devices one-shot:
// `ledctl locate=/dev/sda,/dev/sdb`.
//
// A urfave/cli v1 App with a global Before hook wiring logging, and exit
// codes mapped straight off the ledstatus taxonomy rather than a bare 0/1.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/monitor"
	"github.com/intel/ledmon-sub002/pkg/registry"
	"github.com/intel/ledmon-sub002/pkg/transport/dellipmi"
)

const name = "ledctl"

var log = ledutils.ComponentLogger("ledctl")

var appFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "log",
		Usage: "write debug output to this file instead of stderr",
	},
	cli.StringFlag{
		Name:  "log-level",
		Value: "warning",
		Usage: "quiet, error, warning, info, debug, or all",
	},
	cli.BoolFlag{
		Name:  "list-slots",
		Usage: "print every discovered enclosure slot and exit (read-only)",
	},
	cli.BoolFlag{
		Name:  "list-controllers",
		Usage: "print every discovered controller and its classified type, then exit (read-only)",
	},
}

func before(c *cli.Context) error {
	level, err := ledutils.LogLevelFromName(c.GlobalString("log-level"))
	if err != nil {
		return ledstatus.New(ledstatus.CmdlineError, "%v", err)
	}
	ledutils.SetLevel(level)

	if path := c.GlobalString("log"); path != "" {
		if err := ledutils.SetLogFile(path); err != nil {
			return ledstatus.New(ledstatus.LogFileError, "%v", err)
		}
	}
	return nil
}

// assignment is one parsed "pattern=dev[,dev...]" command-line argument.
type assignment struct {
	pattern ibpi.Indication
	devices []string
}

func parseAssignment(arg string) (assignment, error) {
	idx := strings.Index(arg, "=")
	if idx < 1 {
		return assignment{}, ledstatus.New(ledstatus.CmdlineError, "malformed argument %q, expected pattern=device[,device...]", arg)
	}
	patternName, devList := arg[:idx], arg[idx+1:]

	ind, ok := ibpi.ByName(patternName)
	if !ok {
		return assignment{}, ledstatus.New(ledstatus.InvalidSuboption, "unrecognized IBPI pattern %q", patternName)
	}
	if devList == "" {
		return assignment{}, ledstatus.New(ledstatus.CmdlineError, "no devices given for pattern %q", patternName)
	}

	var devices []string
	for _, d := range strings.Split(devList, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		devices = append(devices, d)
	}
	if len(devices) == 0 {
		return assignment{}, ledstatus.New(ledstatus.CmdlineError, "no devices given for pattern %q", patternName)
	}
	return assignment{pattern: ind, devices: devices}, nil
}

// basename strips a leading "/dev/" so the CLI accepts both "sda" and
// "/dev/sda".
func basename(devPath string) string {
	return strings.TrimPrefix(devPath, "/dev/")
}

func run(c *cli.Context) error {
	reg := registry.New(nil, nil)
	if err := reg.Scan(); err != nil {
		return ledstatus.New(ledstatus.SysfsScanError, "%v", err)
	}

	if c.Bool("list-controllers") {
		return listControllers(c, reg)
	}
	if c.Bool("list-slots") {
		return listSlots(c, reg)
	}

	if c.NArg() == 0 {
		return cli.ShowAppHelp(c)
	}

	var assignments []assignment
	for _, arg := range c.Args() {
		a, err := parseAssignment(arg)
		if err != nil {
			return err
		}
		assignments = append(assignments, a)
	}

	dell := &lazyDell{}
	touched := map[*registry.Enclosure]bool{}

	for _, a := range assignments {
		for _, devArg := range a.devices {
			dev := reg.ByName(basename(devArg))
			if dev == nil {
				log.WithField("device", devArg).Error("device not found in registry")
				continue
			}

			tr, err := transportsFor(dev, dell)
			if err != nil {
				log.WithField("device", devArg).WithError(err).Error("transport setup failed")
				continue
			}

			if err := monitor.Dispatch(dev, a.pattern, tr); err != nil {
				log.WithField("device", devArg).WithField("pattern", a.pattern).WithError(err).Error("write failed")
				continue
			}
			if dev.Enclosure != nil {
				touched[dev.Enclosure] = true
			}
		}
	}

	for encl := range touched {
		if err := monitor.FlushEnclosure(encl.Path); err != nil {
			log.WithField("enclosure", encl.Path).WithError(err).Error("SES flush failed")
		}
	}

	return nil
}

// lazyDell detects the Dell BMC generation at most once per process, the
// first time a DELLSSD-classified device is actually addressed.
type lazyDell struct {
	tr   *dellipmi.Transport
	done bool
	err  error
}

func (l *lazyDell) get() (*dellipmi.Transport, error) {
	if l.done {
		return l.tr, l.err
	}
	l.done = true

	ex, err := dellipmi.NewLocalExecutor()
	if err != nil {
		l.err = err
		return nil, err
	}
	gen, err := dellipmi.DetectGeneration(ex)
	if err != nil {
		l.err = err
		return nil, err
	}
	l.tr = &dellipmi.Transport{Executor: ex, Generation: gen}
	return l.tr, nil
}

func transportsFor(dev *registry.BlockDevice, dell *lazyDell) (*monitor.Transports, error) {
	t := &monitor.Transports{}
	if dev.Controller != nil && dev.Controller.Type == classify.VMD {
		t.VMDDomain = domainOf(dev.BDF)
	}
	if dev.Controller != nil && dev.Controller.Type == classify.DellSSD {
		tr, err := dell.get()
		if err != nil {
			return nil, err
		}
		t.Dell = tr
	}
	return t, nil
}

func domainOf(bdf string) string {
	if idx := strings.Index(bdf, ":"); idx != -1 {
		return bdf[:idx]
	}
	return ""
}

func listControllers(c *cli.Context, reg *registry.Registry) error {
	for _, ctrl := range reg.Controllers {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", ctrl.Path, ctrl.Type)
	}
	return nil
}

func listSlots(c *cli.Context, reg *registry.Registry) error {
	for _, encl := range reg.Enclosures {
		for _, slot := range encl.Slots {
			fmt.Fprintf(c.App.Writer, "%s\telement=%d\tsas_address=%#016x\n", encl.Path, slot.ElementIndex, slot.SASAddress)
		}
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = name
	app.Usage = "apply IBPI LED patterns to storage devices (pattern=device[,device...])"
	app.Flags = appFlags
	app.Before = before
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		if le, ok := err.(*ledstatus.Error); ok {
			fmt.Fprintln(os.Stderr, le.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
			logrus.WithError(err).Error("ledctl failed")
		}
		os.Exit(ledstatus.ExitCode(err))
	}
}
