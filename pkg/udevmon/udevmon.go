// Package udevmon reads kernel hotplug uevents over a raw
// NETLINK_KOBJECT_UEVENT socket, feeding the monitor loop's per-tick drain
// step.
//
// It reads the standard "header, then NUL-delimited key=value pairs until
// SEQNUM" uevent wire format, generalized from a single blocking read into
// a background drain channel so the monitor tick can poll without blocking
// on the kernel.
package udevmon

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/intel/ledmon-sub002/pkg/ledutils"
)

var log = ledutils.ComponentLogger("udevmon")

const (
	keyAction    = "ACTION"
	keyDevPath   = "DEVPATH"
	keySubsystem = "SUBSYSTEM"
	keySeqNum    = "SEQNUM"

	paramDelim = 0x00
)

// Event is one hotplug notification for a block, scsi, nvme or enclosure
// subsystem node. Events are kept whatever their action.
type Event struct {
	Action    string // as reported by the kernel, e.g. "add" or "remove"
	DevPath   string // sysfs path, relative to /sys
	SubSystem string
}

// relevant reports whether ev's subsystem is one the registry rescans for.
func (ev Event) relevant() bool {
	switch ev.SubSystem {
	case "block", "scsi", "nvme", "enclosure":
		return true
	default:
		return false
	}
}

// socketReadCloser wraps the NETLINK_KOBJECT_UEVENT socket fd as an
// io.ReadCloser.
type socketReadCloser struct {
	fd int
}

func newSocketReadCloser() (io.ReadCloser, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("open uevent netlink socket: %w", err)
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0, Groups: 1}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind uevent netlink socket: %w", err)
	}

	return &socketReadCloser{fd: fd}, nil
}

func (r *socketReadCloser) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if n < 0 && err != nil {
		n = 0
	}
	return n, err
}

func (r *socketReadCloser) Close() error {
	return unix.Close(r.fd)
}

// newConn is a package var so tests can substitute an in-memory pipe
// instead of a real netlink socket (which requires root/CAP_NET_ADMIN).
var newConn = newSocketReadCloser

// readEvent parses one uevent frame: a header line, then NUL-delimited
// "key=value" pairs terminated by the SEQNUM field, matching the wire
// format /sbin/udevd and the kernel both emit.
func readEvent(r *bufio.Reader) (Event, error) {
	if _, err := r.ReadString(paramDelim); err != nil {
		return Event{}, err
	}

	var ev Event
	for {
		raw, err := r.ReadString(paramDelim)
		if err != nil {
			return Event{}, err
		}
		idx := strings.IndexByte(raw, '=')
		if idx < 1 {
			return Event{}, fmt.Errorf("malformed uevent field %q", raw)
		}
		key, val := raw[:idx], raw[idx+1:len(raw)-1]

		switch key {
		case keyAction:
			ev.Action = val
		case keyDevPath:
			ev.DevPath = val
		case keySubsystem:
			ev.SubSystem = val
		case keySeqNum:
			return ev, nil
		}
	}
}

// Watcher runs a background reader over the netlink uevent socket and
// buffers relevant events for the monitor tick to Drain non-blockingly.
type Watcher struct {
	conn   io.ReadCloser
	events chan Event
	errs   chan error
}

// Open starts the background netlink reader. Callers must call Close when
// done.
func Open() (*Watcher, error) {
	conn, err := newConn()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		conn:   conn,
		events: make(chan Event, 256),
		errs:   make(chan error, 1),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	r := bufio.NewReader(w.conn)
	for {
		ev, err := readEvent(r)
		if err != nil {
			select {
			case w.errs <- err:
			default:
			}
			return
		}
		if !ev.relevant() {
			continue
		}
		select {
		case w.events <- ev:
		default:
			log.Warn("hotplug event buffer full, dropping event")
		}
	}
}

// Drain returns every event buffered since the last call, without
// blocking. A nil, empty return means nothing happened since the last
// tick; the monitor loop treats that as "no rescan needed this tick".
func (w *Watcher) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-w.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Err returns a non-nil error once the background reader has stopped
// (socket closed or a malformed frame), nil while it is still running.
func (w *Watcher) Err() error {
	select {
	case err := <-w.errs:
		return err
	default:
		return nil
	}
}

// Close shuts down the netlink socket, unblocking the background reader.
func (w *Watcher) Close() error {
	return w.conn.Close()
}
