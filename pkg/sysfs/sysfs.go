// Package sysfs implements the Platform Probe: pure, total reads over the
// kernel device tree. Every function returns a caller-supplied or zero
// default when the backing node is absent or malformed; none of the readers
// panic or return an error.
package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/intel/ledmon-sub002/pkg/ledutils"
)

var log = ledutils.ComponentLogger("sysfs")

// ReadText reads a sysfs attribute and trims any trailing newlines. It
// returns "" if the node does not exist.
func ReadText(path string) string {
	buf, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\n")
}

// ReadInt reads a small integer sysfs attribute, defaulting to def when the
// node is absent or unparsable.
func ReadInt(path string, def int) int {
	s := ReadText(path)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		log.WithField("path", path).WithError(err).Debug("sysfs node is not an integer")
		return def
	}
	return v
}

// ReadUint64 reads a 64-bit integer sysfs attribute (commonly hex-prefixed,
// as with SAS addresses and PCI vendor/device ids), defaulting to def.
func ReadUint64(path string, def uint64) uint64 {
	s := strings.TrimSpace(ReadText(path))
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		log.WithField("path", path).WithError(err).Debug("sysfs node is not a hex integer")
		return def
	}
	return v
}

// ReadBool reads a sysfs boolean attribute. It accepts both "Y"/"N" (the
// kernel module-parameter convention) and "1"/"0" forms, defaulting to def
// when the node is absent or holds neither form.
func ReadBool(path string, def bool) bool {
	s := strings.TrimSpace(ReadText(path))
	switch s {
	case "":
		return def
	case "Y", "y", "1":
		return true
	case "N", "n", "0":
		return false
	default:
		log.WithField("path", path).WithField("value", s).Debug("sysfs node is not a recognized boolean form")
		return def
	}
}

// WriteText writes s to the sysfs attribute at path, the counterpart to
// ReadText for transports that push control values back down into the
// kernel (the VMD slot's attention attribute).
func WriteText(path, s string) error {
	return os.WriteFile(path, []byte(s), 0644)
}

// ListDir enumerates dir's children as canonical (absolute, symlink-resolved)
// paths, so the result is directly comparable with Readlink's output and
// with strings.HasPrefix ancestor checks. Real sysfs entries under
// /sys/class/* and /sys/bus/*/devices/* are themselves symlinks into
// /sys/devices/...; an entry that cannot be resolved (dangling symlink, or a
// plain non-symlink directory) falls back to its unresolved joined path.
// ListDir returns nil, not an error, when dir does not exist or cannot be
// read.
func ListDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		joined := filepath.Join(dir, e.Name())
		if resolved, err := filepath.EvalSymlinks(joined); err == nil {
			out = append(out, resolved)
		} else {
			out = append(out, joined)
		}
	}
	return out
}

// Readlink resolves path to its canonical target, following every symlink
// along it (filepath.EvalSymlinks). It returns "" rather than an error when
// path does not exist or cannot be resolved; a path that exists but is not a
// symlink resolves to itself. ListDir applies the same resolution to each
// entry it returns.
func Readlink(path string) string {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	return target
}

// IsDir reports whether path exists and is a directory, without following a
// terminal symlink any further than os.Stat already does.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// Exists reports whether path exists, in any form (file, dir, symlink target
// present).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Basename is a small convenience wrapper so callers don't need a direct
// path/filepath import purely to pull a node's leaf name off an already
// resolved sysfs path.
func Basename(path string) string {
	return filepath.Base(path)
}
