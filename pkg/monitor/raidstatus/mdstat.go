package raidstatus

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
)

const defaultMdstatPath = "/proc/mdstat"

// memberRe matches one member token on an "mdN : active ..." line, e.g.
// "sda1[0]", "sdb1[1](F)", "sdc1[2](S)".
var memberRe = regexp.MustCompile(`^([a-zA-Z0-9]+?)\d*\[\d+\](\([FS]\))?$`)

// MdstatProvider implements Provider by re-reading /proc/mdstat on every
// Refresh, matching the kernel's own "recompute from scratch" model for
// this file.
type MdstatProvider struct {
	// Path overrides the default /proc/mdstat location; tests point this
	// at a scratch file.
	Path string
}

func (p *MdstatProvider) path() string {
	if p.Path != "" {
		return p.Path
	}
	return defaultMdstatPath
}

func (p *MdstatProvider) Refresh() (map[string]ibpi.Indication, error) {
	f, err := os.Open(p.path())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMdstat(f)
}

// ParseMdstat derives a per-member desired IBPI from an mdstat-formatted
// stream, keyed by the member's disk name (the partition number is stripped:
// "sda1[0]" yields "sda"). Each array's "mdN : active ..." line carries member
// tokens tagged (F) faulty or (S) spare; a "_" in the following status line's
// "[UUU_]" bitmap flags a degraded array, and a trailing "recovery ="
// progress line flags an active rebuild. A member with no special tag in a
// healthy, non-rebuilding array is left out of the map entirely (desired
// IBPI NORMAL is the monitor loop's own default, not this provider's job to
// state).
func ParseMdstat(r io.Reader) (map[string]ibpi.Indication, error) {
	out := make(map[string]ibpi.Indication)
	scanner := bufio.NewScanner(r)

	var pendingMembers []string
	var pendingFaulty, pendingSpare map[string]bool
	var degraded, rebuilding bool
	haveArray := false

	flush := func() {
		for _, m := range pendingMembers {
			switch {
			case pendingFaulty[m]:
				out[m] = ibpi.FailedDrive
			case pendingSpare[m]:
				out[m] = ibpi.HotSpare
			case rebuilding:
				out[m] = ibpi.Rebuild
			case degraded:
				out[m] = ibpi.Degraded
			}
		}
		pendingMembers = nil
		pendingFaulty = nil
		pendingSpare = nil
		degraded = false
		rebuilding = false
		haveArray = false
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, " : active") || strings.Contains(line, " : inactive"):
			flush()
			haveArray = true
			pendingFaulty = make(map[string]bool)
			pendingSpare = make(map[string]bool)
			for _, tok := range strings.Fields(line) {
				m := memberRe.FindStringSubmatch(tok)
				if m == nil {
					continue
				}
				name := m[1]
				pendingMembers = append(pendingMembers, name)
				switch m[2] {
				case "(F)":
					pendingFaulty[name] = true
				case "(S)":
					pendingSpare[name] = true
				}
			}

		case haveArray && strings.Contains(line, "]") && strings.Contains(line, "["):
			if strings.Contains(line, "_") {
				degraded = true
			}
			if strings.Contains(line, "recovery") || strings.Contains(line, "resync") {
				rebuilding = true
			}

		case strings.TrimSpace(line) == "":
			flush()
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
