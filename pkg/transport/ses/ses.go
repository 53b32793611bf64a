// Package ses implements the SES Transport: SCSI Enclosure
// Services diagnostic pages 0x01 (configuration), 0x02 (control/status) and
// 0x0A (additional element status), delivered via SEND DIAGNOSTIC /
// RECEIVE DIAGNOSTIC RESULTS over SG_IO against an enclosure's bsg node.
//
// Grounded on pkg/sgio for the ioctl plumbing (itself grounded on the
// dswarbrick/smart sg_io_hdr_t layout from the retrieval pack) and on the
// teacher's per-resource caching/release conventions for keeping loaded
// state coherent across a batch of writes.
package ses

import (
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/sgio"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

func openRW(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR, 0)
}

func closeFD(fd int) {
	unix.Close(fd)
}

var log = ledutils.ComponentLogger("ses")

// BsgDevDir is the bsg character-device directory. A var, not a const, so
// tests can substitute a scratch directory.
var BsgDevDir = "/dev/bsg"

const (
	cmdSendDiagnostic     = 0x1D
	cmdReceiveDiagResults = 0x1C

	pageConfiguration           = 0x01
	pageEnclosureControlStatus  = 0x02
	pageAdditionalElementStatus = 0x0A

	receiveRetries = 3
	ioTimeout      = 5 * time.Second

	allocLen = 4096
)

// Slot is one parsed {element_index, sas_address} pair from an enclosure's
// additional-element-status page, kept free of any registry import so this
// package stays a leaf in the dependency graph.
type Slot struct {
	ElementIndex int
	SASAddress   uint64
}

// openFunc opens the bsg node for an enclosure and is overridable by tests.
var openFunc = defaultOpen

func defaultOpen(enclPath string) (int, func(), error) {
	name := filepath.Base(enclPath)
	path := filepath.Join(BsgDevDir, name)
	fd, err := openRW(path)
	if err != nil {
		return 0, nil, ledstatus.New(ledstatus.FileOpenError, "open %s: %v", path, err)
	}
	return fd, func() { closeFD(fd) }, nil
}

// sendDiagnosticCDB builds a 6-byte SEND DIAGNOSTIC CDB with the PF bit set
// (page format) and the parameter-list length encoded big-endian.
func sendDiagnosticCDB(paramLen int) []byte {
	return []byte{
		cmdSendDiagnostic,
		0x10, // PF
		0x00,
		byte(paramLen >> 8), byte(paramLen),
		0x00,
	}
}

// receiveDiagnosticCDB builds a 6-byte RECEIVE DIAGNOSTIC RESULTS CDB with
// the PCV bit set (page code valid) and the allocation length big-endian.
func receiveDiagnosticCDB(pageCode byte, allocLen int) []byte {
	return []byte{
		cmdReceiveDiagResults,
		0x01, // PCV
		pageCode,
		byte(allocLen >> 8), byte(allocLen),
		0x00,
	}
}

// receivePage and sendPage are package vars, not plain funcs, so tests can
// substitute the SG_IO plumbing without a real bsg fd, the same pattern
// pkg/transport/sgpio uses for its register read/write.
var (
	receivePage = defaultReceivePage
	sendPage    = defaultSendPage
)

func defaultReceivePage(fd int, pageCode byte) ([]byte, error) {
	buf := make([]byte, allocLen)
	cdb := receiveDiagnosticCDB(pageCode, allocLen)

	var lastErr error
	for attempt := 0; attempt < receiveRetries; attempt++ {
		if _, err := sgio.Exec(fd, cdb, buf, sgio.DirFromDevice, ioTimeout); err != nil {
			lastErr = err
			continue
		}
		return buf, nil
	}
	return nil, fmt.Errorf("RECEIVE DIAGNOSTIC RESULTS page %#x: %w", pageCode, lastErr)
}

func defaultSendPage(fd int, buf []byte) error {
	cdb := sendDiagnosticCDB(len(buf))
	_, err := sgio.Exec(fd, cdb, buf, sgio.DirToDevice, ioTimeout)
	return err
}

// LoadSlotTable loads configuration page 1 and additional-element-status
// page 10 from the enclosure at enclPath and returns one
// {element_index, sas_address} pair per SAS-protocol entry of page 10. Page 1
// only decides whether the enclosure has any DEVICE_SLOT/ARRAY_DEVICE_SLOT
// descriptor at all (none yields an empty table); the page-10 entries are not
// limited to the slot descriptors' element counts.
func LoadSlotTable(enclPath string) ([]Slot, error) {
	fd, cleanup, err := openFunc(enclPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page1, err := receivePage(fd, pageConfiguration)
	if err != nil {
		return nil, err
	}
	descs, err := parsePage1TypeDescriptors(page1)
	if err != nil {
		return nil, err
	}
	slots := slotPositions(descs)
	if len(slots) == 0 {
		return nil, nil
	}

	page10, err := receivePage(fd, pageAdditionalElementStatus)
	if err != nil {
		return nil, err
	}
	entries := parsePage10(page10)

	out := make([]Slot, 0, len(entries))
	for _, e := range entries {
		out = append(out, Slot{ElementIndex: e.ElementIndex, SASAddress: e.SASAddress})
	}
	return out, nil
}

// enclosureState is the per-enclosure cache of the loaded control page and
// pending change count, owned exclusively by the enclosure entry.
type enclosureState struct {
	page2   []byte
	descs   []typeDescriptor
	changes int
}

var states = map[string]*enclosureState{}

func stateFor(enclPath string) *enclosureState {
	st, ok := states[enclPath]
	if !ok {
		st = &enclosureState{}
		states[enclPath] = st
	}
	return st
}

func (st *enclosureState) ensureLoaded(fd int) error {
	if st.page2 != nil {
		return nil
	}
	page1, err := receivePage(fd, pageConfiguration)
	if err != nil {
		return err
	}
	descs, err := parsePage1TypeDescriptors(page1)
	if err != nil {
		return err
	}
	page2, err := receivePage(fd, pageEnclosureControlStatus)
	if err != nil {
		return err
	}
	st.descs = descs
	st.page2 = page2
	return nil
}

// descriptorOffset walks the type descriptor headers, preferring the
// highest-numbered element type
// (ARRAY_DEVICE_SLOT > DEVICE_SLOT) whose num_of_elements is greater than
// i, and return the byte offset of the i-th control-element descriptor
// within that section (4 bytes per descriptor, starting after an 8-byte
// control-page header plus one 4-byte element-status header per preceding
// section).
func descriptorOffset(descs []typeDescriptor, i int) (offset int, elementType byte, ok bool) {
	type candidate struct {
		offset      int
		elementType byte
	}
	var best *candidate

	runningOffset := 8
	for _, d := range descs {
		isSlotType := d.ElementType == elementDeviceSlot || d.ElementType == elementArrayDeviceSlot
		if isSlotType && i < d.NumElements {
			c := candidate{offset: runningOffset + 4 + 4*i, elementType: d.ElementType}
			if best == nil || c.elementType > best.elementType {
				best = &c
			}
		}
		runningOffset += 4 + 4*d.NumElements
	}

	if best == nil {
		return 0, 0, false
	}
	return best.offset, best.elementType, true
}

// Transport implements api.Transport and api.Flusher for SES-addressed
// devices.
type Transport struct{}

// Write locates the control-page descriptor for dev.ElementIndex, encodes
// ind (or applies the LOCATE_OFF targeted clear), zeros the array-slot byte
// unless the element is ARRAY_DEVICE_SLOT, and bumps the enclosure's
// pending-changes counter. The control page is read from the enclosure when
// it is not already loaded; nothing is sent to the enclosure until Flush.
func (Transport) Write(dev api.Device, ind ibpi.Indication) error {
	st := stateFor(dev.EnclosurePath)

	fd, cleanup, err := openFunc(dev.EnclosurePath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.ensureLoaded(fd); err != nil {
		return err
	}

	off, elemType, ok := descriptorOffset(st.descs, dev.ElementIndex)
	if !ok || off+4 > len(st.page2) {
		return ledstatus.New(ledstatus.OutOfRange, "no control descriptor for element index %d", dev.ElementIndex)
	}

	prev := ibpi.SesControl{st.page2[off], st.page2[off+1], st.page2[off+2], st.page2[off+3]}

	var next ibpi.SesControl
	if ind == ibpi.LocateOff {
		next = ibpi.ApplyLocateOff(prev)
	} else {
		next = ibpi.EncodeSES(ind, prev)
	}
	if elemType != elementArrayDeviceSlot {
		next[1] = 0
	}

	copy(st.page2[off:off+4], next[:])
	st.changes++
	return nil
}

// Flush transmits the control page via SEND DIAGNOSTIC if changes are
// pending, then releases it so the next write forces a fresh load.
func (Transport) Flush(enclosure string) error {
	st := stateFor(enclosure)
	if st.changes == 0 {
		return nil
	}

	fd, cleanup, err := openFunc(enclosure)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sendPage(fd, st.page2); err != nil {
		return fmt.Errorf("SEND DIAGNOSTIC control page for %s: %w", enclosure, err)
	}

	log.WithField("enclosure", enclosure).WithField("changes", st.changes).Debug("flushed SES control page")
	st.changes = 0
	st.page2 = nil
	st.descs = nil
	return nil
}
