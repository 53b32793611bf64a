// Package npem implements the NPEM Transport: PCIe Native
// Enclosure Management capability 0x29, accessed through each controller's
// PCI extended configuration space file in sysfs.
//
// Controller identity and capability discovery follow the same PCI sysfs
// conventions as package classify; golang.org/x/sys/unix is not needed here
// since the config space is reached as a plain file.
package npem

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

var log = ledutils.ComponentLogger("npem")

const (
	npemCapabilityID = 0x29
	extCapStart      = 0x100

	capRegOffset     = 0x04
	controlRegOffset = 0x08
	statusRegOffset  = 0x0C

	capableBit = 1 << 0
)

// pollInterval and pollTimeout govern the status-register poll in Write.
// They are variables, not constants, so tests can shrink pollTimeout rather
// than sleep for the full wall-clock second allowed in production.
var (
	pollInterval = 10 * time.Millisecond
	pollTimeout  = 1 * time.Second
)

func configPath(ctrlPath string) string {
	return filepath.Join(ctrlPath, "config")
}

// findCapabilityOffset walks the PCIe extended capability list starting at
// 0x100 looking for NPEM (capability ID 0x29), returning its offset and
// whether it was found.
func findCapabilityOffset(ctrlPath string) (int, bool) {
	f, err := os.Open(configPath(ctrlPath))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	offset := extCapStart
	seen := map[int]bool{}
	for offset != 0 && !seen[offset] {
		seen[offset] = true

		var hdr [4]byte
		if _, err := f.ReadAt(hdr[:], int64(offset)); err != nil {
			return 0, false
		}
		word := binary.LittleEndian.Uint32(hdr[:])
		capID := int(word & 0xFFFF)
		next := int((word >> 20) & 0xFFF)

		if capID == npemCapabilityID {
			return offset, true
		}
		if capID == 0 {
			return 0, false
		}
		offset = next
	}
	return 0, false
}

func readRegister(ctrlPath string, capOffset, regOffset int) (uint32, error) {
	f, err := os.Open(configPath(ctrlPath))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var buf [4]byte
	if _, err := f.ReadAt(buf[:], int64(capOffset+regOffset)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeRegister(ctrlPath string, capOffset, regOffset int, value uint32) error {
	f, err := os.OpenFile(configPath(ctrlPath), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err = f.WriteAt(buf[:], int64(capOffset+regOffset))
	return err
}

// HasCapability reports whether ctrlPath's controller exposes the NPEM
// extended capability with its "capable" bit set.
func HasCapability(ctrlPath string) bool {
	offset, ok := findCapabilityOffset(ctrlPath)
	if !ok {
		return false
	}
	capReg, err := readRegister(ctrlPath, offset, capRegOffset)
	if err != nil {
		return false
	}
	return capReg&capableBit != 0
}

// Transport implements api.Transport for NPEM controllers.
type Transport struct{}

// Write downgrades to NORMAL if the capability bit is clear, writes the
// control register, then polls status for CC and RW1C-clears it.
func (Transport) Write(dev api.Device, ind ibpi.Indication) error {
	ctrlPath := dev.SysfsPath

	offset, ok := findCapabilityOffset(ctrlPath)
	if !ok {
		return ledstatus.New(ledstatus.InvalidController, "no NPEM capability on %s", ctrlPath)
	}

	capReg, err := readRegister(ctrlPath, offset, capRegOffset)
	if err != nil {
		return fmt.Errorf("read NPEM capability register: %w", err)
	}

	bit, known := ibpi.NPEMBit(ind)
	if !known || capReg&bit == 0 {
		log.WithField("controller", ctrlPath).WithField("pattern", ind).
			Info("pattern not supported, downgrading to NORMAL")
		bit, _ = ibpi.NPEMBit(ibpi.Normal)
	}

	ctrlReg, err := readRegister(ctrlPath, offset, controlRegOffset)
	if err != nil {
		return fmt.Errorf("read NPEM control register: %w", err)
	}
	ctrlReg &^= 0xFFF
	ctrlReg |= ibpi.NPEMCap | bit

	if err := writeRegister(ctrlPath, offset, controlRegOffset, ctrlReg); err != nil {
		return fmt.Errorf("write NPEM control register: %w", err)
	}

	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		status, err := readRegister(ctrlPath, offset, statusRegOffset)
		if err != nil {
			return fmt.Errorf("read NPEM status register: %w", err)
		}
		if status&ibpi.NPEMStatusCC != 0 {
			return writeRegister(ctrlPath, offset, statusRegOffset, ibpi.NPEMStatusCC)
		}
		time.Sleep(pollInterval)
	}

	return ledstatus.New(ledstatus.NotSupported, "NPEM command did not complete within 1s on %s", ctrlPath)
}

// Get returns the first IBPI (in table order) whose capability bit is set
// in the control register, or Unknown.
func Get(ctrlPath string) (ibpi.Indication, error) {
	offset, ok := findCapabilityOffset(ctrlPath)
	if !ok {
		return ibpi.Unknown, ledstatus.New(ledstatus.InvalidController, "no NPEM capability on %s", ctrlPath)
	}
	ctrlReg, err := readRegister(ctrlPath, offset, controlRegOffset)
	if err != nil {
		return ibpi.Unknown, err
	}
	return ibpi.DecodeNPEM(ctrlReg), nil
}
