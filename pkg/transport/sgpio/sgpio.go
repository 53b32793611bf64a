// Package sgpio implements the SGPIO/SMP Transport: SMP
// READ/WRITE GPIO request frames submitted over SG_IO against a private
// bsg character device mknod'ed from a SAS host's `dev` attribute.
//
// The `dev` attribute's major:minor text is parsed here (parseMajorMinor);
// pkg/sgio supplies the SG_IO plumbing shared with the SES transport.
package sgpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/sgio"
	"github.com/intel/ledmon-sub002/pkg/sysfs"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

var log = ledutils.ComponentLogger("sgpio")

// SysClassSASHost is the SAS host sysfs root, overridable by tests.
var SysClassSASHost = "/sys/class/sas_host"

const (
	smpFrameTypeRequest = 0x40

	smpFuncReadGPIO  = 0x02
	smpFuncWriteGPIO = 0x82

	// GPIO register types.
	gpioRegTypeCfg = 0x00
	gpioRegTypeTx  = 0x03

	cfgRegisterIndex = 0
	txRegisterIndex  = 0
	registerCount    = 1 // one 4-byte register

	cfgEnableBit = 1 << 0

	ioTimeout = 5 * time.Second
)

// buildFrame lays out the fixed SMP request header: frame_type, function,
// register_type, register_index, register_count, 3 reserved bytes,
// followed by register_count 32-bit data words. The CRC
// word at the end is left zeroed; the kernel driver computes it.
func buildFrame(function, regType, regIndex, regCount byte, data []byte) []byte {
	frame := make([]byte, 8+4*int(regCount)+4)
	frame[0] = smpFrameTypeRequest
	frame[1] = function
	frame[2] = regType
	frame[3] = regIndex
	frame[4] = regCount
	copy(frame[8:], data)
	return frame
}

func devNodePath(hostName string) string {
	return filepath.Join(SysClassSASHost, hostName, "device", "bsg", "dev")
}

// openHostDevice mknods a private char device node at a temp path from the
// host's "major:minor" dev attribute and opens it read/write. It is a
// package var so tests can substitute a fake fd without mknod'ing for
// real (which requires root).
var openHostDevice = defaultOpenHostDevice

func defaultOpenHostDevice(hostName string) (int, func(), error) {
	devAttr := sysfs.ReadText(devNodePath(hostName))
	major, minor, ok := parseMajorMinor(devAttr)
	if !ok {
		return 0, nil, ledstatus.New(ledstatus.SysfsPathError, "no dev attribute for SAS host %s", hostName)
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("ledmon-sgpio-%s", hostName))
	dev := int(unix.Mkdev(uint32(major), uint32(minor)))
	_ = os.Remove(path)
	if err := unix.Mknod(path, unix.S_IFCHR|0600, dev); err != nil {
		return 0, nil, ledstatus.New(ledstatus.FileOpenError, "mknod %s: %v", path, err)
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		os.Remove(path)
		return 0, nil, ledstatus.New(ledstatus.FileOpenError, "open %s: %v", path, err)
	}
	cleanup := func() {
		unix.Close(fd)
		os.Remove(path)
	}
	return fd, cleanup, nil
}

func parseMajorMinor(s string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// readRegister and writeRegister are package vars, not plain funcs, so
// tests can substitute the SG_IO plumbing without a real bsg fd.
var (
	readRegister  = defaultReadRegister
	writeRegister = defaultWriteRegister
)

func defaultReadRegister(fd int, regType, regIndex byte) ([4]byte, error) {
	var out [4]byte
	frame := buildFrame(smpFuncReadGPIO, regType, regIndex, registerCount, nil)
	resp := make([]byte, 4)
	if _, err := sgio.Exec(fd, frame, resp, sgio.DirFromDevice, ioTimeout); err != nil {
		return out, err
	}
	copy(out[:], resp)
	return out, nil
}

func defaultWriteRegister(fd int, regType, regIndex byte, value [4]byte) error {
	frame := buildFrame(smpFuncWriteGPIO, regType, regIndex, registerCount, value[:])
	_, err := sgio.Exec(fd, frame, nil, sgio.DirToDevice, ioTimeout)
	return err
}

// InitHost enables CFG register 0, then seeds TX register 0 with the
// ONESHOT_NORMAL pattern if it cannot be read back, ordered so phy-index 0
// occupies byte 3 (N=4). cache and dirty point at the caller-owned
// host-port fields (kept in the registry) so this package never needs to
// import it, avoiding a cycle.
func InitHost(cache *[4]byte, dirty *bool, hostName string) error {
	fd, cleanup, err := openHostDevice(hostName)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := writeRegister(fd, gpioRegTypeCfg, cfgRegisterIndex, [4]byte{cfgEnableBit, 0, 0, 0}); err != nil {
		return fmt.Errorf("write SGPIO CFG register 0: %w", err)
	}

	val, err := readRegister(fd, gpioRegTypeTx, txRegisterIndex)
	if err != nil {
		val = [4]byte{0, 0, 0, 0}
		log.WithField("host", hostName).Debug("TX register 0 unreadable, seeding ONESHOT_NORMAL")
	}
	*cache = val
	*dirty = false

	return writeRegister(fd, gpioRegTypeTx, txRegisterIndex, *cache)
}

// Transport implements api.Transport for SGPIO-addressed devices. HostName
// identifies the SAS host whose TX register the write lands on; Cache and
// Dirty point at the in-registry host-port fields, mutated in place to stay
// coherent with hardware.
type Transport struct {
	HostName string
	Cache    *[4]byte
	Dirty    *bool
}

// Write re-reads TX register 0 to capture concurrent changes, mutates the
// single byte for dev.PhyIndex, and writes the whole 4-byte register back.
// Unsupported patterns are refused (ENOTSUP-equivalent); downgrading to
// NORMAL is the indication model consumer's job, not this transport's.
func (t Transport) Write(dev api.Device, ind ibpi.Indication) error {
	byteVal := ibpi.SGPIOByte(ind)
	if !byteVal.Supported {
		return ledstatus.New(ledstatus.NotSupported, "pattern %s has no SGPIO encoding", ind)
	}

	fd, cleanup, err := openHostDevice(t.HostName)
	if err != nil {
		return err
	}
	defer cleanup()

	cache, err := readRegister(fd, gpioRegTypeTx, txRegisterIndex)
	if err != nil {
		return fmt.Errorf("re-read TX register 0: %w", err)
	}

	idx := (len(cache) - 1) - dev.PhyIndex
	if idx < 0 || idx >= len(cache) {
		return ledstatus.New(ledstatus.OutOfRange, "phy index %d out of range for a 4-byte TX register", dev.PhyIndex)
	}
	cache[idx] = byteVal.Byte

	if err := writeRegister(fd, gpioRegTypeTx, txRegisterIndex, cache); err != nil {
		return fmt.Errorf("write TX register 0: %w", err)
	}

	if t.Cache != nil {
		*t.Cache = cache
	}
	if t.Dirty != nil {
		*t.Dirty = false
	}
	return nil
}
