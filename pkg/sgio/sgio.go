// Package sgio wraps the Linux SG_IO ioctl used by both the SES and
// SGPIO/SMP transports to submit raw SCSI/SMP frames over a bsg character
// device.
//
// Grounded on the dswarbrick/smart sg_io_hdr_t layout carried in the
// retrieval pack (coreos-assembler's vendored
// github.com/dswarbrick/smart/scsi/sgio.go), adapted to
// golang.org/x/sys/unix's raw Syscall entry point instead of a private
// ioctl wrapper package.
package sgio

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sgIO = 0x2285 // SG_IO, from <scsi/sg.h>

	dxferNone    = -1
	dxferToDev   = -2
	dxferFromDev = -3

	infoOKMask = 0x1
	infoOK     = 0x0
)

// sgIOHdr mirrors sg_io_hdr_t from <scsi/sg.h>. Field order and widths must
// match the kernel struct exactly; this is Linux-only.
type sgIOHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// Direction selects SG_DXFER_*.
type Direction int

const (
	DirNone Direction = iota
	DirToDevice
	DirFromDevice
)

func (d Direction) raw() int32 {
	switch d {
	case DirToDevice:
		return dxferToDev
	case DirFromDevice:
		return dxferFromDev
	default:
		return dxferNone
	}
}

// Result carries the portions of the ioctl response callers care about.
type Result struct {
	Status       uint8
	HostStatus   uint16
	DriverStatus uint16
	Duration     time.Duration
}

// Error reports a non-zero status/host/driver status after a completed
// ioctl (the ioctl syscall itself succeeded; the device rejected the
// command).
type Error struct {
	Status       uint8
	HostStatus   uint16
	DriverStatus uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("sgio: scsi status %#02x, host status %#02x, driver status %#02x",
		e.Status, e.HostStatus, e.DriverStatus)
}

// ioctlFunc is overridable by tests so the transports above this package
// can be exercised without a real bsg device node.
var ioctlFunc = defaultIoctl

func defaultIoctl(fd int, hdr *sgIOHdr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(sgIO), uintptr(unsafe.Pointer(hdr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Exec submits cmd (the CDB, or an SMP request frame treated as the "CDB"
// for SGPIO's purposes) over fd, transferring data in direction dir, and
// returns the populated Result. 32 bytes of sense/response data are
// reserved even when dir is DirNone.
func Exec(fd int, cmd []byte, data []byte, dir Direction, timeout time.Duration) (Result, error) {
	sense := make([]byte, 32)

	hdr := sgIOHdr{
		interfaceID:    'S',
		dxferDirection: dir.raw(),
		cmdLen:         uint8(len(cmd)),
		mxSBLen:        uint8(len(sense)),
		timeout:        uint32(timeout / time.Millisecond),
		cmdp:           uintptr(unsafe.Pointer(&cmd[0])),
		sbp:            uintptr(unsafe.Pointer(&sense[0])),
	}
	if len(data) > 0 {
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = uintptr(unsafe.Pointer(&data[0]))
	}

	if err := ioctlFunc(fd, &hdr); err != nil {
		return Result{}, fmt.Errorf("SG_IO ioctl: %w", err)
	}

	res := Result{
		Status:       hdr.status,
		HostStatus:   hdr.hostStatus,
		DriverStatus: hdr.driverStatus,
		Duration:     time.Duration(hdr.duration) * time.Millisecond,
	}
	if hdr.info&infoOKMask != infoOK {
		return res, &Error{Status: hdr.status, HostStatus: hdr.hostStatus, DriverStatus: hdr.driverStatus}
	}
	return res, nil
}
