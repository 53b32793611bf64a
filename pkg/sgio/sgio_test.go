package sgio

import (
	"testing"
	"time"
)

func TestExecSuccessPopulatesResult(t *testing.T) {
	orig := ioctlFunc
	defer func() { ioctlFunc = orig }()

	ioctlFunc = func(fd int, hdr *sgIOHdr) error {
		hdr.status = 0
		hdr.hostStatus = 0
		hdr.driverStatus = 0
		hdr.info = infoOK
		hdr.duration = 3
		return nil
	}

	cmd := []byte{0x01, 0x02, 0x03, 0x04}
	data := make([]byte, 16)
	res, err := Exec(3, cmd, data, DirFromDevice, time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Duration != 3*time.Millisecond {
		t.Fatalf("Duration = %v, want 3ms", res.Duration)
	}
}

func TestExecNonZeroInfoReturnsError(t *testing.T) {
	orig := ioctlFunc
	defer func() { ioctlFunc = orig }()

	ioctlFunc = func(fd int, hdr *sgIOHdr) error {
		hdr.status = 0x02
		hdr.info = 0x3 // clears the OK bit pattern expectation
		return nil
	}

	cmd := []byte{0x01}
	_, err := Exec(3, cmd, nil, DirNone, time.Second)
	if err == nil {
		t.Fatal("expected an error for non-OK info field")
	}
	if _, ok := err.(*Error); !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
}
