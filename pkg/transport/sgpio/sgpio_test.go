package sgpio

import (
	"errors"
	"testing"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

var errUnreadable = errors.New("register unreadable")

func withFakeIO(t *testing.T, regs map[byte][4]byte) {
	t.Helper()
	origOpen, origRead, origWrite := openHostDevice, readRegister, writeRegister
	t.Cleanup(func() {
		openHostDevice, readRegister, writeRegister = origOpen, origRead, origWrite
	})

	openHostDevice = func(hostName string) (int, func(), error) {
		return 42, func() {}, nil
	}
	readRegister = func(fd int, regType, regIndex byte) ([4]byte, error) {
		return regs[regType], nil
	}
	writeRegister = func(fd int, regType, regIndex byte, value [4]byte) error {
		regs[regType] = value
		return nil
	}
}

func TestBuildFrameHeaderLayout(t *testing.T) {
	frame := buildFrame(smpFuncWriteGPIO, gpioRegTypeTx, 0, 1, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	want := []byte{smpFrameTypeRequest, smpFuncWriteGPIO, gpioRegTypeTx, 0, 1, 0, 0, 0, 0xAA, 0xBB, 0xCC, 0xDD}
	if len(frame) < len(want) {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	for i, b := range want {
		if frame[i] != b {
			t.Fatalf("frame[%d] = %#x, want %#x", i, frame[i], b)
		}
	}
}

func TestWriteSetsCorrectByteForPhyIndex(t *testing.T) {
	regs := map[byte][4]byte{gpioRegTypeTx: {0, 0, 0, 0}}
	withFakeIO(t, regs)

	var cache [4]byte
	var dirty bool
	tr := Transport{HostName: "host3", Cache: &cache, Dirty: &dirty}
	dev := api.Device{PhyIndex: 1}

	if err := tr.Write(dev, ibpi.Locate); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := regs[gpioRegTypeTx]
	want := ibpi.SGPIOByte(ibpi.Locate).Byte
	// phy index 1 of 4 -> byte index (4-1)-1 = 2
	if got[2] != want {
		t.Fatalf("TX register byte[2] = %#x, want %#x", got[2], want)
	}
	if cache != got {
		t.Fatalf("host cache not updated: %v != %v", cache, got)
	}
	if dirty {
		t.Fatal("dirty flag should be cleared after a successful write")
	}
}

func TestWriteRejectsUnsupportedPattern(t *testing.T) {
	regs := map[byte][4]byte{gpioRegTypeTx: {0, 0, 0, 0}}
	withFakeIO(t, regs)

	tr := Transport{HostName: "host3"}
	if err := tr.Write(api.Device{PhyIndex: 0}, ibpi.HotSpare); err == nil {
		t.Fatal("expected an error for a pattern with no SGPIO encoding")
	}
}

func TestInitHostSeedsWhenUnreadable(t *testing.T) {
	origOpen, origRead, origWrite := openHostDevice, readRegister, writeRegister
	defer func() { openHostDevice, readRegister, writeRegister = origOpen, origRead, origWrite }()

	openHostDevice = func(hostName string) (int, func(), error) {
		return 42, func() {}, nil
	}
	var written [4]byte
	readRegister = func(fd int, regType, regIndex byte) ([4]byte, error) {
		if regType == gpioRegTypeTx {
			return [4]byte{}, errUnreadable
		}
		return [4]byte{}, nil
	}
	writeRegister = func(fd int, regType, regIndex byte, value [4]byte) error {
		if regType == gpioRegTypeTx {
			written = value
		}
		return nil
	}

	var cache [4]byte
	dirty := true
	if err := InitHost(&cache, &dirty, "host3"); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	if written != [4]byte{0, 0, 0, 0} {
		t.Fatalf("expected seeded all-zero ONESHOT_NORMAL pattern, got %v", written)
	}
	if cache != [4]byte{0, 0, 0, 0} {
		t.Fatalf("host cache not seeded: %v", cache)
	}
	if dirty {
		t.Fatal("dirty flag should be cleared by InitHost")
	}
}
