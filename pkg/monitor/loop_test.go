package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/registry"
	"github.com/intel/ledmon-sub002/pkg/transport/vmd"
)

func vmdDevice(name string) *registry.BlockDevice {
	return &registry.BlockDevice{
		Name:         name,
		EnclIndex:    -1,
		SysfsPath:    "/sys/devices/pci0000:00/0000:00:0e.0/0000:17:00.0/nvme/nvme3/nvme3n1",
		Controller:   &registry.Controller{Type: classify.VMD},
		IBPIPrevious: ibpi.Unknown,
	}
}

func readAttention(t *testing.T) string {
	t.Helper()
	buf, err := os.ReadFile(filepath.Join(vmd.SysBusPCISlotsPath, "0000:17:00", "attention"))
	if err != nil {
		t.Fatalf("read attention: %v", err)
	}
	return strings.TrimSpace(string(buf))
}

func TestDispatchOneSkipsZeroDeltaWrites(t *testing.T) {
	withScratchVMDSlots(t)
	writeAttention(t, "0000:17:00", "15")

	dev := vmdDevice("nvme3n1")
	dev.IBPIDesired = ibpi.Locate
	l := NewLoop(&registry.Registry{BlockDevices: []*registry.BlockDevice{dev}}, nil, nil, &Transports{VMDDomain: "0000"}, 0)

	l.dispatchOne(dev)
	if got := readAttention(t); got != "7" {
		t.Fatalf("attention after first dispatch = %q, want 7", got)
	}

	// Flip the on-disk value behind the transport's back; a second
	// dispatch with the same desired IBPI must perform zero writes.
	writeAttention(t, "0000:17:00", "15")
	l.dispatchOne(dev)
	if got := readAttention(t); got != "15" {
		t.Fatalf("second dispatch with unchanged desired IBPI should be a no-op, attention = %q", got)
	}
}

func TestDispatchOneOneshotNormalQuiescesAfterFirstWrite(t *testing.T) {
	withScratchVMDSlots(t)
	writeAttention(t, "0000:17:00", "15")

	dev := vmdDevice("nvme3n1")
	dev.IBPIDesired = ibpi.OneshotNormal
	l := NewLoop(&registry.Registry{BlockDevices: []*registry.BlockDevice{dev}}, nil, nil, &Transports{VMDDomain: "0000"}, 0)

	l.dispatchOne(dev)
	if got := readAttention(t); got != "15" { // VMDOff == 0xF == 15
		t.Fatalf("attention after ONESHOT_NORMAL = %q, want 15 (OFF)", got)
	}
	if !l.quiesced[dev.Name] {
		t.Fatal("device should be marked quiesced after its first ONESHOT_NORMAL write")
	}

	// Flip the file behind the transport's back; re-dispatching the same
	// ONESHOT_NORMAL desired state must be a no-op until a non-normal
	// transition occurs.
	writeAttention(t, "0000:17:00", "7")
	l.dispatchOne(dev)
	if got := readAttention(t); got != "7" {
		t.Fatalf("quiesced ONESHOT_NORMAL re-dispatch must not write, attention = %q", got)
	}
}

func TestDispatchOneOneshotNormalResumesAfterNonNormalTransition(t *testing.T) {
	withScratchVMDSlots(t)
	writeAttention(t, "0000:17:00", "15")

	dev := vmdDevice("nvme3n1")
	l := NewLoop(&registry.Registry{BlockDevices: []*registry.BlockDevice{dev}}, nil, nil, &Transports{VMDDomain: "0000"}, 0)

	dev.IBPIDesired = ibpi.OneshotNormal
	l.dispatchOne(dev)
	if !l.quiesced[dev.Name] {
		t.Fatal("expected quiesced after ONESHOT_NORMAL")
	}

	dev.IBPIDesired = ibpi.Locate
	l.dispatchOne(dev)
	if l.quiesced[dev.Name] {
		t.Fatal("a non-normal desired transition must clear the quiesced flag")
	}
	if got := readAttention(t); got != "7" {
		t.Fatalf("attention after LOCATE transition = %q, want 7", got)
	}
}

func TestRefreshDesiredOverrideWinsOverRaidProvider(t *testing.T) {
	dev := &registry.BlockDevice{Name: "sda", EnclIndex: -1}
	reg := &registry.Registry{BlockDevices: []*registry.BlockDevice{dev}}

	l := NewLoop(reg, fakeRaidProvider{"sda": ibpi.Rebuild}, nil, &Transports{}, 0)
	l.Overrides = map[string]ibpi.Indication{"sda": ibpi.Locate}

	l.refreshDesired()
	if dev.IBPIDesired != ibpi.Locate {
		t.Fatalf("IBPIDesired = %v, want LOCATE (override must win)", dev.IBPIDesired)
	}
}

func TestRefreshDesiredFallsBackToRaidProvider(t *testing.T) {
	dev := &registry.BlockDevice{Name: "sda", EnclIndex: -1}
	reg := &registry.Registry{BlockDevices: []*registry.BlockDevice{dev}}

	l := NewLoop(reg, fakeRaidProvider{"sda": ibpi.Degraded}, nil, &Transports{}, 0)
	l.refreshDesired()
	if dev.IBPIDesired != ibpi.Degraded {
		t.Fatalf("IBPIDesired = %v, want DEGRADED", dev.IBPIDesired)
	}
}

type fakeRaidProvider map[string]ibpi.Indication

func (f fakeRaidProvider) Refresh() (map[string]ibpi.Indication, error) {
	return map[string]ibpi.Indication(f), nil
}
