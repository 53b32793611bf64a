package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/intel/ledmon-sub002/pkg/classify"
	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/registry"
	"github.com/intel/ledmon-sub002/pkg/transport/dellipmi"
	"github.com/intel/ledmon-sub002/pkg/transport/vmd"
)

func withScratchVMDSlots(t *testing.T) {
	t.Helper()
	orig := vmd.SysBusPCISlotsPath
	root := t.TempDir()
	vmd.SysBusPCISlotsPath = filepath.Join(root, "slots")
	t.Cleanup(func() { vmd.SysBusPCISlotsPath = orig })
}

func writeAttention(t *testing.T, slotAddr, value string) {
	t.Helper()
	dir := filepath.Join(vmd.SysBusPCISlotsPath, slotAddr)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "attention"), []byte(value), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchVMDRoutesThroughSlotAttention(t *testing.T) {
	withScratchVMDSlots(t)
	writeAttention(t, "0000:17:00", "15")

	dev := &registry.BlockDevice{
		Name:       "nvme3n1",
		SysfsPath:  "/sys/devices/pci0000:00/0000:00:0e.0/domain/0000:17:00.0/nvme/nvme3/nvme3n1",
		Controller: &registry.Controller{Type: classify.VMD},
	}
	tr := &Transports{VMDDomain: "0000"}

	if err := dispatch(dev, ibpi.Locate, tr); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(vmd.SysBusPCISlotsPath, "0000:17:00", "attention"))
	if err != nil {
		t.Fatalf("read attention: %v", err)
	}
	if strings.TrimSpace(string(got)) != "7" {
		t.Fatalf("attention = %q, want \"7\" (LOCATE nibble)", got)
	}
}

func TestDispatchUnknownControllerTypeErrors(t *testing.T) {
	dev := &registry.BlockDevice{
		Name:       "sda",
		Controller: &registry.Controller{Type: classify.Unknown},
	}
	if err := dispatch(dev, ibpi.Locate, &Transports{}); err == nil {
		t.Fatal("expected an error for an unbound controller type")
	}
}

func TestDispatchNilControllerErrors(t *testing.T) {
	dev := &registry.BlockDevice{Name: "sda", EnclIndex: -1}
	if err := dispatch(dev, ibpi.Locate, &Transports{}); err == nil {
		t.Fatal("expected an error for a device with no bound controller")
	}
}

func TestDispatchSCSIWithNoBindingErrors(t *testing.T) {
	dev := &registry.BlockDevice{
		Name:       "sda",
		EnclIndex:  -1,
		Controller: &registry.Controller{Type: classify.SCSI},
	}
	if err := dispatch(dev, ibpi.Locate, &Transports{}); err == nil {
		t.Fatal("expected an error when neither an enclosure slot nor an SGPIO host-port exists")
	}
}

func TestDispatchSCSIWithEnclosurePrefersSES(t *testing.T) {
	encl := &registry.Enclosure{Path: "nonexistent-enclosure"}
	dev := &registry.BlockDevice{
		Name:       "sda",
		EnclIndex:  0,
		Enclosure:  encl,
		Controller: &registry.Controller{Type: classify.SCSI},
	}
	err := dispatch(dev, ibpi.Locate, &Transports{})
	if err == nil {
		t.Fatal("expected the SES open to fail against a nonexistent bsg device")
	}
	if strings.Contains(err.Error(), "neither an enclosure slot nor an SGPIO") {
		t.Fatalf("dispatch picked the SGPIO fallback instead of SES: %v", err)
	}
}

type fakeDellExecutor struct {
	driveMap   []byte
	setCalls   int
}

func (f *fakeDellExecutor) Execute(netFn, cmd byte, data []byte) ([]byte, error) {
	if netFn == 0x30 && cmd == 0x17 {
		return f.driveMap, nil
	}
	if netFn == 0x30 && cmd == 0x14 {
		f.setCalls++
		return nil, nil
	}
	return nil, nil
}

func TestDispatchDellRoutesThroughExecutor(t *testing.T) {
	resp := make([]byte, 9)
	resp[7], resp[8] = 2, 3
	fake := &fakeDellExecutor{driveMap: resp}

	dev := &registry.BlockDevice{
		Name:       "sda",
		BDF:        "0000:18:00.0",
		Controller: &registry.Controller{Type: classify.DellSSD},
	}
	tr := &Transports{Dell: &dellipmi.Transport{Executor: fake, Generation: dellipmi.Gen13G}}

	if err := dispatch(dev, ibpi.Locate, tr); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if fake.setCalls != 1 {
		t.Fatalf("setCalls = %d, want 1", fake.setCalls)
	}
}

func TestDispatchDellWithoutTransportErrors(t *testing.T) {
	dev := &registry.BlockDevice{
		Name:       "sda",
		Controller: &registry.Controller{Type: classify.DellSSD},
	}
	if err := dispatch(dev, ibpi.Locate, &Transports{}); err == nil {
		t.Fatal("expected an error when no Dell BMC generation has been detected")
	}
}
