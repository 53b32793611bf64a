package vmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

func withScratchSlots(t *testing.T) string {
	t.Helper()
	orig := SysBusPCISlotsPath
	root := t.TempDir()
	SysBusPCISlotsPath = filepath.Join(root, "slots")
	t.Cleanup(func() { SysBusPCISlotsPath = orig })
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSlotForDevice(t *testing.T) {
	sysfsPath := "/sys/devices/pci0000:00/0000:00:0e.0/domain/0000:17:00.0/nvme/nvme3/nvme3n1"
	slot, ok := slotForDevice(sysfsPath)
	if !ok {
		t.Fatal("expected a slot to be found")
	}
	if slot != "0000:17:00" {
		t.Fatalf("slot = %q, want %q", slot, "0000:17:00")
	}
}

func TestSlotForDeviceNoNVMeSegment(t *testing.T) {
	if _, ok := slotForDevice("/sys/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sda"); ok {
		t.Fatal("expected no slot for a non-nvme device path")
	}
}

func TestWriteAndGetRoundTrip(t *testing.T) {
	withScratchSlots(t)
	writeFile(t, filepath.Join(SysBusPCISlotsPath, "0000:17:00", "attention"), "15")

	dev := api.Device{SysfsPath: "/sys/devices/pci0000:00/0000:00:0e.0/0000:17:00.0/nvme/nvme3/nvme3n1"}
	tr := Transport{VMDDomain: "0000"}

	if err := tr.Write(dev, ibpi.Locate); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Get(dev, "0000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != ibpi.Locate {
		t.Fatalf("Get() = %s, want LOCATE", got)
	}
}

func TestWriteRejectsForeignDomain(t *testing.T) {
	withScratchSlots(t)
	writeFile(t, filepath.Join(SysBusPCISlotsPath, "0001:17:00", "attention"), "15")

	dev := api.Device{SysfsPath: "/sys/devices/pci0000:00/0000:00:0e.0/0001:17:00.0/nvme/nvme3/nvme3n1"}
	tr := Transport{VMDDomain: "0000"}

	if err := tr.Write(dev, ibpi.Locate); err == nil {
		t.Fatal("expected an error for a slot outside the VMD domain")
	}
}

func TestWriteRejectsUnsupportedPattern(t *testing.T) {
	withScratchSlots(t)
	writeFile(t, filepath.Join(SysBusPCISlotsPath, "0000:17:00", "attention"), "15")

	dev := api.Device{SysfsPath: "/sys/devices/pci0000:00/0000:00:0e.0/0000:17:00.0/nvme/nvme3/nvme3n1"}
	tr := Transport{VMDDomain: "0000"}

	if err := tr.Write(dev, ibpi.HotSpare); err == nil {
		t.Fatal("expected InvalidState for a pattern with no VMD encoding")
	}
}
