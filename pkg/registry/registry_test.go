package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/intel/ledmon-sub002/pkg/classify"
)

func withScratchRoots(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	origBus, origEncl, origSASHost, origBlock, origSASEnd :=
		sysBusPCIDevices, sysClassEnclosure, sysClassSASHost, sysClassBlock, sysClassSASEndDev
	sysBusPCIDevices = filepath.Join(root, "bus", "pci", "devices")
	sysClassEnclosure = filepath.Join(root, "class", "enclosure")
	sysClassSASHost = filepath.Join(root, "class", "sas_host")
	sysClassBlock = filepath.Join(root, "class", "block")
	sysClassSASEndDev = filepath.Join(root, "class", "sas_end_device")
	t.Cleanup(func() {
		sysBusPCIDevices, sysClassEnclosure, sysClassSASHost, sysClassBlock, sysClassSASEndDev =
			origBus, origEncl, origSASHost, origBlock, origSASEnd
	})

	return root
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	mkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func symlink(t *testing.T, oldname, newname string) {
	t.Helper()
	mkdir(t, filepath.Dir(newname))
	if err := os.Symlink(oldname, newname); err != nil {
		t.Fatal(err)
	}
}

func TestControllerForPicksLongestPathPrefix(t *testing.T) {
	r := &Registry{
		Controllers: []*Controller{
			{Path: "/sys/bus/pci/devices/0000:00:0e.0", Type: classify.VMD},
			{Path: "/sys/bus/pci/devices/0000:00:0e.0/0000:17:00.0", Type: classify.VMD},
		},
	}

	got := r.controllerFor("/sys/bus/pci/devices/0000:00:0e.0/0000:17:00.0/nvme/nvme3/nvme3n1")
	if got == nil || got.Path != "/sys/bus/pci/devices/0000:00:0e.0/0000:17:00.0" {
		t.Fatalf("controllerFor returned %+v, want the more specific nested controller", got)
	}
}

func TestControllerForNoMatch(t *testing.T) {
	r := &Registry{Controllers: []*Controller{{Path: "/sys/bus/pci/devices/0000:00:1f.0"}}}
	if got := r.controllerFor("/sys/class/block/sda"); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestBindEnclosureMatchesBySASAddress(t *testing.T) {
	encl := &Enclosure{
		Path: "/sys/class/enclosure/0:0:0:0",
		Slots: []EnclosureSlot{
			{ElementIndex: 0, SASAddress: 0x5000000000000001},
			{ElementIndex: 1, SASAddress: 0x5000000000000002},
		},
	}
	r := &Registry{Enclosures: []*Enclosure{encl}}

	dev := &BlockDevice{Name: "sdb", SASAddress: 0x5000000000000002, EnclIndex: -1}
	r.bindEnclosure(dev)

	if dev.Enclosure != encl {
		t.Fatal("expected dev to be bound to the matching enclosure")
	}
	if dev.EnclIndex != 1 {
		t.Fatalf("EnclIndex = %d, want 1", dev.EnclIndex)
	}
}

func TestBindEnclosureLeavesUnboundWhenNoSASAddress(t *testing.T) {
	r := &Registry{Enclosures: []*Enclosure{{Slots: []EnclosureSlot{{ElementIndex: 0, SASAddress: 1}}}}}
	dev := &BlockDevice{Name: "sda", EnclIndex: -1}

	r.bindEnclosure(dev)
	if dev.Enclosure != nil || dev.EnclIndex != -1 {
		t.Fatal("a device with no SAS address must not be bound to an enclosure")
	}
}

func TestBindEnclosureNoMatchingSlot(t *testing.T) {
	r := &Registry{Enclosures: []*Enclosure{{Slots: []EnclosureSlot{{ElementIndex: 0, SASAddress: 0x1}}}}}
	dev := &BlockDevice{Name: "sda", SASAddress: 0x2, EnclIndex: -1}

	r.bindEnclosure(dev)
	if dev.Enclosure != nil || dev.EnclIndex != -1 {
		t.Fatal("no slot matches the device's SAS address, it must stay unbound")
	}
}

func TestByPathAndByName(t *testing.T) {
	sda := &BlockDevice{Name: "sda", SysfsPath: "/sys/class/block/sda"}
	sdb := &BlockDevice{Name: "sdb", SysfsPath: "/sys/class/block/sdb"}
	r := &Registry{BlockDevices: []*BlockDevice{sda, sdb}}

	if r.ByName("sdb") != sdb {
		t.Fatal("ByName did not find sdb")
	}
	if r.ByPath("/sys/class/block/sda") != sda {
		t.Fatal("ByPath did not find sda")
	}
	if r.ByName("nonexistent") != nil {
		t.Fatal("ByName should return nil for an unknown device")
	}
}

func TestLooksLikeDiskExcludesVirtualDevices(t *testing.T) {
	cases := map[string]bool{
		"sda":     true,
		"nvme0n1": true,
		"loop0":   false,
		"ram0":    false,
		"dm-0":    false,
	}
	for name, want := range cases {
		if got := looksLikeDisk(name); got != want {
			t.Errorf("looksLikeDisk(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewAppliesWhitelistBlacklist(t *testing.T) {
	r := New([]string{"/sys/bus/pci/devices/0000:00:0e.0*"}, nil)
	if len(r.Whitelist) != 1 || r.Blacklist != nil {
		t.Fatal("New did not store the whitelist/blacklist as given")
	}
}

// TestScanExcludesUnknownControllers covers the invariant that every block
// device in the registry references a controller whose type is not
// UNKNOWN: a controller that classifies to UNKNOWN (here, a plain network
// controller with no driver, no NPEM capability and no Dell/VMD markers)
// must not be kept in Controllers, and a block device reachable only
// through that controller must not be kept in BlockDevices either.
func TestScanExcludesUnknownControllers(t *testing.T) {
	withScratchRoots(t)

	ctrlPath := filepath.Join(sysBusPCIDevices, "0000:05:00.0")
	writeFile(t, filepath.Join(ctrlPath, "class"), "0x020000")
	writeFile(t, filepath.Join(ctrlPath, "vendor"), "0x8086")
	writeFile(t, filepath.Join(ctrlPath, "device"), "0x1234")

	blkTarget := filepath.Join(ctrlPath, "host0", "target0:0:0", "0:0:0:0", "block", "sda")
	mkdir(t, blkTarget)
	symlink(t, blkTarget, filepath.Join(sysClassBlock, "sda"))

	r := New(nil, nil)
	if err := r.Scan(); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	for _, c := range r.Controllers {
		if c.Type == classify.Unknown {
			t.Fatalf("Controllers contains an UNKNOWN-typed controller: %+v", c)
		}
	}
	if got := r.ByName("sda"); got != nil {
		t.Fatalf("ByName(sda) = %+v, want nil: device's only controller is UNKNOWN", got)
	}
}
