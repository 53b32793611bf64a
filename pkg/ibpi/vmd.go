package ibpi

// VMD/PCIe hotplug `attention` sysfs file encodes state as a single 4-bit
// nibble.
const (
	VMDOff     byte = 0xF
	VMDLocate  byte = 0x7
	VMDRebuild byte = 0x5
	VMDFailure byte = 0xD
)

var vmdTable = map[Indication]byte{
	Normal:      VMDOff,
	LocateOff:   VMDOff,
	Locate:      VMDLocate,
	Rebuild:     VMDRebuild,
	FailedDrive: VMDFailure,
}

// VMDNibble returns the attention nibble for ind, and false if ind is not
// representable on the VMD transport (it should downgrade/reject rather
// than guess).
func VMDNibble(ind Indication) (byte, bool) {
	b, ok := vmdTable[ind]
	return b, ok
}

// DecodeVMD is the inverse of VMDNibble. LOCATE_OFF is not recovered (both
// it and NORMAL encode to VMDOff); only NORMAL, LOCATE, REBUILD and
// FAILED_DRIVE are recovered exactly, plus LOCATE_OFF -> NORMAL.
func DecodeVMD(nibble byte) Indication {
	switch nibble {
	case VMDLocate:
		return Locate
	case VMDRebuild:
		return Rebuild
	case VMDFailure:
		return FailedDrive
	case VMDOff:
		return Normal
	default:
		return Unknown
	}
}
