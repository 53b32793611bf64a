package ibpi

// NPEM capability/control register bit assignments (PCIe base spec
// capability 0x29). Bit 0 is the capability-support bit common to every
// NPEM register (capability, control, status); the remaining bits are
// per-indication.
const (
	NPEMCap        uint32 = 1 << 0
	NPEMBitOK      uint32 = 1 << 1
	NPEMBitLocate  uint32 = 1 << 2
	NPEMBitFail    uint32 = 1 << 3
	NPEMBitRebuild uint32 = 1 << 4
	NPEMBitPFA     uint32 = 1 << 5
	NPEMBitHotSpare uint32 = 1 << 6
	NPEMBitICA     uint32 = 1 << 7
	NPEMBitIFA     uint32 = 1 << 8

	// NPEMStatusCC is the status register's "command completed" bit,
	// RW1C (read, write 1 to clear) owned by the writer after polling.
	NPEMStatusCC uint32 = 1 << 0
)

// npemOrder is the declared order of the NPEM table (npemBits below, which
// maps each IBPI value needing an NPEM encoding onto its capability/control
// bit). Order is significant: DecodeNPEM walks this slice in order and
// returns the first indication whose bit is set, so more specific states must
// precede NORMAL.
var npemOrder = []Indication{
	FailedDrive, PFA, Rebuild, HotSpare, Degraded, FailedArray, Locate, Normal,
}

var npemBits = map[Indication]uint32{
	Normal:      NPEMBitOK,
	Locate:      NPEMBitLocate,
	FailedDrive: NPEMBitFail,
	Rebuild:     NPEMBitRebuild,
	PFA:         NPEMBitPFA,
	HotSpare:    NPEMBitHotSpare,
	Degraded:    NPEMBitICA,
	FailedArray: NPEMBitIFA,
}

// NPEMBit returns the capability/control bit for ind, and false if ind has
// no NPEM encoding (LocateOff, OneshotNormal, Unknown).
func NPEMBit(ind Indication) (uint32, bool) {
	b, ok := npemBits[ind]
	return b, ok
}

// DecodeNPEM returns the first IBPI value (in table-declared order) whose
// capability bit is set in ctrl, or Unknown if none is.
func DecodeNPEM(ctrl uint32) Indication {
	for _, ind := range npemOrder {
		if bit, ok := npemBits[ind]; ok && ctrl&bit != 0 {
			return ind
		}
	}
	return Unknown
}
