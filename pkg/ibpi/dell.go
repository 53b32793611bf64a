package ibpi

// Dell BP (backplane) state bitmask, transmitted as a 16-bit little-endian
// field in the SET_DRIVE_STATUS OEM command. The flags are composable: a
// single drive state is a bitwise OR of one or more of these.
const (
	DellOnline        uint16 = 1 << 0
	DellHotSpare      uint16 = 1 << 1
	DellIdentify      uint16 = 1 << 2
	DellRebuilding    uint16 = 1 << 3
	DellFault         uint16 = 1 << 4
	DellPredict       uint16 = 1 << 5
	DellCriticalArray uint16 = 1 << 6
	DellFailedArray   uint16 = 1 << 7
)

var dellTable = map[Indication]uint16{
	Normal:      DellOnline,
	Locate:      DellOnline | DellIdentify,
	LocateOff:   DellOnline,
	Degraded:    DellOnline | DellCriticalArray,
	Rebuild:     DellOnline | DellRebuilding,
	FailedArray: DellFailedArray,
	HotSpare:    DellOnline | DellHotSpare,
	PFA:         DellOnline | DellPredict,
	FailedDrive: DellFault,
}

// DellMask returns the BP bitmask for ind, defaulting to DellOnline for
// indications with no explicit entry (OneshotNormal, Unknown).
func DellMask(ind Indication) uint16 {
	if m, ok := dellTable[ind]; ok {
		return m
	}
	return DellOnline
}
