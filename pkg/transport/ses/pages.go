package ses

import (
	"encoding/binary"
	"errors"
)

var errShortPage = errors.New("ses: page buffer too short to parse")

// Element types that matter for slot discovery; every other
// SES-2 element type byte is legal but irrelevant here.
const (
	elementDeviceSlot      = 0x01
	elementArrayDeviceSlot = 0x17
)

// typeDescriptor is one 4-byte type-descriptor header from configuration
// page 1: element_type, num_possible_elements, subenclosure_id,
// type_descriptor_text_length.
type typeDescriptor struct {
	ElementType byte
	NumElements int
}

// parsePage1TypeDescriptors parses the page-1 layout: byte 1
// holds (subenclosure_count - 1); the enclosure descriptors begin at offset
// 8, each `len = buf[3]+4` bytes long (relative to its own start); once all
// enclosure descriptors are consumed, the type-descriptor headers follow,
// 4 bytes each, totaling the sum of each enclosure descriptor's
// num_type_desc field (byte 1 of that descriptor).
func parsePage1TypeDescriptors(buf []byte) ([]typeDescriptor, error) {
	if len(buf) < 8 {
		return nil, errShortPage
	}

	totalEnclosures := int(buf[1]) + 1
	offset := 8
	totalTypeDesc := 0

	for i := 0; i < totalEnclosures; i++ {
		if offset+4 > len(buf) {
			return nil, errShortPage
		}
		numTypeDesc := int(buf[offset+1])
		length := int(buf[offset+3]) + 4
		totalTypeDesc += numTypeDesc
		offset += length
	}

	out := make([]typeDescriptor, 0, totalTypeDesc)
	for i := 0; i < totalTypeDesc; i++ {
		if offset+4 > len(buf) {
			return nil, errShortPage
		}
		out = append(out, typeDescriptor{
			ElementType: buf[offset],
			NumElements: int(buf[offset+1]),
		})
		offset += 4
	}
	return out, nil
}

// slotPositions keeps only the DEVICE_SLOT and ARRAY_DEVICE_SLOT type
// descriptors, which always appear first in the list; the first non-slot
// descriptor terminates the scan.
func slotPositions(descs []typeDescriptor) []typeDescriptor {
	var out []typeDescriptor
	for _, d := range descs {
		if d.ElementType != elementDeviceSlot && d.ElementType != elementArrayDeviceSlot {
			break
		}
		out = append(out, d)
	}
	return out
}

// aesEntry is one parsed additional-element-status (page 10) entry.
type aesEntry struct {
	ElementIndex int
	SASAddress   uint64
}

// parsePage10 walks the additional-element-status page: entries are
// variably sized (`ai[1]+2` bytes); for each SAS-protocol entry
// (`ai[0]&0xF == 6`) the 8-byte big-endian SAS address sits at offset 12
// from the PHY-0 descriptor (0 if the EIP bit is clear, +4 if set), and the
// element index is `ai[3]` when EIP is set, else the running positional
// index.
func parsePage10(buf []byte) []aesEntry {
	const (
		eipBit      = 0x10
		protoMask   = 0x0F
		protoSAS    = 0x06
		headerBytes = 8
	)

	var out []aesEntry
	offset := headerBytes
	pos := 0

	for offset+2 <= len(buf) {
		entryLen := int(buf[offset+1]) + 2
		if entryLen < 4 || offset+entryLen > len(buf) {
			break
		}

		ai := buf[offset : offset+entryLen]
		eip := ai[0]&eipBit != 0
		proto := ai[0] & protoMask

		if proto == protoSAS {
			phyOff := 12
			if eip {
				phyOff += 4
			}
			if phyOff+8 <= len(ai) {
				idx := pos
				if eip {
					idx = int(ai[3])
				}
				out = append(out, aesEntry{
					ElementIndex: idx,
					SASAddress:   binary.BigEndian.Uint64(ai[phyOff : phyOff+8]),
				})
			}
		}

		pos++
		offset += entryLen
	}
	return out
}
