package registry

import (
	"bytes"
	"encoding/binary"
)

// hiveBuilder assembles a minimal, valid regf file in memory: one HBIN
// holding hand-laid-out nk/vk/lf/li cells. It exists because the retrieved
// example pack carries no binary hive fixtures, only Go source describing
// the format.
type hiveBuilder struct {
	buf     bytes.Buffer // HBIN payload, built incrementally
	offsets map[string]uint32
}

func newHiveBuilder() *hiveBuilder {
	b := &hiveBuilder{offsets: make(map[string]uint32)}
	// HCELL_INDEX values are byte offsets from the start of hive data
	// (right after the 4 KiB regf header), which is a contiguous address
	// space spanning every hbin's 0x20-byte header too. Reserve that
	// header space up front so putCell's offsets already line up; finish
	// fills in the real header bytes afterward.
	b.buf.Write(make([]byte, hbinHeaderSize))
	return b
}

// putCell appends payload as one in-use cell (negative size prefix) and
// returns its HCELL_INDEX (the offset of the cell header relative to the
// start of bin data, which includes the first HBIN's 0x20-byte header).
func (b *hiveBuilder) putCell(payload []byte) uint32 {
	off := uint32(b.buf.Len())
	size := cellHeaderSize + len(payload)
	if size%8 != 0 {
		pad := 8 - size%8
		payload = append(append([]byte(nil), payload...), make([]byte, pad)...)
		size += pad
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(-int32(size)))
	b.buf.Write(hdr[:])
	b.buf.Write(payload)
	return off
}

func utf16le(s string) []byte {
	out := make([]byte, len(s)*2)
	for i, r := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(r))
	}
	return out
}

// nkSpec is a not-yet-placed key: its subkeys and values are placed first
// (children before parents), then the nk cell itself referencing their
// offsets.
type nkSpec struct {
	name     string
	subkeys  []uint32 // already-placed child nk offsets
	valueIDs []uint32 // already-placed vk offsets
	parent   uint32
}

func (b *hiveBuilder) putValue(name string, typ RegType, data []byte) uint32 {
	nameBytes := []byte(name) // stored ASCII/Windows-1252, flagged accordingly
	payload := make([]byte, vkNameOffset+len(nameBytes))
	copy(payload[:2], vkSignature)
	binary.LittleEndian.PutUint16(payload[vkNameLenOffset:], uint16(len(nameBytes)))
	binary.LittleEndian.PutUint32(payload[vkTypeOffset:], uint32(typ))
	binary.LittleEndian.PutUint16(payload[vkFlagsOffset:], vkFlagNameASCII)
	copy(payload[vkNameOffset:], nameBytes)

	if len(data) <= 4 {
		var inline [4]byte
		copy(inline[:], data)
		binary.LittleEndian.PutUint32(payload[vkDataLenOffset:], uint32(len(data))|vkDataInlineBit)
		copy(payload[vkDataOffOffset:vkDataOffOffset+4], inline[:])
		return b.putCell(payload)
	}

	dataOff := b.putCell(data)
	binary.LittleEndian.PutUint32(payload[vkDataLenOffset:], uint32(len(data)))
	binary.LittleEndian.PutUint32(payload[vkDataOffOffset:], dataOff)
	return b.putCell(payload)
}

// putSubkeyList places an li (flat, unhashed) subkey list and returns its
// offset.
func (b *hiveBuilder) putSubkeyList(children []uint32) uint32 {
	payload := make([]byte, idxListOffset+len(children)*liEntrySize)
	copy(payload[:2], liSignature)
	binary.LittleEndian.PutUint16(payload[idxCountOffset:], uint16(len(children)))
	for i, c := range children {
		binary.LittleEndian.PutUint32(payload[idxListOffset+i*liEntrySize:], c)
	}
	return b.putCell(payload)
}

func (b *hiveBuilder) putValueList(values []uint32) uint32 {
	payload := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(payload[i*4:], v)
	}
	return b.putCell(payload)
}

// putKey places an nk cell. subkeyListOff/valueListOff are 0xFFFFFFFF-style
// "none" when there are no children/values (pass 0 count and any offset).
func (b *hiveBuilder) putKey(name string, parent uint32, subkeyListOff uint32, subkeyCount int, valueListOff uint32, valueCount int) uint32 {
	nameBytes := []byte(name)
	payload := make([]byte, nkNameOffset+len(nameBytes))
	copy(payload[:2], nkSignature)
	binary.LittleEndian.PutUint16(payload[2:], nkFlagCompressedName)
	binary.LittleEndian.PutUint32(payload[nkParentOffset:], parent)
	binary.LittleEndian.PutUint32(payload[nkSubkeyCountOffset:], uint32(subkeyCount))
	binary.LittleEndian.PutUint32(payload[nkSubkeyListOffset:], subkeyListOff)
	binary.LittleEndian.PutUint32(payload[nkValueCountOffset:], uint32(valueCount))
	binary.LittleEndian.PutUint32(payload[nkValueListOffset:], valueListOff)
	binary.LittleEndian.PutUint16(payload[nkNameLenOffset:], uint16(len(nameBytes)))
	copy(payload[nkNameOffset:], nameBytes)
	return b.putCell(payload)
}

// finish wraps the accumulated cell payload in an HBIN and a REGF header,
// pointing the root cell at rootOffset.
func (b *hiveBuilder) finish(rootOffset uint32) []byte {
	binSize := align4k(b.buf.Len())
	bin := make([]byte, binSize)
	copy(bin, b.buf.Bytes()) // includes the reserved 0x20-byte header region
	copy(bin[:4], hbinSignature)
	binary.LittleEndian.PutUint32(bin[hbinOffsetField:], 0)
	binary.LittleEndian.PutUint32(bin[hbinSizeField:], uint32(binSize))

	out := make([]byte, headerSize+len(bin))
	copy(out[:4], regfSignature)
	binary.LittleEndian.PutUint32(out[regfMajorVerOffset:], 1)
	binary.LittleEndian.PutUint32(out[regfMinorVerOffset:], 5)
	binary.LittleEndian.PutUint32(out[regfRootCellOffset:], rootOffset)
	copy(out[headerSize:], bin)
	return out
}

func align4k(n int) int {
	const a = 0x1000
	if n%a == 0 {
		return n
	}
	return n + (a - n%a)
}
