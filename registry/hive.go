package registry

import (
	"encoding/binary"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// Hive is a parsed, read-only view of a registry hive file (SYSTEM,
// SOFTWARE, ...). Construct one with Open or LoadBytes.
type Hive struct {
	data        mmap.MMap
	raw         []byte
	majorVer    uint32
	minorVer    uint32
	rootOffset  uint32
}

// Open mmaps path and parses its REGF header.
func Open(path string) (*Hive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errMalformed("Open", path, err)
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errMalformed("Open", path, err)
	}

	h, err := loadBytes(data, []byte(data))
	if err != nil {
		return nil, err
	}
	return h, nil
}

// LoadBytes parses a hive already resident in memory, used by tests and by
// callers that have read the hive through some other channel (e.g. a
// firmware file-protocol read into a pool buffer).
func LoadBytes(data []byte) (*Hive, error) {
	return loadBytes(nil, data)
}

func loadBytes(m mmap.MMap, data []byte) (*Hive, error) {
	if len(data) < headerSize {
		return nil, errMalformed("Open", "", errShortHeader)
	}
	if string(data[:4]) != regfSignature {
		return nil, errMalformed("Open", "", errBadSignature)
	}

	h := &Hive{
		data:       m,
		raw:        data,
		majorVer:   binary.LittleEndian.Uint32(data[regfMajorVerOffset:]),
		minorVer:   binary.LittleEndian.Uint32(data[regfMinorVerOffset:]),
		rootOffset: binary.LittleEndian.Uint32(data[regfRootCellOffset:]),
	}
	return h, nil
}

var (
	errShortHeader  = strErr("hive shorter than REGF header")
	errBadSignature = strErr("missing regf signature")
)

type strErr string

func (e strErr) Error() string { return string(e) }

// cell returns the payload bytes (after the 4-byte size prefix) of the
// cell whose HCELL_INDEX is offset, relative to the first HBIN.
func (h *Hive) cell(offset uint32) ([]byte, error) {
	pos := headerSize + int(offset)
	if pos+cellHeaderSize > len(h.raw) {
		return nil, errMalformed("cell", "", errCellOOB)
	}
	size := int32(binary.LittleEndian.Uint32(h.raw[pos:]))
	if size >= 0 {
		return nil, errMalformed("cell", "", errCellFree)
	}
	size = -size
	start := pos + cellHeaderSize
	end := start + int(size) - cellHeaderSize
	if end > len(h.raw) || end < start {
		return nil, errMalformed("cell", "", errCellOOB)
	}
	return h.raw[start:end], nil
}

var (
	errCellOOB  = strErr("cell extends past end of hive")
	errCellFree = strErr("referenced cell is marked free")
)

// Root returns the NodeID of the hive's root key.
func (h *Hive) Root() NodeID { return NodeID(h.rootOffset) }

// Version returns the hive's on-disk (major, minor) format version, e.g.
// (1, 5) for the modern format all supported NT releases write.
func (h *Hive) Version() (uint32, uint32) { return h.majorVer, h.minorVer }

// Close releases the mmap backing the hive, if any (LoadBytes-constructed
// hives own no resource and Close is a no-op on them).
func (h *Hive) Close() error {
	if h.data != nil {
		return h.data.Unmap()
	}
	return nil
}

// splitPath breaks a backslash-separated registry path into components,
// discarding empty leading/trailing segments so both "Foo\Bar" and
// "\Foo\Bar\" behave the same.
func splitPath(path string) []string {
	parts := strings.Split(path, `\`)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
