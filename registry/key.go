package registry

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// NodeID identifies a key cell by its HCELL_INDEX; it is stable for the
// lifetime of the Hive it came from.
type NodeID uint32

// ValueID identifies a value cell the same way.
type ValueID uint32

// KeyInfo is the decoded, allocation-light summary of an NK cell.
type KeyInfo struct {
	Name        string
	SubkeyCount uint32
	ValueCount  uint32
	Parent      NodeID
}

func (h *Hive) nkCell(n NodeID) ([]byte, error) {
	c, err := h.cell(uint32(n))
	if err != nil {
		return nil, err
	}
	if len(c) < nkNameOffset || string(c[:2]) != nkSignature {
		return nil, errMalformed("key", "", errNotAnNK)
	}
	return c, nil
}

var errNotAnNK = strErr("cell is not an nk record")

// StatKey decodes an NK cell's cheap fields without walking its subkey or
// value lists.
func (h *Hive) StatKey(n NodeID) (KeyInfo, error) {
	c, err := h.nkCell(n)
	if err != nil {
		return KeyInfo{}, err
	}
	flags := binary.LittleEndian.Uint16(c[nkFlagsOffset:])
	nameLen := binary.LittleEndian.Uint16(c[nkNameLenOffset:])
	name := decodeKeyName(c[nkNameOffset:nkNameOffset+int(nameLen)], flags&nkFlagCompressedName != 0)

	return KeyInfo{
		Name:        name,
		SubkeyCount: binary.LittleEndian.Uint32(c[nkSubkeyCountOffset:]),
		ValueCount:  binary.LittleEndian.Uint32(c[nkValueCountOffset:]),
		Parent:      NodeID(binary.LittleEndian.Uint32(c[nkParentOffset:])),
	}, nil
}

func decodeKeyName(b []byte, compressed bool) string {
	if compressed {
		// Compressed names are Windows-1252, which is ASCII-identical for
		// the drive letters, service names, and path segments this reader
		// ever looks at.
		return string(b)
	}
	return decodeUTF16LE(b)
}

// decodeUTF16LE decodes raw, possibly-odd-length UTF-16LE bytes (registry
// names and string values are rarely NUL-padded to an even boundary the
// way PE wide strings are) into UTF-8.
func decodeUTF16LE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// Subkeys returns the NodeIDs of n's direct children.
func (h *Hive) Subkeys(n NodeID) ([]NodeID, error) {
	c, err := h.nkCell(n)
	if err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(c[nkSubkeyCountOffset:])
	if count == 0 {
		return nil, nil
	}
	listOff := binary.LittleEndian.Uint32(c[nkSubkeyListOffset:])
	return h.walkSubkeyList(listOff)
}

func (h *Hive) walkSubkeyList(offset uint32) ([]NodeID, error) {
	c, err := h.cell(offset)
	if err != nil {
		return nil, err
	}
	if len(c) < idxListOffset {
		return nil, errMalformed("subkeys", "", errShortList)
	}
	sig := string(c[:2])
	count := binary.LittleEndian.Uint16(c[idxCountOffset:])

	switch sig {
	case riSignature:
		// Indirect list: each entry is itself an lf/lh/li cell offset.
		var out []NodeID
		for i := 0; i < int(count); i++ {
			sub := binary.LittleEndian.Uint32(c[idxListOffset+i*4:])
			children, err := h.walkSubkeyList(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
		return out, nil
	case liSignature:
		out := make([]NodeID, count)
		for i := 0; i < int(count); i++ {
			out[i] = NodeID(binary.LittleEndian.Uint32(c[idxListOffset+i*liEntrySize:]))
		}
		return out, nil
	case lfSignature, lhSignature:
		out := make([]NodeID, count)
		for i := 0; i < int(count); i++ {
			out[i] = NodeID(binary.LittleEndian.Uint32(c[idxListOffset+i*lfEntrySize:]))
		}
		return out, nil
	default:
		return nil, errMalformed("subkeys", "", errUnknownListSig)
	}
}

var (
	errShortList      = strErr("subkey list cell shorter than its header")
	errUnknownListSig = strErr("unrecognized subkey list signature")
)

// GetChild finds a direct child of parent by name, case-insensitively.
func (h *Hive) GetChild(parent NodeID, name string) (NodeID, error) {
	kids, err := h.Subkeys(parent)
	if err != nil {
		return 0, err
	}
	for _, k := range kids {
		info, err := h.StatKey(k)
		if err != nil {
			return 0, err
		}
		if strings.EqualFold(info.Name, name) {
			return k, nil
		}
	}
	return 0, errNotFound("GetChild", name)
}

// Find walks a backslash-separated path of subkey names starting at root,
// e.g. "ControlSet001\Services\Ntfs".
func (h *Hive) Find(root NodeID, path string) (NodeID, error) {
	n := root
	for _, seg := range splitPath(path) {
		next, err := h.GetChild(n, seg)
		if err != nil {
			return 0, errNotFound("Find", path)
		}
		n = next
	}
	return n, nil
}

// Values returns the ValueIDs of n's values.
func (h *Hive) Values(n NodeID) ([]ValueID, error) {
	c, err := h.nkCell(n)
	if err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(c[nkValueCountOffset:])
	if count == 0 {
		return nil, nil
	}
	listOff := binary.LittleEndian.Uint32(c[nkValueListOffset:])
	lc, err := h.cell(listOff)
	if err != nil {
		return nil, err
	}
	if len(lc) < int(count)*4 {
		return nil, errMalformed("values", "", errShortList)
	}
	out := make([]ValueID, count)
	for i := 0; i < int(count); i++ {
		out[i] = ValueID(binary.LittleEndian.Uint32(lc[i*4:]))
	}
	return out, nil
}

// ValueMeta is the decoded, allocation-light summary of a VK cell.
type ValueMeta struct {
	Name string
	Type RegType
}

func (h *Hive) vkCell(v ValueID) ([]byte, error) {
	c, err := h.cell(uint32(v))
	if err != nil {
		return nil, err
	}
	if len(c) < vkNameOffset || string(c[:2]) != vkSignature {
		return nil, errMalformed("value", "", errNotAVK)
	}
	return c, nil
}

var errNotAVK = strErr("cell is not a vk record")

// StatValue decodes a VK cell's name and type without touching its data.
func (h *Hive) StatValue(v ValueID) (ValueMeta, error) {
	c, err := h.vkCell(v)
	if err != nil {
		return ValueMeta{}, err
	}
	nameLen := binary.LittleEndian.Uint16(c[vkNameLenOffset:])
	flags := binary.LittleEndian.Uint16(c[vkFlagsOffset:])
	var name string
	if nameLen == 0 {
		name = ""
	} else if flags&vkFlagNameASCII != 0 {
		name = string(c[vkNameOffset : vkNameOffset+int(nameLen)])
	} else {
		name = decodeUTF16LE(c[vkNameOffset : vkNameOffset+int(nameLen)])
	}
	return ValueMeta{
		Name: name,
		Type: RegType(binary.LittleEndian.Uint32(c[vkTypeOffset:])),
	}, nil
}

// GetValue finds a value on n by name, case-insensitively; use "" for the
// key's unnamed (default) value.
func (h *Hive) GetValue(n NodeID, name string) (ValueID, error) {
	vals, err := h.Values(n)
	if err != nil {
		return 0, err
	}
	for _, v := range vals {
		meta, err := h.StatValue(v)
		if err != nil {
			return 0, err
		}
		if strings.EqualFold(meta.Name, name) {
			return v, nil
		}
	}
	return 0, errNotFound("GetValue", name)
}

// ValueBytes returns a value's raw data, following the DataLength field's
// inline/indirect flag. DB (big data) chunking is not implemented: no
// value this reader looks at (DWORDs, ImagePath strings, MULTI_SZ order
// lists) approaches the 16 KiB inline limit that would need it.
func (h *Hive) ValueBytes(v ValueID) ([]byte, error) {
	c, err := h.vkCell(v)
	if err != nil {
		return nil, err
	}
	rawLen := binary.LittleEndian.Uint32(c[vkDataLenOffset:])
	length := rawLen & vkDataLenMask
	if rawLen&vkDataInlineBit != 0 {
		off := vkDataOffOffset
		if int(length) > 4 {
			return nil, errMalformed("value", "", errInlineTooLong)
		}
		return c[off : off+int(length)], nil
	}
	dataOff := binary.LittleEndian.Uint32(c[vkDataOffOffset:])
	data, err := h.cell(dataOff)
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) < length {
		return nil, errMalformed("value", "", errCellOOB)
	}
	return data[:length], nil
}

var errInlineTooLong = strErr("inline value data length exceeds 4 bytes")

// ValueString decodes a REG_SZ/REG_EXPAND_SZ value.
func (h *Hive) ValueString(v ValueID) (string, error) {
	meta, err := h.StatValue(v)
	if err != nil {
		return "", err
	}
	if meta.Type != RegSZ && meta.Type != RegExpandSZ {
		return "", errMalformed("ValueString", meta.Name, errWrongType)
	}
	data, err := h.ValueBytes(v)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(decodeUTF16LE(data), "\x00"), nil
}

// ValueStrings decodes a REG_MULTI_SZ value into its component strings.
func (h *Hive) ValueStrings(v ValueID) ([]string, error) {
	meta, err := h.StatValue(v)
	if err != nil {
		return nil, err
	}
	if meta.Type != RegMultiSZ {
		return nil, errMalformed("ValueStrings", meta.Name, errWrongType)
	}
	data, err := h.ValueBytes(v)
	if err != nil {
		return nil, err
	}
	full := decodeUTF16LE(data)
	parts := strings.Split(full, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// ValueDWORD decodes a REG_DWORD or REG_DWORD_BIG_ENDIAN value.
func (h *Hive) ValueDWORD(v ValueID) (uint32, error) {
	meta, err := h.StatValue(v)
	if err != nil {
		return 0, err
	}
	data, err := h.ValueBytes(v)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, errMalformed("ValueDWORD", meta.Name, errCellOOB)
	}
	if meta.Type == RegDWORDBE {
		return binary.BigEndian.Uint32(data), nil
	}
	if meta.Type != RegDWORD {
		return 0, errMalformed("ValueDWORD", meta.Name, errWrongType)
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ValueBinary decodes a REG_BINARY value, returning its raw bytes.
func (h *Hive) ValueBinary(v ValueID) ([]byte, error) {
	meta, err := h.StatValue(v)
	if err != nil {
		return nil, err
	}
	if meta.Type != RegBinary {
		return nil, errMalformed("ValueBinary", meta.Name, errWrongType)
	}
	return h.ValueBytes(v)
}

var errWrongType = strErr("value has an unexpected registry type")
