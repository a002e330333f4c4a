package registry

import (
	"fmt"
	"strings"
)

// Driver is one selected boot-start driver service, fully resolved:
// image path computed, group/tag read, ready for the image graph to load.
type Driver struct {
	Name      string
	ImagePath string
	Group     string
	Tag       uint32
}

const (
	serviceTypeKernelDriver     = 1
	serviceTypeFileSystemDriver = 2
	serviceStartBoot            = 0
)

// ResolveCurrentControlSet follows Select\Default (and, on Windows 8+
// hives, a HardwareConfig\LastId override) to the ControlSet00X key that
// is actually live, mirroring the loader's own resolution order: a
// present, well-typed LastId always wins over Default.
func ResolveCurrentControlSet(h *Hive, win8Plus bool) (NodeID, error) {
	selectKey, err := h.Find(h.Root(), `Select`)
	if err != nil {
		return 0, errNotFound("ResolveCurrentControlSet", `Select`)
	}

	ordinal, err := h.readControlSetOrdinal(selectKey, "Default")

	if win8Plus {
		if hwKey, err2 := h.Find(h.Root(), `HardwareConfig`); err2 == nil {
			if last, err3 := h.readControlSetOrdinal(hwKey, "LastId"); err3 == nil {
				ordinal, err = last, nil
			}
		}
	}
	if err != nil {
		return 0, errMalformed("ResolveCurrentControlSet", `Select\Default`, err)
	}

	name := fmt.Sprintf("ControlSet%03d", ordinal)
	ccs, err := h.GetChild(h.Root(), name)
	if err != nil {
		return 0, errNotFound("ResolveCurrentControlSet", name)
	}
	return ccs, nil
}

func (h *Hive) readControlSetOrdinal(key NodeID, valueName string) (uint32, error) {
	v, err := h.GetValue(key, valueName)
	if err != nil {
		return 0, err
	}
	return h.ValueDWORD(v)
}

// EnumerateBootDrivers walks ccs\Services, selects boot-start kernel and
// filesystem drivers per spec, resolves each ImagePath, and orders the
// result by (group index in ServiceGroupOrder\List, tag index in
// GroupOrderList\<group>, stable insertion order). bootVolumeFSDriver
// names the filesystem driver servicing the boot volume (e.g. "Ntfs"),
// which is always selected regardless of its Start value.
//
// On win8Plus hives the result is split: drivers in the "Core" group go
// to core, everything else to boot. hwConfig is the StartOverride
// hardware-profile numeral to honor, or "" if none applies.
func EnumerateBootDrivers(h *Hive, ccs NodeID, bootVolumeFSDriver string, win8Plus bool, hwConfig string) (core, boot []Driver, err error) {
	servicesKey, err := h.Find(ccs, `Services`)
	if err != nil {
		return nil, nil, errNotFound("EnumerateBootDrivers", `Services`)
	}

	names, err := h.Subkeys(servicesKey)
	if err != nil {
		return nil, nil, err
	}

	var selected []Driver
	for _, svc := range names {
		info, err := h.StatKey(svc)
		if err != nil {
			return nil, nil, err
		}

		typ, typErr := h.readDWORD(svc, "Type")
		if typErr != nil || (typ != serviceTypeKernelDriver && typ != serviceTypeFileSystemDriver) {
			continue
		}

		isFS := strings.EqualFold(info.Name, bootVolumeFSDriver)

		start, startErr := h.readDWORD(svc, "Start")
		if startErr != nil || (start != serviceStartBoot && !isFS) {
			continue
		}

		// StartOverride can veto a boot-start selection for every driver
		// except the always-selected boot volume filesystem driver, and
		// never forces a selection.
		if hwConfig != "" && !isFS {
			if soKey, err := h.Find(svc, `StartOverride`); err == nil {
				if s, err := h.readDWORD(soKey, hwConfig); err == nil {
					if s != serviceStartBoot {
						continue
					}
				}
			}
		}

		imagePath, err := h.resolveImagePath(svc, info.Name)
		if err != nil {
			return nil, nil, err
		}
		group, _ := h.readString(svc, "Group")
		tag, tagErr := h.readDWORD(svc, "Tag")
		if tagErr != nil {
			tag = 0xFFFFFFFF
		}

		selected = append(selected, Driver{Name: info.Name, ImagePath: imagePath, Group: group, Tag: tag})
	}

	ordered, err := h.orderByGroup(ccs, selected)
	if err != nil {
		return nil, nil, err
	}

	if !win8Plus {
		return nil, ordered, nil
	}
	for _, d := range ordered {
		if strings.EqualFold(d.Group, "Core") {
			core = append(core, d)
		} else {
			boot = append(boot, d)
		}
	}
	return core, boot, nil
}

func (h *Hive) readDWORD(key NodeID, name string) (uint32, error) {
	v, err := h.GetValue(key, name)
	if err != nil {
		return 0, err
	}
	return h.ValueDWORD(v)
}

func (h *Hive) readString(key NodeID, name string) (string, error) {
	v, err := h.GetValue(key, name)
	if err != nil {
		return "", err
	}
	return h.ValueString(v)
}

// resolveImagePath applies the default-path and \SystemRoot\ stripping
// rules: an absent ImagePath defaults to system32\drivers\<name>.sys, and
// a present one has any \SystemRoot\ prefix removed since the loader
// already knows where the system root is.
func (h *Hive) resolveImagePath(svc NodeID, name string) (string, error) {
	path, err := h.readString(svc, "ImagePath")
	if err != nil {
		return fmt.Sprintf(`system32\drivers\%s.sys`, name), nil
	}
	const prefix = `\SystemRoot\`
	if len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) {
		path = path[len(prefix):]
	}
	return path, nil
}

// orderByGroup sorts drivers by the ServiceGroupOrder\List / GroupOrderList
// rule from original_source/src/boot.cpp: each group name in
// Control\ServiceGroupOrder\List is processed in order, pulling out every
// driver tagged with that group (stable, preserving enumeration order),
// then within the group re-ordering by tag index if a
// Control\GroupOrderList\<group> binary tag table exists. Drivers whose
// group never appears in the list trail, in original order.
func (h *Hive) orderByGroup(ccs NodeID, drivers []Driver) ([]Driver, error) {
	sgoKey, err := h.Find(ccs, `Control\ServiceGroupOrder`)
	if err != nil {
		return drivers, nil
	}
	listVal, err := h.GetValue(sgoKey, "List")
	if err != nil {
		return drivers, nil
	}
	groups, err := h.ValueStrings(listVal)
	if err != nil {
		return drivers, nil
	}

	golKey, golErr := h.Find(ccs, `Control\GroupOrderList`)

	remaining := append([]Driver(nil), drivers...)
	var out []Driver

	takeGroup := func(group string) []Driver {
		var match, rest []Driver
		for _, d := range remaining {
			if strings.EqualFold(d.Group, group) {
				match = append(match, d)
			} else {
				rest = append(rest, d)
			}
		}
		remaining = rest
		return match
	}

	for _, g := range groups {
		match := takeGroup(g)
		if len(match) == 0 {
			continue
		}
		if golErr == nil {
			if tagVal, err := h.GetValue(golKey, g); err == nil {
				if tags, err := h.ValueBinary(tagVal); err == nil {
					match = orderByTagTable(match, tags)
				}
			}
		}
		out = append(out, match...)
	}
	out = append(out, remaining...) // groups absent from the order list trail, original order
	return out, nil
}

// orderByTagTable reorders drivers by their position in a GroupOrderList
// binary value: a REG_BINARY header of {count uint32; tag[count] uint32}.
// Drivers whose tag is not present in the table trail, in original order.
func orderByTagTable(drivers []Driver, table []byte) []Driver {
	if len(table) < 4 {
		return drivers
	}
	count := le32(table)
	if len(table) < 4+int(count)*4 {
		return drivers
	}
	index := make(map[uint32]int, count)
	for i := uint32(0); i < count; i++ {
		index[le32(table[4+i*4:])] = int(i)
	}

	const unranked = 1 << 30
	rank := func(d Driver) int {
		if i, ok := index[d.Tag]; ok {
			return i
		}
		return unranked
	}

	out := append([]Driver(nil), drivers...)
	// stable insertion sort: the driver list is always small (tens of
	// entries), and stability matters more than asymptotic cost here.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j]) < rank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// StealData returns a detached copy of the hive's raw bytes, satisfying
// the invariant that the hive content survives past the Hive value itself
// so it can be mapped unchanged into the kernel's address space.
func (h *Hive) StealData() []byte {
	out := make([]byte, len(h.raw))
	copy(out, h.raw)
	return out
}
