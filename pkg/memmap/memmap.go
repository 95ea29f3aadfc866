// Package memmap describes named regions of a 32-bit address space.
package memmap

import "fmt"

type Region struct {
	Name string
	Base uint32
	Size uint32
}

// End returns the address one past the region, which may be 1<<32.
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && uint64(addr) < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%-8s [%08X, %08X] %s", r.Name, r.Base, r.End()-1, humanSize(r.Size))
}

// Map is a set of non-overlapping regions, kept in the order they were added.
type Map struct {
	regions []Region
}

func New() *Map {
	return &Map{}
}

func (m *Map) NumOfRegions() int {
	return len(m.regions)
}

func (m *Map) Regions() []Region {
	return append([]Region(nil), m.regions...)
}

func (m *Map) AddRegion(name string, base, size uint32) error {
	r := Region{Name: name, Base: base, Size: size}
	if size == 0 {
		return fmt.Errorf("region %s is empty", name)
	}
	if r.End() > 1<<32 {
		return fmt.Errorf("region %s at 0x%X with size 0x%X wraps the address space", name, base, size)
	}
	for _, other := range m.regions {
		if other.Name == name {
			return fmt.Errorf("region %s already exists", name)
		}
		if uint64(r.Base) < other.End() && uint64(other.Base) < r.End() {
			return fmt.Errorf("region %s overlaps %s", name, other.Name)
		}
	}
	m.regions = append(m.regions, r)
	return nil
}

// RegionForAddr returns the region holding addr.
func (m *Map) RegionForAddr(addr uint32) (Region, error) {
	for _, r := range m.regions {
		if r.Contains(addr) {
			return r, nil
		}
	}
	return Region{}, fmt.Errorf("addr 0x%08X is not mapped", addr)
}

func (m *Map) Lookup(name string) (Region, bool) {
	for _, r := range m.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Label names addr relative to its region, e.g. "flash+0x100".
func (m *Map) Label(addr uint32) string {
	r, err := m.RegionForAddr(addr)
	if err != nil {
		return "unmapped"
	}
	return fmt.Sprintf("%s+0x%X", r.Name, addr-r.Base)
}

// String implements Stringer interface.
func (m Map) String() string {
	info := fmt.Sprintf("%d regions\n", len(m.regions))
	for i, r := range m.regions {
		info += fmt.Sprintf("  Region #%d: %v\n", i, r)
	}
	return info
}

func humanSize(size uint32) string {
	switch {
	case size >= 1<<20 && size%(1<<20) == 0:
		return fmt.Sprintf("%d MB", size>>20)
	case size >= 1<<10 && size%(1<<10) == 0:
		return fmt.Sprintf("%d KB", size>>10)
	}
	return fmt.Sprintf("%d bytes", size)
}
