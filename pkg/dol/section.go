package dol

import "fmt"

const (
	HeaderSize = 0x100
	NumText    = 7
	NumData    = 11

	offTextOffsets = 0x00
	offDataOffsets = 0x1c
	offTextAddrs   = 0x48
	offDataAddrs   = 0x64
	offTextSizes   = 0x90
	offDataSizes   = 0xac
	offBSSAddr     = 0xd8
	offBSSSize     = 0xdc
	offEntry       = 0xe0
)

type Kind uint8

const (
	KindText Kind = iota
	KindData
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "data"
}

type Section struct {
	// Index is the slot in the header table of this kind.
	Index   int
	Kind    Kind
	Offset  uint32
	Address uint32
	Size    uint32
}

func (s Section) Name() string { return fmt.Sprintf("%s%d", s.Kind, s.Index) }

func (s Section) End() uint64 { return uint64(s.Address) + uint64(s.Size) }

func (s Section) Contains(addr uint32) bool {
	return addr >= s.Address && uint64(addr) < s.End()
}

// ContainsOffset reports whether a file offset falls inside the section data.
func (s Section) ContainsOffset(off uint32) bool {
	return off >= s.Offset && uint64(off) < uint64(s.Offset)+uint64(s.Size)
}

func (s Section) String() string {
	return fmt.Sprintf("%-6s %08x-%08x off=%#07x size=%#x", s.Name(), s.Address, s.End(), s.Offset, s.Size)
}
