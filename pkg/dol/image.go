package dol

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/vietanhduong/dolmatch/pkg/syms"
)

var be = binary.BigEndian

// Image is a loaded DOL executable. The byte buffer is never modified in
// place; Patch and Writer produce derived images.
type Image struct {
	Entry   uint32
	BSSAddr uint32
	BSSSize uint32

	sections []Section // sorted by address
	index    syms.AddrIndex
	data     []byte
	closer   func() error
}

func Load(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, &FormatError{0, "header truncated", len(data)}
	}

	this := &Image{
		Entry:   be.Uint32(data[offEntry:]),
		BSSAddr: be.Uint32(data[offBSSAddr:]),
		BSSSize: be.Uint32(data[offBSSSize:]),
		data:    data,
	}
	var sections []Section
	read := func(kind Kind, n int, offs, addrs, sizes int) error {
		for i := 0; i < n; i++ {
			s := Section{
				Index:   i,
				Kind:    kind,
				Offset:  be.Uint32(data[offs+4*i:]),
				Address: be.Uint32(data[addrs+4*i:]),
				Size:    be.Uint32(data[sizes+4*i:]),
			}
			if s.Size == 0 {
				continue
			}
			if s.Offset < HeaderSize {
				return &FormatError{int64(offs + 4*i), "section data overlaps header", s.Name()}
			}
			if uint64(s.Offset)+uint64(s.Size) > uint64(len(data)) {
				return &FormatError{int64(sizes + 4*i), "section data beyond end of file", s.Name()}
			}
			if s.End() > 1<<32 {
				return &FormatError{int64(addrs + 4*i), "section address range overflows", s.Name()}
			}
			sections = append(sections, s)
		}
		return nil
	}
	if err := read(KindText, NumText, offTextOffsets, offTextAddrs, offTextSizes); err != nil {
		return nil, err
	}
	if err := read(KindData, NumData, offDataOffsets, offDataAddrs, offDataSizes); err != nil {
		return nil, err
	}
	if err := checkOverlaps(sections); err != nil {
		return nil, err
	}

	sort.Slice(sections, func(i, j int) bool { return sections[i].Address < sections[j].Address })
	this.sections = sections
	this.index = syms.NewAddrIndex(len(sections))
	for i := range sections {
		this.index.Set(i, sections[i].Address)
	}
	return this, nil
}

func checkOverlaps(sections []Section) error {
	byAddr := make([]Section, len(sections))
	copy(byAddr, sections)
	sort.Slice(byAddr, func(i, j int) bool { return byAddr[i].Address < byAddr[j].Address })
	for i := 1; i < len(byAddr); i++ {
		if uint64(byAddr[i].Address) < byAddr[i-1].End() {
			return &FormatError{0, "section address ranges overlap", byAddr[i-1].Name() + "/" + byAddr[i].Name()}
		}
	}

	byOff := make([]Section, len(sections))
	copy(byOff, sections)
	sort.Slice(byOff, func(i, j int) bool { return byOff[i].Offset < byOff[j].Offset })
	for i := 1; i < len(byOff); i++ {
		prev := byOff[i-1]
		if uint64(byOff[i].Offset) < uint64(prev.Offset)+uint64(prev.Size) {
			return &FormatError{0, "section file ranges overlap", prev.Name() + "/" + byOff[i].Name()}
		}
	}
	return nil
}

// Sections returns the sections ordered by load address.
func (im *Image) Sections() []Section {
	ret := make([]Section, len(im.sections))
	copy(ret, im.sections)
	return ret
}

func (im *Image) TextSections() []Section {
	var ret []Section
	for _, s := range im.sections {
		if s.Kind == KindText {
			ret = append(ret, s)
		}
	}
	return ret
}

func (im *Image) Len() int { return len(im.data) }

// Data exposes the raw file bytes. Callers must not modify them.
func (im *Image) Data() []byte { return im.data }

func (im *Image) Locate(addr uint32) (Section, bool) {
	i := im.index.FindIndex(addr)
	if i == -1 {
		return Section{}, false
	}
	if s := im.sections[i]; s.Contains(addr) {
		return s, true
	}
	return Section{}, false
}

// SectionAtOffset returns the section whose file data holds off.
func (im *Image) SectionAtOffset(off uint32) (Section, bool) {
	for _, s := range im.sections {
		if s.ContainsOffset(off) {
			return s, true
		}
	}
	return Section{}, false
}

// OffsetOf maps [addr, addr+size) to a file offset. The whole range must lie
// inside a single section.
func (im *Image) OffsetOf(addr, size uint32) (uint32, error) {
	s, ok := im.Locate(addr)
	if !ok {
		return 0, &RangeError{Addr: addr, Size: size, Reason: "address not in any section"}
	}
	if uint64(addr)+uint64(size) > s.End() {
		return 0, &RangeError{Addr: addr, Size: size, Reason: fmt.Sprintf("straddles end of %s at %08x", s.Name(), s.End())}
	}
	return s.Offset + (addr - s.Address), nil
}

func (im *Image) AddressOf(off uint32) (uint32, bool) {
	s, ok := im.SectionAtOffset(off)
	if !ok {
		return 0, false
	}
	return s.Address + (off - s.Offset), true
}

// Bytes returns a read-only view of the file bytes [off, off+size).
func (im *Image) Bytes(off, size uint32) ([]byte, error) {
	end := uint64(off) + uint64(size)
	if end > uint64(len(im.data)) {
		return nil, fmt.Errorf("bytes %#x+%#x: %w", off, size, ErrOutOfBounds)
	}
	return im.data[off:end:end], nil
}

// BytesAt returns the bytes loaded at [addr, addr+size).
func (im *Image) BytesAt(addr, size uint32) ([]byte, error) {
	off, err := im.OffsetOf(addr, size)
	if err != nil {
		return nil, err
	}
	return im.Bytes(off, size)
}

// Patch returns a copy of the image with data written at off.
func (im *Image) Patch(off uint32, data []byte) (*Image, error) {
	w := im.NewWriter()
	if err := w.WriteAt(off, data); err != nil {
		return nil, err
	}
	return w.Image(), nil
}

func (im *Image) Close() error {
	if im.closer == nil {
		return nil
	}
	err := im.closer()
	im.closer = nil
	im.data = nil
	return err
}
