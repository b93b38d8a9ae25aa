package elf

import (
	"debug/elf"
	"fmt"
)

const (
	headerSize        = 0x34
	sectionHeaderSize = 40
	symbolSize        = 16
)

type SectionHeader struct {
	Name      string
	NameOff   uint32
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

func (h *SectionHeader) String() string {
	return fmt.Sprintf("%s type=%s off=%#x size=%#x", h.Name, h.Type, h.Offset, h.Size)
}

type SectionData struct {
	Data   []byte
	Header *SectionHeader
}

type Symbol struct {
	Name      string
	Demangled string
	Value     uint32
	Size      uint32
	Bind      elf.SymBind
	Type      elf.SymType
	Other     uint8
	Section   elf.SectionIndex
}

func (s Symbol) IsFunc() bool   { return s.Type == elf.STT_FUNC }
func (s Symbol) IsGlobal() bool { return s.Bind == elf.STB_GLOBAL || s.Bind == elf.STB_WEAK }

// IsDefined reports whether the symbol lives in a regular section of the object.
func (s Symbol) IsDefined() bool {
	return s.Section != elf.SHN_UNDEF && s.Section < elf.SHN_LORESERVE
}

type PadMode uint8

const (
	// PadError rejects symbol data shorter than the requested size.
	PadError PadMode = iota
	// PadZero appends zero bytes up to the requested size.
	PadZero
)

func ParsePadMode(s string) (PadMode, error) {
	switch s {
	case "error", "":
		return PadError, nil
	case "zero":
		return PadZero, nil
	}
	return PadError, fmt.Errorf("unknown pad mode %q", s)
}

func (m PadMode) String() string {
	if m == PadZero {
		return "zero"
	}
	return "error"
}

type BytesOptions struct {
	Pad PadMode
	// MatchDemangled also accepts a symbol whose demangled name equals the
	// requested one when no exact match exists.
	MatchDemangled bool
}

type SymbolBytes struct {
	Data []byte
	// Symbol is the resolved symbol name, or the section name on fallback.
	Symbol string
	// Section and Offset locate Data inside the object.
	Section  string
	Offset   uint32
	Fallback bool
	Padded   uint32
}
