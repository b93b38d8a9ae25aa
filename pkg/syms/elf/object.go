package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

var be = binary.BigEndian

type ObjectOptions struct {
	Demangle syms.DemangleType
}

// Object is a 32-bit big-endian ELF relocatable object. All tables are
// sliced from one immutable buffer.
type Object struct {
	Type     elf.Type
	Machine  elf.Machine
	Sections []SectionHeader

	path    string
	data    []byte
	symbols []Symbol
}

func Open(path string, opts *ObjectOptions) (*Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	data := make([]byte, st.Size())
	if _, err := io.ReadFull(io.NewSectionReader(bufra.NewBufReaderAt(f, 64*1024), 0, st.Size()), data); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	obj, err := load(data, path, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return obj, nil
}

func Load(data []byte, opts *ObjectOptions) (*Object, error) {
	return load(data, "", opts)
}

// LoadNamed is Load for data read from path by other means.
func LoadNamed(data []byte, path string, opts *ObjectOptions) (*Object, error) {
	obj, err := load(data, path, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return obj, nil
}

func load(data []byte, path string, opts *ObjectOptions) (*Object, error) {
	if opts == nil {
		opts = &ObjectOptions{}
	}
	if len(data) < headerSize {
		return nil, &FormatError{0, "header truncated", len(data)}
	}
	if !bytes.Equal(data[:4], []byte(elf.ELFMAG)) {
		return nil, &FormatError{0, "bad magic number", data[:4]}
	}
	if c := elf.Class(data[elf.EI_CLASS]); c != elf.ELFCLASS32 {
		return nil, &FormatError{elf.EI_CLASS, "unsupported word size", c}
	}
	if d := elf.Data(data[elf.EI_DATA]); d != elf.ELFDATA2MSB {
		return nil, &FormatError{elf.EI_DATA, "unsupported byte order", d}
	}

	this := &Object{
		Type:    elf.Type(be.Uint16(data[0x10:])),
		Machine: elf.Machine(be.Uint16(data[0x12:])),
		path:    path,
		data:    data,
	}
	if err := this.readSections(); err != nil {
		return nil, err
	}
	if err := this.readSymbols(opts); err != nil {
		return nil, err
	}
	return this, nil
}

func (o *Object) readSections() error {
	shoff := be.Uint32(o.data[0x20:])
	shentsize := be.Uint16(o.data[0x2e:])
	shnum := be.Uint16(o.data[0x30:])
	shstrndx := be.Uint16(o.data[0x32:])

	if shoff == 0 || shnum == 0 {
		return &FormatError{0x20, "no section table", nil}
	}
	if shentsize < sectionHeaderSize {
		return &FormatError{0x2e, "invalid section header size", shentsize}
	}
	if end := uint64(shoff) + uint64(shnum)*uint64(shentsize); end > uint64(len(o.data)) {
		return &FormatError{0x20, "section table out of range", end}
	}
	if shstrndx >= shnum {
		return &FormatError{0x32, "invalid section name table index", shstrndx}
	}

	o.Sections = make([]SectionHeader, shnum)
	for i := range o.Sections {
		off := int(shoff) + i*int(shentsize)
		raw := o.data[off : off+sectionHeaderSize]
		h := SectionHeader{
			NameOff:   be.Uint32(raw[0:]),
			Type:      elf.SectionType(be.Uint32(raw[4:])),
			Flags:     elf.SectionFlag(be.Uint32(raw[8:])),
			Addr:      be.Uint32(raw[12:]),
			Offset:    be.Uint32(raw[16:]),
			Size:      be.Uint32(raw[20:]),
			Link:      be.Uint32(raw[24:]),
			Info:      be.Uint32(raw[28:]),
			Addralign: be.Uint32(raw[32:]),
			Entsize:   be.Uint32(raw[36:]),
		}
		if h.Type != elf.SHT_NOBITS && h.Type != elf.SHT_NULL &&
			uint64(h.Offset)+uint64(h.Size) > uint64(len(o.data)) {
			return &FormatError{int64(off), "section data out of range", i}
		}
		o.Sections[i] = h
	}

	names := &o.Sections[shstrndx]
	if names.Type != elf.SHT_STRTAB {
		return &FormatError{0x32, "section name table has wrong type", names.Type}
	}
	table := o.data[names.Offset : names.Offset+names.Size]
	for i := range o.Sections {
		name, ok := cstring(table, o.Sections[i].NameOff)
		if !ok {
			return &FormatError{int64(shoff) + int64(i)*int64(shentsize), "invalid section name offset", o.Sections[i].NameOff}
		}
		o.Sections[i].Name = name
	}
	return nil
}

func (o *Object) Path() string { return o.path }

func (o *Object) FindSection(name string) *SectionHeader {
	for i := range o.Sections {
		if s := &o.Sections[i]; s.Name == name {
			return s
		}
	}
	return nil
}

func (o *Object) findSectionByType(styp elf.SectionType) *SectionHeader {
	for i := range o.Sections {
		if s := &o.Sections[i]; s.Type == styp {
			return s
		}
	}
	return nil
}

// GetSectionData returns nil when the object has no such section.
func (o *Object) GetSectionData(name string) (*SectionData, error) {
	section := o.FindSection(name)
	if section == nil {
		return nil, nil
	}
	return o.sectionData(section)
}

func (o *Object) sectionData(section *SectionHeader) (*SectionData, error) {
	if section.Type == elf.SHT_NOBITS {
		return nil, fmt.Errorf("section %s has no file data", section.Name)
	}
	end := section.Offset + section.Size
	return &SectionData{o.data[section.Offset:end:end], section}, nil
}

func (o *Object) Symbols() []Symbol { return o.symbols }

// Lookup finds a defined symbol by exact name. Function symbols are preferred
// over other kinds carrying the same name.
func (o *Object) Lookup(name string) (Symbol, bool) {
	var found *Symbol
	for i := range o.symbols {
		s := &o.symbols[i]
		if s.Name != name || !s.IsDefined() {
			continue
		}
		if s.IsFunc() {
			return *s, true
		}
		if found == nil {
			found = s
		}
	}
	if found == nil {
		return Symbol{}, false
	}
	return *found, true
}

func (o *Object) lookupDemangled(name string) (Symbol, bool) {
	for _, s := range o.symbols {
		if s.IsDefined() && s.IsFunc() && s.Demangled != "" && s.Demangled == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// PrimaryTextSymbol returns the first global function symbol placed in .text.
func (o *Object) PrimaryTextSymbol() (Symbol, bool) {
	for _, s := range o.symbols {
		if !s.IsFunc() || !s.IsGlobal() || !s.IsDefined() || s.Name == "" {
			continue
		}
		if int(s.Section) < len(o.Sections) && o.Sections[s.Section].Name == ".text" {
			return s, true
		}
	}
	return Symbol{}, false
}

// Undefined returns the sorted names of external symbols the object references.
func (o *Object) Undefined() []string {
	seen := make(map[string]struct{})
	var ret []string
	for _, s := range o.symbols {
		if s.Section != elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = struct{}{}
		ret = append(ret, s.Name)
	}
	sort.Strings(ret)
	return ret
}
