package elf

import (
	"bytes"
	"debug/elf"

	"github.com/golang/glog"
)

func (o *Object) readSymbols(opts *ObjectOptions) error {
	section := o.findSectionByType(elf.SHT_SYMTAB)
	if section == nil {
		glog.V(2).Infof("Object %s has no symbol table", o.path)
		return nil
	}
	entsize := section.Entsize
	if entsize == 0 {
		entsize = symbolSize
	}
	if entsize != symbolSize {
		return &FormatError{int64(section.Offset), "invalid symbol entry size", entsize}
	}
	if section.Size%symbolSize != 0 {
		return &FormatError{int64(section.Offset), "invalid symbol section size", section.Size}
	}
	if int(section.Link) >= len(o.Sections) {
		return &FormatError{int64(section.Offset), "invalid string table index", section.Link}
	}
	strtab := &o.Sections[section.Link]
	if strtab.Type != elf.SHT_STRTAB {
		return &FormatError{int64(strtab.Offset), "string table has wrong type", strtab.Type}
	}
	names := o.data[strtab.Offset : strtab.Offset+strtab.Size]
	cache := make(map[uint32]string)
	demangleOpts := opts.Demangle.ToOptions()

	data := o.data[section.Offset : section.Offset+section.Size]
	// Skip the null symbol.
	if len(data) >= symbolSize {
		data = data[symbolSize:]
	}
	o.symbols = make([]Symbol, 0, len(data)/symbolSize)
	off := int64(section.Offset) + symbolSize
	for len(data) > 0 {
		raw := data[:symbolSize]
		data = data[symbolSize:]

		info := raw[12]
		sym := Symbol{
			Value:   be.Uint32(raw[4:]),
			Size:    be.Uint32(raw[8:]),
			Bind:    elf.ST_BIND(info),
			Type:    elf.ST_TYPE(info),
			Other:   raw[13],
			Section: elf.SectionIndex(be.Uint16(raw[14:])),
		}
		if sym.Section < elf.SHN_LORESERVE && int(sym.Section) >= len(o.Sections) {
			return &FormatError{off, "invalid symbol section index", sym.Section}
		}

		nameOff := be.Uint32(raw[0:])
		if name, ok := cache[nameOff]; ok {
			sym.Name = name
		} else {
			name, ok := cstring(names, nameOff)
			if !ok {
				return &FormatError{off, "invalid symbol name offset", nameOff}
			}
			cache[nameOff] = name
			sym.Name = name
		}
		if len(demangleOpts) > 0 && sym.Name != "" {
			sym.Demangled = opts.Demangle.Demangle(sym.Name)
		}
		o.symbols = append(o.symbols, sym)
		off += symbolSize
	}
	return nil
}

// cstring reads the NUL-terminated string at off. An unterminated tail is
// accepted as the name.
func cstring(table []byte, off uint32) (string, bool) {
	if off == 0 {
		return "", true
	}
	if uint64(off) >= uint64(len(table)) {
		return "", false
	}
	b := table[off:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), true
}
