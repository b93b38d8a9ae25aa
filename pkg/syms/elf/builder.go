package elf

import (
	"debug/elf"
)

type builderSection struct {
	name string
	addr uint32
	data []byte
}

type builderSymbol struct {
	name    string
	section elf.SectionIndex
	value   uint32
	size    uint32
	info    byte
}

// Builder writes minimal big-endian ELF32 relocatable objects. It is used to
// synthesize objects for verification runs and tests.
type Builder struct {
	sections []builderSection
	symbols  []builderSymbol
}

func NewBuilder() *Builder { return &Builder{} }

// AddSection appends a PROGBITS section and returns its section index.
func (b *Builder) AddSection(name string, data []byte) elf.SectionIndex {
	b.sections = append(b.sections, builderSection{name: name, data: data})
	return elf.SectionIndex(len(b.sections))
}

func (b *Builder) SetSectionAddr(index elf.SectionIndex, addr uint32) {
	b.sections[index-1].addr = addr
}

func (b *Builder) AddSymbol(name string, section elf.SectionIndex, value, size uint32, bind elf.SymBind, typ elf.SymType) {
	b.symbols = append(b.symbols, builderSymbol{
		name:    name,
		section: section,
		value:   value,
		size:    size,
		info:    elf.ST_INFO(bind, typ),
	})
}

func (b *Builder) AddFunc(name string, section elf.SectionIndex, value, size uint32) {
	b.AddSymbol(name, section, value, size, elf.STB_GLOBAL, elf.STT_FUNC)
}

func (b *Builder) AddUndefined(name string) {
	b.AddSymbol(name, elf.SHN_UNDEF, 0, 0, elf.STB_GLOBAL, elf.STT_NOTYPE)
}

func (b *Builder) Bytes() []byte {
	var locals, globals []builderSymbol
	for _, s := range b.symbols {
		if elf.ST_BIND(s.info) == elf.STB_LOCAL {
			locals = append(locals, s)
		} else {
			globals = append(globals, s)
		}
	}
	ordered := append(locals, globals...)

	strtab := []byte{0}
	symtab := make([]byte, symbolSize*(len(ordered)+1))
	for i, s := range ordered {
		raw := symtab[symbolSize*(i+1):]
		if s.name != "" {
			be.PutUint32(raw[0:], uint32(len(strtab)))
			strtab = append(append(strtab, s.name...), 0)
		}
		be.PutUint32(raw[4:], s.value)
		be.PutUint32(raw[8:], s.size)
		raw[12] = s.info
		be.PutUint16(raw[14:], uint16(s.section))
	}

	type out struct {
		name    string
		typ     elf.SectionType
		flags   elf.SectionFlag
		addr    uint32
		data    []byte
		link    uint32
		info    uint32
		entsize uint32
	}
	all := []out{{}}
	for _, s := range b.sections {
		flags := elf.SHF_ALLOC
		if s.name == ".text" || s.name == ".init" {
			flags |= elf.SHF_EXECINSTR
		}
		all = append(all, out{name: s.name, typ: elf.SHT_PROGBITS, flags: flags, addr: s.addr, data: s.data})
	}
	symtabIndex := len(all)
	all = append(all,
		out{name: ".symtab", typ: elf.SHT_SYMTAB, data: symtab, link: uint32(symtabIndex + 1), info: uint32(len(locals) + 1), entsize: symbolSize},
		out{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab},
	)
	shstrndx := len(all)
	all = append(all, out{name: ".shstrtab", typ: elf.SHT_STRTAB})

	shstrtab := []byte{0}
	nameOffs := make([]uint32, len(all))
	for i := 1; i < len(all); i++ {
		nameOffs[i] = uint32(len(shstrtab))
		shstrtab = append(append(shstrtab, all[i].name...), 0)
	}
	all[shstrndx].data = shstrtab

	buf := make([]byte, headerSize)
	offsets := make([]uint32, len(all))
	for i := 1; i < len(all); i++ {
		for len(buf)%4 != 0 {
			buf = append(buf, 0)
		}
		offsets[i] = uint32(len(buf))
		buf = append(buf, all[i].data...)
	}
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	shoff := uint32(len(buf))
	for i, s := range all {
		raw := make([]byte, sectionHeaderSize)
		be.PutUint32(raw[0:], nameOffs[i])
		be.PutUint32(raw[4:], uint32(s.typ))
		be.PutUint32(raw[8:], uint32(s.flags))
		be.PutUint32(raw[12:], s.addr)
		be.PutUint32(raw[16:], offsets[i])
		be.PutUint32(raw[20:], uint32(len(s.data)))
		be.PutUint32(raw[24:], s.link)
		be.PutUint32(raw[28:], s.info)
		be.PutUint32(raw[32:], 4)
		be.PutUint32(raw[36:], s.entsize)
		buf = append(buf, raw...)
	}

	copy(buf, elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	be.PutUint16(buf[0x10:], uint16(elf.ET_REL))
	be.PutUint16(buf[0x12:], uint16(elf.EM_PPC))
	be.PutUint32(buf[0x14:], uint32(elf.EV_CURRENT))
	be.PutUint32(buf[0x20:], shoff)
	be.PutUint16(buf[0x28:], headerSize)
	be.PutUint16(buf[0x2e:], sectionHeaderSize)
	be.PutUint16(buf[0x30:], uint16(len(all)))
	be.PutUint16(buf[0x32:], uint16(shstrndx))
	return buf
}
