package elf

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

// SymbolTable resolves offsets inside one section to function symbols.
type SymbolTable struct {
	*syms.Table
	Section string
}

func (o *Object) NewSymbolTable(section string) (*SymbolTable, error) {
	index := -1
	for i := range o.Sections {
		if o.Sections[i].Name == section {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, fmt.Errorf("section %s not found", section)
	}

	var all []syms.Symbol
	for _, s := range o.symbols {
		if !s.IsFunc() || int(s.Section) != index || s.Name == "" {
			continue
		}
		name := s.Name
		if s.Demangled != "" {
			name = s.Demangled
		}
		all = append(all, syms.Symbol{Start: o.sectionOffset(&o.Sections[index], s.Value), Size: s.Size, Name: name})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })
	return &SymbolTable{Table: syms.NewTable(all), Section: section}, nil
}

// sectionOffset converts a symbol value into an offset inside its section.
// Relocatable objects store section-relative values; linked ones store
// absolute addresses inside the section's address range.
func (o *Object) sectionOffset(h *SectionHeader, value uint32) uint32 {
	if h.Addr != 0 && value >= h.Addr && value-h.Addr < h.Size {
		return value - h.Addr
	}
	return value
}

// SymbolBytes returns exactly size bytes of the named symbol. When the object
// has no such symbol the .text section is used instead and the result is
// flagged as a fallback.
func (o *Object) SymbolBytes(name string, size uint32, opts BytesOptions) (*SymbolBytes, error) {
	sym, ok := o.Lookup(name)
	if !ok && opts.MatchDemangled {
		if sym, ok = o.lookupDemangled(name); ok {
			glog.V(1).Infof("Symbol %s matched by demangled name %s in %s", name, sym.Name, o.path)
		}
	}
	if !ok {
		glog.Warningf("Symbol %s not found in %s, falling back to .text", name, o.path)
		return o.textFallback(name, size, opts.Pad)
	}
	if sym.Section == elf.SHN_ABS || sym.Section == elf.SHN_COMMON || !sym.IsDefined() {
		return nil, &SymbolError{Name: name, Reason: fmt.Sprintf("not backed by section data (shndx %#x)", uint16(sym.Section))}
	}

	h := &o.Sections[sym.Section]
	if h.Type == elf.SHT_NOBITS {
		return nil, &SymbolError{Name: name, Reason: fmt.Sprintf("section %s has no file data", h.Name)}
	}
	off := o.sectionOffset(h, sym.Value)
	if off > h.Size {
		return nil, &SymbolError{Name: name, Reason: fmt.Sprintf("value %#x beyond section %s size %#x", sym.Value, h.Name, h.Size)}
	}

	want := size
	if sym.Size != 0 && sym.Size < want {
		want = sym.Size
	}
	if avail := h.Size - off; want > avail {
		want = avail
	}
	start := h.Offset + off
	ret, err := fit(name, o.data[start:start+want], size, opts.Pad)
	if err != nil {
		return nil, err
	}
	ret.Symbol, ret.Section, ret.Offset = sym.Name, h.Name, off
	return ret, nil
}

func (o *Object) textFallback(name string, size uint32, pad PadMode) (*SymbolBytes, error) {
	sd, err := o.GetSectionData(".text")
	if err != nil {
		return nil, &SymbolError{Name: name, Reason: fmt.Sprintf("no symbol and no usable .text: %v", err)}
	}
	if sd == nil {
		return nil, &SymbolError{Name: name, Reason: "no symbol and no .text section"}
	}
	data := sd.Data
	if uint32(len(data)) > size {
		data = data[:size]
	}
	ret, err := fit(name, data, size, pad)
	if err != nil {
		return nil, err
	}
	ret.Symbol, ret.Section = ".text", ".text"
	ret.Fallback = true
	return ret, nil
}

func fit(name string, data []byte, size uint32, pad PadMode) (*SymbolBytes, error) {
	have := uint32(len(data))
	if have < size && pad == PadError {
		return nil, &SymbolError{Name: name, Reason: fmt.Sprintf("have %d bytes, want %d", have, size)}
	}
	out := make([]byte, size)
	copy(out, data)
	ret := &SymbolBytes{Data: out}
	if have < size {
		ret.Padded = size - have
		glog.V(1).Infof("Symbol %s zero-padded with %d bytes", name, ret.Padded)
	}
	return ret, nil
}
