package syms

import (
	"sort"
)

// Table resolves an address to the symbol whose range contains it.
type Table struct {
	index   AddrIndex
	symbols []Symbol
}

func NewTable(symbols []Symbol) *Table {
	sorted := make([]Symbol, len(symbols))
	copy(sorted, symbols)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Start < sorted[j].Start
	})

	this := &Table{
		index:   NewAddrIndex(len(sorted)),
		symbols: sorted,
	}
	for i := range sorted {
		this.index.Set(i, sorted[i].Start)
	}
	return this
}

func (t *Table) Size() int { return len(t.symbols) }

func (t *Table) Symbols() []Symbol { return t.symbols }

// Find returns the symbol covering addr. Zero-sized symbols only cover their
// own start address.
func (t *Table) Find(addr uint32) (Symbol, bool) {
	i := t.index.FindIndex(addr)
	if i == -1 {
		return Symbol{}, false
	}
	// Symbols sharing a start address: pick the first one that covers addr.
	for ; i < len(t.symbols) && t.symbols[i].Start <= addr; i++ {
		s := t.symbols[i]
		if s.Contains(addr) || (s.Size == 0 && s.Start == addr) {
			return s, true
		}
	}
	return Symbol{}, false
}

func (t *Table) Resolve(addr uint32) string {
	if s, ok := t.Find(addr); ok {
		return s.Name
	}
	return ""
}

var _ SymbolTable = (*Table)(nil)
