package syms

import (
	"golang.org/x/exp/slices"
)

// AddrIndex is an ascending list of 32-bit start addresses.
type AddrIndex struct {
	values []uint32
}

func NewAddrIndex(sz int) AddrIndex {
	return AddrIndex{values: make([]uint32, sz)}
}

func (it *AddrIndex) Set(idx int, value uint32) { it.values[idx] = value }

func (it *AddrIndex) Get(idx int) uint32 { return it.values[idx] }

func (it *AddrIndex) Length() int { return len(it.values) }

// FindIndex returns the index of the first entry of the run holding the
// greatest value <= addr, or -1 when addr is below every entry.
func (it *AddrIndex) FindIndex(addr uint32) int {
	if len(it.values) == 0 || addr < it.values[0] {
		return -1
	}
	i, found := slices.BinarySearch(it.values, addr)
	if found {
		return i
	}
	i--
	v := it.values[i]
	for i > 0 && it.values[i-1] == v {
		i--
	}
	return i
}
