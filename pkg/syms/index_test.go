package syms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrIndex_FindIndex(t *testing.T) {
	s := "aaaaccfff"
	idx := NewAddrIndex(len(s))
	for i := 0; i < len(s); i++ {
		idx.Set(i, uint32(s[i]))
	}
	assert.Equal(t, len(s), idx.Length())
	assert.Equal(t, -1, idx.FindIndex(0x20))
	assert.Equal(t, 0, idx.FindIndex('a'))
	assert.Equal(t, 0, idx.FindIndex('b'))
	assert.Equal(t, 4, idx.FindIndex('c'))
	assert.Equal(t, 4, idx.FindIndex('e'))
	assert.Equal(t, 6, idx.FindIndex('f'))
	assert.Equal(t, 6, idx.FindIndex('z'))
}

func TestAddrIndex_Empty(t *testing.T) {
	var idx AddrIndex
	assert.Equal(t, -1, idx.FindIndex(0x80000000))
}
