package elf

import (
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

func seq(start byte, n int) []byte {
	ret := make([]byte, n)
	for i := range ret {
		ret[i] = start + byte(i)
	}
	return ret
}

func sampleObject(t *testing.T) []byte {
	t.Helper()
	b := NewBuilder()
	text := b.AddSection(".text", seq(0x10, 32))
	data := b.AddSection(".data", seq(0xa0, 8))
	b.AddSymbol("helper", text, 16, 16, elf.STB_LOCAL, elf.STT_FUNC)
	b.AddFunc("NuVecAdd", text, 0, 16)
	b.AddSymbol("gTable", data, 0, 8, elf.STB_GLOBAL, elf.STT_OBJECT)
	b.AddUndefined("printf")
	b.AddUndefined("NuVecScale")
	return b.Bytes()
}

func TestLoad(t *testing.T) {
	obj, err := Load(sampleObject(t), nil)
	require.NoError(t, err)

	assert.Equal(t, elf.ET_REL, obj.Type)
	assert.Equal(t, elf.EM_PPC, obj.Machine)

	text := obj.FindSection(".text")
	require.NotNil(t, text)
	assert.Equal(t, uint32(32), text.Size)
	assert.Nil(t, obj.FindSection(".bss"))

	sd, err := obj.GetSectionData(".data")
	require.NoError(t, err)
	assert.Equal(t, seq(0xa0, 8), sd.Data)

	sym, ok := obj.Lookup("NuVecAdd")
	require.True(t, ok)
	assert.True(t, sym.IsFunc())
	assert.True(t, sym.IsGlobal())
	assert.Equal(t, uint32(16), sym.Size)

	_, ok = obj.Lookup("printf")
	assert.False(t, ok, "undefined symbols are not lookup targets")

	primary, ok := obj.PrimaryTextSymbol()
	require.True(t, ok)
	assert.Equal(t, "NuVecAdd", primary.Name)

	if diff := cmp.Diff([]string{"NuVecScale", "printf"}, obj.Undefined()); diff != "" {
		t.Errorf("undefined mismatch (-want +got):\n%s", diff)
	}

	named, err := LoadNamed(sampleObject(t), "objs/vec.o", nil)
	require.NoError(t, err)
	assert.Equal(t, "objs/vec.o", named.Path())
}

func TestSymbolBytes(t *testing.T) {
	obj, err := Load(sampleObject(t), nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		symbol   string
		size     uint32
		pad      PadMode
		want     []byte
		fallback bool
		padded   uint32
		wantErr  bool
	}{
		{name: "exact symbol", symbol: "helper", size: 16, want: seq(0x20, 16)},
		{name: "truncated to request", symbol: "NuVecAdd", size: 8, want: seq(0x10, 8)},
		{name: "short symbol is an error", symbol: "NuVecAdd", size: 20, wantErr: true},
		{
			name: "short symbol zero padded", symbol: "NuVecAdd", size: 20, pad: PadZero,
			want: append(seq(0x10, 16), 0, 0, 0, 0), padded: 4,
		},
		{name: "missing symbol uses text", symbol: "Missing", size: 32, want: seq(0x10, 32), fallback: true},
		{name: "missing symbol short text", symbol: "Missing", size: 40, wantErr: true},
		{
			name: "missing symbol short text padded", symbol: "Missing", size: 36, pad: PadZero,
			want: append(seq(0x10, 32), 0, 0, 0, 0), fallback: true, padded: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := obj.SymbolBytes(tt.symbol, tt.size, BytesOptions{Pad: tt.pad})
			if tt.wantErr {
				var serr *SymbolError
				require.True(t, errors.As(err, &serr), "want SymbolError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Data)
			assert.Equal(t, tt.fallback, got.Fallback)
			assert.Equal(t, tt.padded, got.Padded)
			assert.Len(t, got.Data, int(tt.size))
		})
	}
}

func TestSymbolBytes_AbsoluteValue(t *testing.T) {
	b := NewBuilder()
	text := b.AddSection(".text", seq(0x40, 32))
	b.SetSectionAddr(text, 0x80001000)
	b.AddFunc("Linked", text, 0x80001010, 16)
	obj, err := Load(b.Bytes(), nil)
	require.NoError(t, err)

	got, err := obj.SymbolBytes("Linked", 16, BytesOptions{})
	require.NoError(t, err)
	assert.Equal(t, seq(0x50, 16), got.Data)
	assert.Equal(t, "Linked", got.Symbol)
	assert.Equal(t, ".text", got.Section)
	assert.Equal(t, uint32(0x10), got.Offset)
}

func TestSymbolBytes_Demangled(t *testing.T) {
	b := NewBuilder()
	text := b.AddSection(".text", seq(0, 8))
	b.AddFunc("_Z8NuVecAddv", text, 0, 8)
	obj, err := Load(b.Bytes(), &ObjectOptions{Demangle: syms.DemangleSimplified})
	require.NoError(t, err)

	got, err := obj.SymbolBytes("NuVecAdd", 8, BytesOptions{MatchDemangled: true})
	require.NoError(t, err)
	assert.False(t, got.Fallback)
	assert.Equal(t, "_Z8NuVecAddv", got.Symbol)

	got, err = obj.SymbolBytes("NuVecAdd", 8, BytesOptions{})
	require.NoError(t, err)
	assert.True(t, got.Fallback)
}

func TestNewSymbolTable(t *testing.T) {
	obj, err := Load(sampleObject(t), nil)
	require.NoError(t, err)

	table, err := obj.NewSymbolTable(".text")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Size())
	assert.Equal(t, "NuVecAdd", table.Resolve(4))
	assert.Equal(t, "helper", table.Resolve(20))
	assert.Equal(t, "", table.Resolve(40))

	_, err = obj.NewSymbolTable(".rodata")
	assert.Error(t, err)
}

func TestLoad_FormatErrors(t *testing.T) {
	good := sampleObject(t)
	mutate := func(f func(b []byte) []byte) []byte {
		b := make([]byte, len(good))
		copy(b, good)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", good[:20]},
		{"bad magic", mutate(func(b []byte) []byte { b[1] = 'X'; return b })},
		{"64-bit class", mutate(func(b []byte) []byte { b[elf.EI_CLASS] = byte(elf.ELFCLASS64); return b })},
		{"little endian", mutate(func(b []byte) []byte { b[elf.EI_DATA] = byte(elf.ELFDATA2LSB); return b })},
		{"section table out of range", mutate(func(b []byte) []byte { return b[:len(b)-8] })},
		{"name table index", mutate(func(b []byte) []byte { be.PutUint16(b[0x32:], 0x40); return b })},
		{"no sections", mutate(func(b []byte) []byte { be.PutUint16(b[0x30:], 0); return b })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data, nil)
			var ferr *FormatError
			require.True(t, errors.As(err, &ferr), "want FormatError, got %v", err)
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.o")
	require.NoError(t, os.WriteFile(path, sampleObject(t), 0o644))

	obj, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, obj.Path())
	assert.Len(t, obj.Symbols(), 5)

	_, err = Open(filepath.Join(t.TempDir(), "missing.o"), nil)
	assert.Error(t, err)
}
