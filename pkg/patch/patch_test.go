package patch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

const (
	textAddr = 0x80001000
	textOff  = 0x100 // first section right after the header
)

func textPayload() []byte {
	ret := make([]byte, 0x100)
	for i := range ret {
		ret[i] = byte(i)
	}
	copy(ret[0xc0:], []byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef})
	return ret
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func newImage(t *testing.T) *dol.Image {
	t.Helper()
	data, err := dol.NewBuilder().
		AddText(textAddr, textPayload()).
		AddData(0x80200000, fill(0xee, 0x40)).
		SetEntry(textAddr).
		Bytes()
	require.NoError(t, err)
	img, err := dol.Load(data)
	require.NoError(t, err)
	return img
}

// object builds an object whose .text holds code with one global function
// per name, each size bytes long.
func object(code []byte, size uint32, names ...string) []byte {
	b := elf.NewBuilder()
	text := b.AddSection(".text", code)
	for i, name := range names {
		b.AddFunc(name, text, uint32(i)*size, size)
	}
	return b.Bytes()
}

func newSource(t *testing.T, files map[string][]byte) *FileSource {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, data := range files {
		require.NoError(t, afero.WriteFile(fsys, path, data, 0o644))
	}
	return NewFileSource(fsys, "/build", nil)
}

func TestApply_Blob(t *testing.T) {
	img := newImage(t)
	entries := []Entry{{Name: "blob", Address: 0x80001050, Size: 16, Kind: KindBlob, Blob: fill(0xaa, 16)}}

	res, err := Apply(img, entries, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	report := res.Report
	assert.Equal(t, StatusPatched, report.Entries[0].Status)
	assert.False(t, report.IdenticalToReference)
	assert.NotEqual(t, report.RefDigest, report.OutDigest)
	assert.Equal(t, 1, report.Patched)
	assert.Equal(t, uint64(16), report.PatchedBytes)
	assert.Equal(t, &KindStats{Entries: 1, Bytes: 16}, report.Kinds[KindBlob])

	diff, err := Compare(img.Data(), res.Image.Data(), img.Sections())
	require.NoError(t, err)
	want := []SectionDiff{{
		Section:    "text0",
		Mismatches: 16,
		Runs:       []Run{{Offset: textOff + 0x50, Address: 0x80001050, Length: 16}},
	}}
	if diff := cmp.Diff(want, diff.Sections); diff != "" {
		t.Errorf("diff mismatch (-want +got):\n%s", diff)
	}

	got, err := res.Image.BytesAt(0x80001050, 16)
	require.NoError(t, err)
	assert.Equal(t, fill(0xaa, 16), got)
	orig, err := img.BytesAt(0x80001050, 16)
	require.NoError(t, err)
	assert.NotEqual(t, got, orig, "reference image is not modified")
}

func TestApply_Identical(t *testing.T) {
	img := newImage(t)
	text := textPayload()
	src := newSource(t, map[string][]byte{
		"/build/objs/vec.o":    object(text[0x20:0x40], 32, "NuVecAdd"),
		"/build/bins/head.bin": text[:0x20],
	})
	entries := []Entry{
		{Name: "head", Address: textAddr, Size: 0x20, Kind: KindAsm, BlobPath: "bins/head.bin"},
		{Name: "NuVecAdd", Address: textAddr + 0x20, Size: 0x20, Kind: KindObject, Object: "objs/vec.o"},
	}

	res, err := Apply(img, entries, src, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	report := res.Report
	assert.Equal(t, 2, report.Patched)
	assert.True(t, report.IdenticalToReference)
	assert.Equal(t, report.RefDigest, report.OutDigest)
	assert.Equal(t, "NuVecAdd", report.Entries[1].Symbol)
	assert.Equal(t, &KindStats{Entries: 1, Bytes: 0x20}, report.Kinds[KindObject])
	assert.Equal(t, &KindStats{Entries: 1, Bytes: 0x20}, report.Kinds[KindAsm])
}

func TestApply_Failures(t *testing.T) {
	img := newImage(t)
	text := textPayload()
	src := newSource(t, map[string][]byte{
		"/build/objs/vec.o": object(text[0x20:0x40], 32, "NuVecAdd"),
	})
	entries := []Entry{
		{Name: "straddle", Address: 0x800010f8, Size: 16, Kind: KindBlob, Blob: fill(1, 16)},
		{Name: "unmapped", Address: 0x90000000, Size: 16, Kind: KindBlob, Blob: fill(1, 16)},
		{Name: "missing", Address: textAddr, Size: 16, Kind: KindObject, Object: "objs/missing.o"},
		{Name: "short", Address: textAddr + 0x10, Size: 8, Kind: KindBlob, Blob: fill(1, 4)},
		{Name: "first", Address: 0x80001080, Size: 16, Kind: KindBlob, Blob: fill(2, 16)},
		{Name: "second", Address: 0x80001088, Size: 16, Kind: KindBlob, Blob: fill(3, 16)},
		{Name: "NuVecAdd", Address: 0x80001020, Size: 64, Kind: KindObject, Object: "objs/vec.o"},
		{Name: "long", Address: 0x800010c0, Size: 8, Kind: KindBlob, Blob: fill(4, 16)},
	}

	res, err := Apply(img, entries, src, Options{})
	require.NoError(t, err)

	var got []Status
	for _, e := range res.Report.Entries {
		got = append(got, e.Status)
	}
	want := []Status{StatusSkipped, StatusSkipped, StatusSkipped, StatusError, StatusPatched, StatusError, StatusError, StatusError}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, res.Report.Entries[5].Reason, "overlaps entry first")
	assert.Contains(t, res.Report.Entries[7].Reason, "blob has 16 bytes, entry size is 8")
	assert.Equal(t, 1, res.Report.Patched)
	assert.Equal(t, 3, res.Report.Skipped)
	assert.Equal(t, 4, res.Report.Errors)

	err = res.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 errors occurred")

	// Only the one patched entry changed the image.
	diff, err := Compare(img.Data(), res.Image.Data(), img.Sections())
	require.NoError(t, err)
	assert.Equal(t, 16, diff.Mismatches)
}

func TestApply_PadZero(t *testing.T) {
	img := newImage(t)
	entries := []Entry{{Name: "short", Address: textAddr, Size: 8, Kind: KindBlob, Blob: fill(0xaa, 4)}}

	res, err := Apply(img, entries, nil, Options{Pad: elf.PadZero})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, uint32(4), res.Report.Entries[0].Padded)

	got, err := res.Image.BytesAt(textAddr, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xaa, 0xaa, 0xaa, 0, 0, 0, 0}, got)
}

func TestApply_Report(t *testing.T) {
	img := newImage(t)
	res, err := Apply(img, []Entry{{Name: "blob", Address: textAddr, Size: 4, Kind: KindBlob, Blob: fill(0xaa, 4)}}, nil, Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.Report.Write(&buf))
	for _, key := range []string{`"identical_to_reference": false`, `"patched_entries": 1`, `"status": "patched"`, `"blob"`} {
		assert.Contains(t, buf.String(), key)
	}
}

func TestLoadManifest(t *testing.T) {
	const manifest = `[
  {"name": "NuVecAdd", "address": "0x80001020", "size": 32, "kind": "c_obj", "symbol": "NuVecAdd", "path": "objs/vec.o"},
  {"name": "head", "address": "0x80001000", "size": 32, "kind": "asm_bin", "path": "bins/head.bin"},
  {"name": "raw", "address": "80001040", "size": 8, "path": "bins/raw.bin"}
]`
	got, err := LoadManifest(strings.NewReader(manifest))
	require.NoError(t, err)
	want := []Entry{
		{Name: "NuVecAdd", Address: 0x80001020, Size: 32, Kind: KindObject, Symbol: "NuVecAdd", Object: "objs/vec.o"},
		{Name: "head", Address: 0x80001000, Size: 32, Kind: KindAsm, BlobPath: "bins/head.bin"},
		{Name: "raw", Address: 0x80001040, Size: 8, Kind: KindBlob, BlobPath: "bins/raw.bin"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, got))
	assert.Contains(t, buf.String(), `"address": "0x80001020"`)
	again, err := LoadManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"not json", `{`},
		{"bad address", `[{"name": "a", "address": "zz", "size": 4, "kind": "blob", "path": "x"}]`},
		{"zero size", `[{"name": "a", "address": "0x80001000", "size": 0, "kind": "blob", "path": "x"}]`},
		{"unknown kind", `[{"name": "a", "address": "0x80001000", "size": 4, "kind": "elf", "path": "x"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(strings.NewReader(tt.manifest))
			assert.Error(t, err)
		})
	}
}
