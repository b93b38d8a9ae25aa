package patch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietanhduong/dolmatch/pkg/dol"
)

func TestCompare(t *testing.T) {
	sections := []dol.Section{{Kind: dol.KindText, Offset: 0x100, Address: 0x80001000, Size: 0x80}}
	ref := make([]byte, 0x200)
	cand := make([]byte, 0x200)
	for _, off := range []int{0xe4, 0x150, 0x151, 0x160, 0x1f0} {
		cand[off] = 0xff
	}

	d, err := Compare(ref, cand, sections)
	require.NoError(t, err)
	want := &Diff{
		RefLen:     0x200,
		CandLen:    0x200,
		Mismatches: 5,
		Sections: []SectionDiff{
			{Section: "header", Mismatches: 1, Runs: []Run{{Offset: 0xe4, Length: 1}}},
			{Section: "text0", Mismatches: 3, Runs: []Run{
				{Offset: 0x150, Address: 0x80001050, Length: 2},
				{Offset: 0x160, Address: 0x80001060, Length: 1},
			}},
			{Section: "unmapped", Mismatches: 1, Runs: []Run{{Offset: 0x1f0, Length: 1}}},
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("diff mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, d.Equal())

	_, err = Compare(ref, cand[:0x100], sections)
	assert.Error(t, err)

	d, err = Compare(ref, ref, sections)
	require.NoError(t, err)
	assert.True(t, d.Equal())
}

func TestCompareImages(t *testing.T) {
	img := newImage(t)
	longer, err := dol.Load(append(append([]byte(nil), img.Data()...), 0, 0, 0, 0))
	require.NoError(t, err)

	d := CompareImages(img, longer)
	assert.Equal(t, 0, d.Mismatches)
	assert.Equal(t, len(img.Data())+4, d.CandLen)
	assert.False(t, d.Equal(), "length difference is reported")

	patched, err := img.Patch(textOff+4, []byte{0xaa})
	require.NoError(t, err)
	d = CompareImages(img, patched)
	require.Len(t, d.Sections, 1)
	assert.Equal(t, []Run{{Offset: textOff + 4, Address: textAddr + 4, Length: 1}}, d.Sections[0].Runs)
}
