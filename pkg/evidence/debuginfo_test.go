package evidence

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDebugInfo = `// Compile unit: C:\source\crashwoc\code\gamecode\ai.c
// produced by the toolchain dumper
void AiInit(int level /* r3 */, float speed /* f1 */) {
    // Local variables
    int i; // r31
    struct AiState * state; // r30
    float tmp;
    int i; // r31

    // Labels
    loop: // 0x80010020
    done: // 0x80010080
}
static inline int AiHelper(int a) {
    return a;
}
static int AiUpdate(void) {
    if (x) {
    }
}
// Compile unit: C:\source\crashwoc\code\gamecode\bar.c
void BarDraw(char * name, int n) {
}
`

func TestParseDebugInfo(t *testing.T) {
	info, err := ParseDebugInfo(strings.NewReader(sampleDebugInfo))
	require.NoError(t, err)

	wantUnits := []CompileUnit{
		{Path: `C:\source\crashwoc\code\gamecode\ai.c`, Functions: []string{"AiInit", "AiUpdate"}},
		{Path: `C:\source\crashwoc\code\gamecode\bar.c`, Functions: []string{"BarDraw"}},
	}
	if diff := cmp.Diff(wantUnits, info.Units); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}

	init, ok := info.Lookup("AiInit")
	require.True(t, ok)
	want := &DebugFunction{
		Name:       "AiInit",
		ReturnType: "void",
		Params:     []Param{{Name: "level", Type: "int"}, {Name: "speed", Type: "float"}},
		Locals: []Local{
			{Name: "i", Type: "int"},
			{Name: "state", Type: "struct AiState *"},
			{Name: "tmp", Type: "float"},
		},
		Labels:      []uint32{0x80010020, 0x80010080},
		CompileUnit: `C:\source\crashwoc\code\gamecode\ai.c`,
	}
	if diff := cmp.Diff(want, init); diff != "" {
		t.Errorf("AiInit mismatch (-want +got):\n%s", diff)
	}

	_, ok = info.Lookup("AiHelper")
	assert.False(t, ok, "inline functions have no address")

	bar, ok := info.Lookup("BarDraw")
	require.True(t, ok)
	if diff := cmp.Diff([]Param{{Name: "name", Type: "char *"}, {Name: "n", Type: "int"}}, bar.Params); diff != "" {
		t.Errorf("BarDraw params mismatch (-want +got):\n%s", diff)
	}

	owner, ok := info.LabelOwner(0x80010080)
	require.True(t, ok)
	assert.Equal(t, "AiInit", owner)
	_, ok = info.LabelOwner(0x80010084)
	assert.False(t, ok)
}

func TestParseListing(t *testing.T) {
	const in = `// FILE -- gamecode/vec.c
/* 00100000 000000d4 */ NuVecScale(NuVec *v, float s)
/* 001000d4 00000040 */ static NuVecDot(NuVec *a, NuVec *b)
garbage
// FILE -- gamecode/ai.c
/* 00200000 00000100 */ AiInit(void)
`
	l, err := ParseListing(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, l.Files, 2)
	assert.Equal(t, "gamecode/vec.c", l.Files[0].Path)
	assert.Len(t, l.Files[0].Functions, 2)

	e, ok := l.Lookup("NuVecDot")
	require.True(t, ok)
	assert.Equal(t, ListingEntry{Name: "NuVecDot", Addr: 0x1000d4, Size: 0x40, File: "gamecode/vec.c"}, e)

	if diff := cmp.Diff(map[string]uint32{"NuVecScale": 212, "NuVecDot": 64, "AiInit": 256}, l.Sizes()); diff != "" {
		t.Errorf("Sizes() mismatch (-want +got):\n%s", diff)
	}
}
