package match

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

func TestIdentifierStrategy(t *testing.T) {
	w := &world{}
	for _, name := range []string{"NuVecAdd", "NuVecDot", "NuVecSub", "Foo", "NuVecNeg"} {
		w.src("gamecode/vec.c", name)
	}
	w.fn(0x80001000, 0).StringRefs = []evidence.StringRef{w.str(0x80200000, "NuVecAdd : bad vector")}
	w.fn(0x80001100, 0).StringRefs = []evidence.StringRef{w.str(0x80200010, "Unknown : bad")}
	w.fn(0x80001200, 0).StringRefs = []evidence.StringRef{w.str(0x80200020, "NuVecDot() : failed")}
	w.fn(0x80001300, 0).StringRefs = []evidence.StringRef{w.str(0x80200030, "NuVecSub - oops")}
	w.fn(0x80001400, 0).StringRefs = []evidence.StringRef{w.str(0x80200040, "Foo : too short")}
	// Label fallback when the string table has no entry.
	w.fn(0x80001500, 0).StringRefs = []evidence.StringRef{{Label: "NuVecNeg_:_zero", Addr: 0x80200050}}

	res := run(t, w, only(StrategyIdentifier), nil)
	want := syms.NameMap{
		0x80001000: "NuVecAdd",
		0x80001200: "NuVecDot",
		0x80001300: "NuVecSub",
		0x80001500: "NuVecNeg",
	}
	if diff := cmp.Diff(want, res.NameMap()); diff != "" {
		t.Errorf("name map mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, `string "NuVecAdd : bad vector" at 80200000`, res.Records[0].Evidence)
}

func TestIdentifierStrategy_Ambiguous(t *testing.T) {
	w := &world{}
	w.src("gamecode/vec.c", "NuVecAdd")
	ref := w.str(0x80200000, "NuVecAdd : bad vector")
	w.fn(0x80001000, 0).StringRefs = []evidence.StringRef{ref}
	w.fn(0x80001100, 0).StringRefs = []evidence.StringRef{ref}

	res := run(t, w, only(StrategyIdentifier), nil)
	assert.Empty(t, res.Records)
	require.True(t, hasDiagnostic(res.Diagnostics, StrategyIdentifier))
	assert.Contains(t, res.Diagnostics[0].Message, "80001000, 80001100")
}

func TestLiteralStrategy(t *testing.T) {
	w := &world{}
	for _, name := range []string{"NuVecNormalize", "NuVecAdd", "NuVecDot", "Foo"} {
		w.src("gamecode/vec.c", name)
	}
	w.fn(0x80002000, 0).StringRefs = []evidence.StringRef{w.str(0x80200000, "failed in NuVecNormalize")}
	w.fn(0x80002100, 0).StringRefs = []evidence.StringRef{w.str(0x80200010, "NuVecAdd and NuVecDot")}
	w.fn(0x80002200, 0).StringRefs = []evidence.StringRef{w.str(0x80200020, "call Foo now")}
	w.fn(0x80002300, 0).StringRefs = []evidence.StringRef{w.str(0x80200030, "NuVecAddx")}

	res := run(t, w, only(StrategyLiteral), nil)
	want := syms.NameMap{0x80002000: "NuVecNormalize"}
	if diff := cmp.Diff(want, res.NameMap()); diff != "" {
		t.Errorf("name map mismatch (-want +got):\n%s", diff)
	}
}

const labelDebugInfo = `// Compile unit: C:\source\crashwoc\code\gamecode\ai.c
void AiInit(int level /* r3 */) {
    // Labels
    loop: // 0x80010020
    done: // 0x80010080
}
void AiSplit(int n) {
    // Labels
    a: // 0x80010040
    b: // 0x80020010
}
`

func TestDebugLabelStrategy(t *testing.T) {
	debug, err := evidence.ParseDebugInfo(strings.NewReader(labelDebugInfo))
	require.NoError(t, err)
	w := &world{debug: debug}
	w.fn(0x80010000, 0x100)
	w.fn(0x80020000, 0x100)

	res := run(t, w, only(StrategyDebugLabel), nil)
	want := syms.NameMap{0x80010000: "AiInit"}
	if diff := cmp.Diff(want, res.NameMap()); diff != "" {
		t.Errorf("name map mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "debug label at 80010020", res.Records[0].Evidence)
	assert.True(t, hasDiagnostic(res.Diagnostics, StrategyDebugLabel), "AiSplit spans two functions")
}

func TestDebugLabelStrategy_SharedLabel(t *testing.T) {
	debug, err := evidence.ParseDebugInfo(strings.NewReader(`// Compile unit: gamecode/ai.c
void AiInit(int level /* r3 */) {
    // Labels
    loop: // 0x80010020
}
void AiCopy(void) {
    // Labels
    again: // 0x80010020
}
`))
	require.NoError(t, err)
	w := &world{debug: debug}
	w.fn(0x80010000, 0x100)

	res := run(t, w, only(StrategyDebugLabel), nil)
	assert.Equal(t, syms.NameMap{0x80010000: "AiInit"}, res.NameMap())
	assert.Empty(t, res.Diagnostics)
}

func TestXrefStrategy(t *testing.T) {
	w := &world{}
	die := w.src("gamecode/player.c", "PlayerDie")
	die.Literals = []string{"player died", "respawn"}
	hit := w.src("gamecode/player.c", "PlayerHit")
	hit.Literals = []string{"ouch", "respawn"}
	for _, name := range []string{"TieA", "TieB"} {
		w.src("gamecode/tie.c", name).Literals = []string{"shared text"}
	}

	w.fn(0x80004000, 0).StringRefs = []evidence.StringRef{
		w.str(0x80200100, "player died"),
		w.str(0x80200110, "respawn"),
	}
	w.fn(0x80004100, 0).StringRefs = []evidence.StringRef{w.str(0x80200120, "ouch")}
	w.fn(0x80004200, 0).StringRefs = []evidence.StringRef{w.str(0x80200130, "shared text")}

	res := run(t, w, only(StrategyXref), nil)
	want := syms.NameMap{
		0x80004000: "PlayerDie",
		0x80004100: "PlayerHit",
	}
	if diff := cmp.Diff(want, res.NameMap()); diff != "" {
		t.Errorf("name map mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, hasDiagnostic(res.Diagnostics, StrategyXref), "tie is reported")
}

func TestCallGraphStrategy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(w *world)
		truth syms.NameMap
		want  syms.NameMap
		ambig bool
	}{
		{
			name: "clear winner",
			setup: func(w *world) {
				w.src("gamecode/vec.c", "VecCombine").Calls = []string{"NuVecAdd", "NuVecDot", "NuVecScale"}
				w.src("gamecode/vec.c", "VecOne").Calls = []string{"NuVecAdd"}
				w.fn(0x80005000, 0).NamedCalls = []string{"NuVecAdd", "NuVecScale"}
			},
			want: syms.NameMap{0x80005000: "VecCombine"},
		},
		{
			name: "identical candidates",
			setup: func(w *world) {
				w.src("gamecode/vec.c", "VecTwinA").Calls = []string{"NuVecAdd", "NuVecScale"}
				w.src("gamecode/vec.c", "VecTwinB").Calls = []string{"NuVecAdd", "NuVecScale"}
				w.fn(0x80005000, 0).NamedCalls = []string{"NuVecAdd", "NuVecScale"}
			},
			want:  syms.NameMap{},
			ambig: true,
		},
		{
			name: "callees resolved through records",
			setup: func(w *world) {
				w.src("gamecode/vec.c", "VecCombine").Calls = []string{"NuVecAdd", "NuVecScale"}
				w.fn(0x80005100, 0).DirectCalls = []uint32{0x80006000, 0x80006100}
				w.fn(0x80006000, 0)
				w.fn(0x80006100, 0)
			},
			truth: syms.NameMap{0x80006000: "NuVecAdd", 0x80006100: "NuVecScale"},
			want:  syms.NameMap{0x80005100: "VecCombine", 0x80006000: "NuVecAdd", 0x80006100: "NuVecScale"},
		},
		{
			name: "single shared callee",
			setup: func(w *world) {
				w.src("gamecode/vec.c", "VecCombine").Calls = []string{"NuVecAdd", "NuVecDot"}
				w.fn(0x80005000, 0).NamedCalls = []string{"NuVecAdd", "NuVecScale"}
			},
			want: syms.NameMap{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &world{}
			tt.setup(w)
			res := run(t, w, only(StrategyCallGraph), tt.truth)
			if diff := cmp.Diff(tt.want, res.NameMap()); diff != "" {
				t.Errorf("name map mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.ambig, hasDiagnostic(res.Diagnostics, StrategyCallGraph))
		})
	}
}

func TestCallGraphStrategy_Evidence(t *testing.T) {
	w := &world{}
	w.src("gamecode/vec.c", "VecCombine").Calls = []string{"NuVecAdd", "NuVecDot", "NuVecScale"}
	w.fn(0x80005000, 0).NamedCalls = []string{"NuVecAdd", "NuVecScale"}

	props := (&callGraphStrategy{}).Propose(newContext(w, DefaultConfig(), nil))
	want := []Proposal{{Address: 0x80005000, Name: "VecCombine", Evidence: "2 shared callees, score=0.87"}}
	if diff := cmp.Diff(want, props); diff != "" {
		t.Errorf("proposals mismatch (-want +got):\n%s", diff)
	}
}

func TestCalleeCoverageStrategy(t *testing.T) {
	w := &world{}
	w.src("gamecode/obj.c", "ObjUpdate").Calls = []string{"ObjMove", "ObjDraw", "ObjSound", "ObjFree"}
	w.src("gamecode/obj.c", "ObjKill").Calls = []string{"ObjFree", "ObjSound"}
	for _, addr := range []uint32{0x80009000, 0x80009100, 0x80009200, 0x80009300, 0x80009400} {
		w.fn(addr, 0)
	}
	w.fn(0x80008000, 0).DirectCalls = []uint32{0x80009000, 0x80009100, 0x80009200}
	// Too many unresolved calls.
	w.fn(0x80008100, 0).DirectCalls = []uint32{0x80009000, 0x80009200, 0x80009300, 0x80009400}
	truth := syms.NameMap{0x80009000: "ObjMove", 0x80009100: "ObjDraw"}

	res := run(t, w, only(StrategyCalleeCoverage), truth)
	want := syms.NameMap{
		0x80008000: "ObjUpdate",
		0x80009000: "ObjMove",
		0x80009100: "ObjDraw",
	}
	if diff := cmp.Diff(want, res.NameMap()); diff != "" {
		t.Errorf("name map mismatch (-want +got):\n%s", diff)
	}
	for _, r := range res.Records {
		if r.Name == "ObjUpdate" {
			assert.Equal(t, StrategyCalleeCoverage, r.Strategy)
			assert.Equal(t, "2/3 callees resolved, coverage=0.75", r.Evidence)
		}
	}
}

// fileWorld builds nsrc source functions s0.. and nbin binary functions
// b0.., all belonging to gamecode/vec.c.
func fileWorld(nsrc, nbin int) (*world, []uint32, []string) {
	w := &world{}
	ref := w.str(0x80200020, vecPath)
	names := make([]string, nsrc)
	for i := range names {
		names[i] = "VecFunc" + string(rune('A'+i))
		w.src("gamecode/vec.c", names[i])
	}
	addrs := make([]uint32, nbin)
	for i := range addrs {
		addrs[i] = 0x80010000 + uint32(i)*0x100
		w.fn(addrs[i], 0x100).StringRefs = []evidence.StringRef{ref}
	}
	return w, addrs, names
}

func TestAnchorStrategy_EqualGap(t *testing.T) {
	w, addrs, names := fileWorld(12, 16)
	truth := syms.NameMap{addrs[10]: names[3], addrs[14]: names[7]}
	cfg := only(StrategyAnchor)
	cfg.Anchor.EdgeExtension = 0

	res := run(t, w, cfg, truth)
	want := syms.NameMap{
		addrs[10]: names[3],
		addrs[11]: names[4],
		addrs[12]: names[5],
		addrs[13]: names[6],
		addrs[14]: names[7],
	}
	if diff := cmp.Diff(want, res.NameMap()); diff != "" {
		t.Errorf("name map mismatch (-want +got):\n%s", diff)
	}
	for _, r := range res.Discovered() {
		assert.Equal(t, StrategyAnchor, r.Strategy)
		assert.Equal(t, 1, r.Pass)
	}
}

func TestAnchorStrategy_EdgeExtension(t *testing.T) {
	w, addrs, names := fileWorld(12, 16)
	truth := syms.NameMap{addrs[10]: names[3], addrs[14]: names[7]}

	props := (&anchorStrategy{}).Propose(newContext(w, DefaultConfig(), truth))
	got := make(syms.NameMap)
	for _, p := range props {
		got[p.Address] = p.Name
	}
	want := syms.NameMap{
		addrs[7]:  names[0],
		addrs[8]:  names[1],
		addrs[9]:  names[2],
		addrs[11]: names[4],
		addrs[12]: names[5],
		addrs[13]: names[6],
		addrs[15]: names[8],
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("proposals mismatch (-want +got):\n%s", diff)
	}
}

func TestAnchorStrategy_UnequalGap(t *testing.T) {
	w, addrs, names := fileWorld(12, 20)
	truth := syms.NameMap{addrs[10]: names[3], addrs[16]: names[7]}
	cfg := DefaultConfig()
	cfg.Anchor.EdgeExtension = 0

	props := (&anchorStrategy{}).Propose(newContext(w, cfg, truth))
	want := []Proposal{
		{Address: addrs[11], Name: names[4], Evidence: "after anchor in file gamecode/vec.c"},
		{Address: addrs[15], Name: names[6], Evidence: "before anchor in file gamecode/vec.c"},
	}
	if diff := cmp.Diff(want, props); diff != "" {
		t.Errorf("proposals mismatch (-want +got):\n%s", diff)
	}

	cfg.Disabled = only(StrategyAnchor).Disabled
	res := run(t, w, cfg, truth)
	got := res.NameMap()
	for _, i := range []int{12, 13, 14} {
		_, ok := got[addrs[i]]
		assert.False(t, ok, "binary %d must stay unmatched", i)
	}
	assert.Equal(t, names[4], got[addrs[11]])
	assert.Equal(t, names[6], got[addrs[15]])
}

func TestAnchorStrategy_SizeRatio(t *testing.T) {
	w, addrs, names := fileWorld(12, 20)
	for _, s := range w.srcs {
		if s.Name == names[4] {
			s.Size = 0x10 // 0x100 / 0x10 is outside the ratio bound
		}
	}
	truth := syms.NameMap{addrs[10]: names[3], addrs[16]: names[7]}
	cfg := DefaultConfig()
	cfg.Anchor.EdgeExtension = 0

	props := (&anchorStrategy{}).Propose(newContext(w, cfg, truth))
	want := []Proposal{
		{Address: addrs[15], Name: names[6], Evidence: "before anchor in file gamecode/vec.c"},
	}
	if diff := cmp.Diff(want, props); diff != "" {
		t.Errorf("proposals mismatch (-want +got):\n%s", diff)
	}
}

func TestAnchorStrategy_CompileUnit(t *testing.T) {
	debug, err := evidence.ParseDebugInfo(strings.NewReader(`// Compile unit: gamecode/ai.c
void AiA(int a) {
}
void AiB(int a) {
}
void AiC(int a) {
}
`))
	require.NoError(t, err)
	w := &world{debug: debug}
	w.fn(0x80001000, 0x40)
	w.fn(0x80001040, 0x40)
	w.fn(0x80001080, 0x40)
	truth := syms.NameMap{0x80001000: "AiA", 0x80001080: "AiC"}

	res := run(t, w, only(StrategyAnchor), truth)
	assert.Equal(t, "AiB", res.NameMap()[0x80001040])
}

func TestAnchorStrategy_Listing(t *testing.T) {
	listing, err := evidence.ParseListing(strings.NewReader(`// FILE -- C:\source\crashwoc\code\gamecode\vec.c
/* 00000000 00000040 */ VecA(void)
/* 00000040 00000040 */ VecB(void)
/* 00000080 00000040 */ VecC(void)
/* 000000c0 00000040 */ VecD(void)
/* 00000100 00001000 */ VecE(void)
`))
	require.NoError(t, err)
	w := &world{listing: listing}
	for i := uint32(0); i < 5; i++ {
		w.fn(0x80001000+i*0x40, 0x40)
	}
	truth := syms.NameMap{0x80001000: "VecA", 0x800010c0: "VecD"}

	props := (&anchorStrategy{}).Propose(newContext(w, DefaultConfig(), truth))
	// VecE is 0x1000 bytes in the listing, too large for the 0x40 byte
	// function after the last anchor.
	want := []Proposal{
		{Address: 0x80001040, Name: "VecB", Evidence: "gap 1/2 in listing gamecode/vec.c"},
		{Address: 0x80001080, Name: "VecC", Evidence: "gap 2/2 in listing gamecode/vec.c"},
	}
	if diff := cmp.Diff(want, props); diff != "" {
		t.Errorf("proposals mismatch (-want +got):\n%s", diff)
	}

	res := run(t, w, only(StrategyAnchor), truth)
	assert.Equal(t, "VecB", res.NameMap()[0x80001040])
	assert.Equal(t, "VecC", res.NameMap()[0x80001080])
	_, ok := res.NameMap()[0x80001100]
	assert.False(t, ok)
}

func TestSizeStrategy(t *testing.T) {
	tests := []struct {
		name  string
		sizes map[string]uint32
		bins  map[uint32]uint32
		want  syms.NameMap
	}{
		{
			name:  "unique on both sides",
			sizes: map[string]uint32{"Unique212": 212, "Other": 100},
			bins:  map[uint32]uint32{0x80007000: 212, 0x80007100: 100, 0x80007200: 100},
			want:  syms.NameMap{0x80007000: "Unique212"},
		},
		{
			name:  "source size shared",
			sizes: map[string]uint32{"Unique212": 212, "Twin212": 212},
			bins:  map[uint32]uint32{0x80007000: 212},
			want:  syms.NameMap{},
		},
		{
			name:  "below floor",
			sizes: map[string]uint32{"Tiny": 16},
			bins:  map[uint32]uint32{0x80007000: 16},
			want:  syms.NameMap{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &world{}
			for _, name := range sortedNameKeys(tt.sizes) {
				w.src("gamecode/misc.c", name).Size = tt.sizes[name]
			}
			for _, addr := range sortedAddrKeys(tt.bins) {
				w.fn(addr, tt.bins[addr])
			}
			res := run(t, w, only(StrategySize), nil)
			if diff := cmp.Diff(tt.want, res.NameMap()); diff != "" {
				t.Errorf("name map mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
