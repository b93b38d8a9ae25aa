package match

import (
	"testing"

	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

const vecPath = `C:\source\crashwoc\code\gamecode\vec.c`

// world describes the evidence of a test run.
type world struct {
	funcs []*evidence.FunctionSignal
	strs  map[uint32]string
	srcs  []*evidence.SourceFunction
	debug *evidence.DebugInfo
	// listing is attached to the set as the reference listing.
	listing *evidence.Listing
}

func (w *world) fn(addr, size uint32) *evidence.FunctionSignal {
	f := &evidence.FunctionSignal{Address: addr, Size: size}
	w.funcs = append(w.funcs, f)
	return f
}

func (w *world) str(addr uint32, text string) evidence.StringRef {
	if w.strs == nil {
		w.strs = make(map[uint32]string)
	}
	w.strs[addr] = text
	return evidence.StringRef{Label: "str", Addr: addr}
}

func (w *world) src(file, name string) *evidence.SourceFunction {
	var order int
	for _, s := range w.srcs {
		if s.File == file {
			order++
		}
	}
	f := &evidence.SourceFunction{Name: name, File: file, Order: order}
	w.srcs = append(w.srcs, f)
	return f
}

func (w *world) set() *evidence.Set {
	idx := evidence.NewSourceIndex(evidence.DefaultPathPrefixes)
	idx.Add(w.srcs)
	set := evidence.NewSet(nil, w.funcs, evidence.NewStringTable(w.strs), idx, w.debug, evidence.DefaultOptions())
	set.Listing = w.listing
	return set
}

// only returns the default config with every strategy but ids disabled.
func only(ids ...StrategyID) Config {
	cfg := DefaultConfig()
	keep := make(map[StrategyID]bool)
	for _, id := range ids {
		keep[id] = true
	}
	for _, id := range allStrategies {
		if !keep[id] {
			cfg.Disabled = append(cfg.Disabled, id)
		}
	}
	return cfg
}

func run(t *testing.T, w *world, cfg Config, truth syms.NameMap) *Result {
	t.Helper()
	return NewEngine(cfg).Run(w.set(), truth)
}

func newContext(w *world, cfg Config, truth syms.NameMap) *Context {
	state := NewState()
	state.Seed(truth)
	return &Context{Evidence: w.set(), State: state, Config: &cfg, Pass: 1}
}

func hasDiagnostic(diags []Diagnostic, id StrategyID) bool {
	for _, d := range diags {
		if d.Strategy == id {
			return true
		}
	}
	return false
}
