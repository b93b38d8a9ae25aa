package match

import (
	"sort"

	"github.com/vietanhduong/dolmatch/pkg/evidence"
)

// Strategy proposes address to name pairs from the evidence and the current
// state. Strategies never commit; the engine does.
type Strategy interface {
	ID() StrategyID
	Propose(ctx *Context) []Proposal
}

// Context is the read-only view a strategy works on.
type Context struct {
	Evidence *evidence.Set
	State    *State
	Config   *Config
	Pass     int

	diagnostics []Diagnostic
}

// Ambiguous records candidates a strategy refused to choose between.
func (c *Context) Ambiguous(err *AmbiguityError) {
	c.diagnostics = append(c.diagnostics, err.Diagnostic())
}

// Unmatched returns the binary functions without a record, ascending.
func (c *Context) Unmatched() []*evidence.FunctionSignal {
	var ret []*evidence.FunctionSignal
	for _, fn := range c.Evidence.Functions {
		if !c.State.HasAddress(fn.Address) {
			ret = append(ret, fn)
		}
	}
	return ret
}

// UnmatchedSources returns source functions whose name is still free, in
// file then declaration order.
func (c *Context) UnmatchedSources() []*evidence.SourceFunction {
	var ret []*evidence.SourceFunction
	for _, fn := range c.Evidence.Sources.Functions() {
		if !c.State.HasName(fn.Name) {
			ret = append(ret, fn)
		}
	}
	return ret
}

func (c *Context) IsSourceName(name string) bool {
	_, ok := c.Evidence.Sources.Lookup(name)
	return ok
}

// free reports whether a pair can still be committed.
func (c *Context) free(addr uint32, name string) bool {
	return !c.State.HasAddress(addr) && !c.State.HasName(name)
}

// Callees returns the names a binary function is known to call: named
// calls plus direct calls whose target already has a record.
func (c *Context) Callees(fn *evidence.FunctionSignal) map[string]struct{} {
	ret := make(map[string]struct{}, len(fn.NamedCalls)+len(fn.DirectCalls))
	for _, n := range fn.NamedCalls {
		ret[n] = struct{}{}
	}
	for _, addr := range fn.DirectCalls {
		if n, ok := c.State.Name(addr); ok {
			ret[n] = struct{}{}
		}
	}
	return ret
}

// sizeRatioOK reports whether two function sizes are plausibly the same
// function. Unknown sizes always pass.
func (c *Context) sizeRatioOK(binSize, srcSize uint32) bool {
	if binSize == 0 || srcSize == 0 {
		return true
	}
	r := float64(binSize) / float64(srcSize)
	return r > c.Config.Anchor.MinSizeRatio && r < c.Config.Anchor.MaxSizeRatio
}

// sourceSize is the size of a source function, taken from the listing when
// the source index has none.
func (c *Context) sourceSize(name string) uint32 {
	if fn, ok := c.Evidence.Sources.Lookup(name); ok && fn.Size > 0 {
		return fn.Size
	}
	if l := c.Evidence.Listing; l != nil {
		if e, ok := l.Lookup(name); ok {
			return e.Size
		}
	}
	return 0
}

func (c *Context) binarySize(addr uint32) uint32 {
	if fn, ok := c.Evidence.Function(addr); ok {
		return fn.Size
	}
	return 0
}

type scored struct {
	name    string
	score   float64
	overlap int
}

// rank sorts candidates by score, best first, breaking ties by name.
func rank(cands []scored) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].name < cands[j].name
	})
}

const epsilon = 1e-9
