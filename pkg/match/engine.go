package match

import (
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

// PassStats summarizes one strategy run.
type PassStats struct {
	Pass      int        `json:"pass"`
	Strategy  StrategyID `json:"strategy"`
	Proposed  int        `json:"proposed"`
	Committed int        `json:"committed"`
	Ambiguous int        `json:"ambiguous"`
}

type Engine struct {
	cfg       Config
	initial   []Strategy
	iterative []Strategy
}

// NewEngine builds the strategy list in priority order. The iterative
// subset is rerun after the first pass until nothing new commits.
func NewEngine(cfg Config) *Engine {
	all := []Strategy{
		newIdentifierStrategy(cfg.IdentifierMinLen),
		&literalStrategy{},
		&debugLabelStrategy{},
		&xrefStrategy{},
		&callGraphStrategy{},
		&calleeCoverageStrategy{},
		&anchorStrategy{},
		&sizeStrategy{},
	}
	this := &Engine{cfg: cfg}
	for _, s := range all {
		if !cfg.enabled(s.ID()) {
			glog.V(1).Infof("Strategy %s disabled", s.ID())
			continue
		}
		this.initial = append(this.initial, s)
		switch s.ID() {
		case StrategyCallGraph, StrategyCalleeCoverage, StrategyAnchor, StrategySize:
			this.iterative = append(this.iterative, s)
		}
	}
	return this
}

// Strategies returns the IDs of the enabled strategies in run order.
func (e *Engine) Strategies() []StrategyID {
	ret := make([]StrategyID, len(e.initial))
	for i, s := range e.initial {
		ret[i] = s.ID()
	}
	return ret
}

// Run matches the evidence, starting from the ground truth. Identical
// inputs always produce identical results.
func (e *Engine) Run(set *evidence.Set, truth syms.NameMap) *Result {
	state := NewState()
	res := &Result{}
	res.Diagnostics = append(res.Diagnostics, state.Seed(truth)...)
	glog.Infof("Seeded %d ground-truth records", state.Len())

	ctx := &Context{Evidence: set, State: state, Config: &e.cfg, Pass: 1}
	var n int
	for _, s := range e.initial {
		n += e.apply(ctx, s, res)
	}
	glog.Infof("Pass 1: %d new records", n)

	for i := 0; i < e.cfg.MaxIterations && len(e.iterative) > 0; i++ {
		ctx.Pass++
		n = 0
		for _, s := range e.iterative {
			n += e.apply(ctx, s, res)
		}
		glog.Infof("Pass %d: %d new records", ctx.Pass, n)
		if n == 0 {
			break
		}
	}

	records, dropped := cleanup(state.Records(), state.IsTruth)
	res.Records = records
	res.Diagnostics = append(res.Diagnostics, dropped...)
	res.truth = state.truth
	return res
}

func (e *Engine) apply(ctx *Context, s Strategy, res *Result) int {
	ctx.diagnostics = nil
	props := s.Propose(ctx)
	stats := PassStats{Pass: ctx.Pass, Strategy: s.ID(), Proposed: len(props)}

	type pair struct {
		addr uint32
		name string
	}
	seen := make(map[pair]bool)
	namesAt := make(map[uint32]map[string]bool)
	addrsOf := make(map[string]map[uint32]bool)
	var uniq []Proposal
	for _, p := range props {
		if !ctx.free(p.Address, p.Name) || seen[pair{p.Address, p.Name}] {
			continue
		}
		seen[pair{p.Address, p.Name}] = true
		uniq = append(uniq, p)
		if namesAt[p.Address] == nil {
			namesAt[p.Address] = make(map[string]bool)
		}
		namesAt[p.Address][p.Name] = true
		if addrsOf[p.Name] == nil {
			addrsOf[p.Name] = make(map[uint32]bool)
		}
		addrsOf[p.Name][p.Address] = true
	}

	diags := ctx.diagnostics
	for _, addr := range sortedAddrKeys(namesAt) {
		if names := namesAt[addr]; len(names) > 1 {
			err := &AmbiguityError{Strategy: s.ID(), Address: addr, Names: sortedNameKeys(names)}
			diags = append(diags, err.Diagnostic())
		}
	}
	for _, name := range sortedNameKeys(addrsOf) {
		if addrs := addrsOf[name]; len(addrs) > 1 {
			err := &AmbiguityError{Strategy: s.ID(), Name: name, Addresses: sortedAddrKeys(addrs)}
			diags = append(diags, err.Diagnostic())
		}
	}
	stats.Ambiguous = len(diags)

	sort.SliceStable(uniq, func(i, j int) bool {
		if uniq[i].Address != uniq[j].Address {
			return uniq[i].Address < uniq[j].Address
		}
		return uniq[i].Name < uniq[j].Name
	})
	for _, p := range uniq {
		if len(namesAt[p.Address]) > 1 || len(addrsOf[p.Name]) > 1 {
			continue
		}
		r := Record{Address: p.Address, Name: p.Name, Strategy: s.ID(), Evidence: p.Evidence, Pass: ctx.Pass}
		if err := ctx.State.Commit(r); err != nil {
			diags = append(diags, Diagnostic{Strategy: s.ID(), Address: syms.FormatAddr(p.Address), Name: p.Name, Message: err.Error()})
			continue
		}
		glog.V(2).Infof("Committed %s", r)
		stats.Committed++
	}

	res.Diagnostics = append(res.Diagnostics, diags...)
	res.Passes = append(res.Passes, stats)
	glog.V(1).Infof("Pass %d %s: proposed=%d committed=%d ambiguous=%d",
		stats.Pass, stats.Strategy, stats.Proposed, stats.Committed, stats.Ambiguous)
	return stats.Committed
}

func sortedAddrKeys[V any](m map[uint32]V) []uint32 {
	ret := make([]uint32, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

func sortedNameKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func pct(v float64) string { return fmt.Sprintf("%.2f", v) }
