package match

import (
	"fmt"

	"github.com/vietanhduong/dolmatch/pkg/evidence"
)

// callGraphStrategy compares the named callees of a binary function with
// the calls of each source function.
type callGraphStrategy struct{}

func (s *callGraphStrategy) ID() StrategyID { return StrategyCallGraph }

func (s *callGraphStrategy) Propose(ctx *Context) []Proposal {
	cfg := ctx.Config.CallGraph
	index := calleeIndex(ctx.UnmatchedSources(), cfg.MinCallees)

	var ret []Proposal
	for _, fn := range ctx.Unmatched() {
		callees := ctx.Callees(fn)
		if len(callees) < cfg.MinCallees {
			continue
		}
		cands := scoreCandidates(callees, index, cfg.MinOverlap, func(ov, nsrc int) float64 {
			union := len(callees) + nsrc - ov
			jaccard := float64(ov) / float64(union)
			coverage := float64(ov) / float64(len(callees))
			return cfg.JaccardWeight*jaccard + cfg.CoverageWeight*coverage
		})
		if len(cands) == 0 {
			continue
		}
		best, ok := pick(ctx, s.ID(), fn.Address, cands, cfg.MinScore, cfg.MinMargin)
		if !ok {
			continue
		}
		ret = append(ret, Proposal{
			Address:  fn.Address,
			Name:     best.name,
			Evidence: fmt.Sprintf("%d shared callees, score=%s", best.overlap, pct(best.score)),
		})
	}
	return ret
}

// calleeCoverageStrategy accepts a candidate when most of the binary
// function's calls are already resolved and both callee sets cover each
// other well.
type calleeCoverageStrategy struct{}

func (s *calleeCoverageStrategy) ID() StrategyID { return StrategyCalleeCoverage }

func (s *calleeCoverageStrategy) Propose(ctx *Context) []Proposal {
	cfg := ctx.Config.CalleeCoverage
	index := calleeIndex(ctx.UnmatchedSources(), 2)

	var ret []Proposal
	for _, fn := range ctx.Unmatched() {
		total := len(fn.DirectCalls) + len(fn.NamedCalls)
		if total == 0 {
			continue
		}
		var unresolved int
		for _, addr := range fn.DirectCalls {
			if !ctx.State.HasAddress(addr) {
				unresolved++
			}
		}
		if float64(unresolved) > cfg.MaxUnresolved*float64(total) {
			continue
		}
		callees := ctx.Callees(fn)
		if len(callees) < 2 {
			continue
		}
		cands := scoreCandidates(callees, index, cfg.MinOverlap, func(ov, nsrc int) float64 {
			return (float64(ov)/float64(len(callees)) + float64(ov)/float64(nsrc)) / 2
		})
		if len(cands) == 0 {
			continue
		}
		best, ok := pick(ctx, s.ID(), fn.Address, cands, cfg.MinScore, cfg.MinMargin)
		if !ok {
			continue
		}
		ret = append(ret, Proposal{
			Address:  fn.Address,
			Name:     best.name,
			Evidence: fmt.Sprintf("%d/%d callees resolved, coverage=%s", total-unresolved, total, pct(best.score)),
		})
	}
	return ret
}

type sourceCalls struct {
	fn    *evidence.SourceFunction
	calls map[string]struct{}
}

// calleeIndex maps a callee name to the source functions calling it. Only
// functions with at least minCalls distinct calls are indexed.
func calleeIndex(srcs []*evidence.SourceFunction, minCalls int) map[string][]*sourceCalls {
	index := make(map[string][]*sourceCalls)
	for _, fn := range srcs {
		if len(fn.Calls) < minCalls {
			continue
		}
		sc := &sourceCalls{fn: fn, calls: make(map[string]struct{}, len(fn.Calls))}
		for _, c := range fn.Calls {
			sc.calls[c] = struct{}{}
		}
		for c := range sc.calls {
			index[c] = append(index[c], sc)
		}
	}
	return index
}

func scoreCandidates(callees map[string]struct{}, index map[string][]*sourceCalls, minOverlap int, score func(ov, nsrc int) float64) []scored {
	overlap := make(map[*sourceCalls]int)
	for c := range callees {
		for _, sc := range index[c] {
			overlap[sc]++
		}
	}
	var ret []scored
	for sc, ov := range overlap {
		if ov < minOverlap {
			continue
		}
		ret = append(ret, scored{name: sc.fn.Name, score: score(ov, len(sc.calls)), overlap: ov})
	}
	rank(ret)
	return ret
}

// pick returns the best candidate when it clears minScore and leads the
// runner-up by at least minMargin. A margin failure is reported.
func pick(ctx *Context, id StrategyID, addr uint32, cands []scored, minScore, minMargin float64) (scored, bool) {
	best := cands[0]
	if best.score+epsilon < minScore {
		return scored{}, false
	}
	var second float64
	if len(cands) > 1 {
		second = cands[1].score
	}
	if best.score-second+epsilon < minMargin {
		var names []string
		for _, c := range cands {
			if best.score-c.score+epsilon >= minMargin {
				break
			}
			names = append(names, c.name)
		}
		ctx.Ambiguous(&AmbiguityError{Strategy: id, Address: addr, Names: names})
		return scored{}, false
	}
	return best, true
}
