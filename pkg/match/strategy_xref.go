package match

import (
	"fmt"

	"github.com/samber/lo"
)

// xrefStrategy locates source literals in the image string table and
// credits the functions referencing them. Each binary function takes the
// source function sharing the most distinct literals; ties commit nothing.
type xrefStrategy struct{}

func (s *xrefStrategy) ID() StrategyID { return StrategyXref }

func (s *xrefStrategy) Propose(ctx *Context) []Proposal {
	// binary address -> source name -> shared literals
	shared := make(map[uint32]map[string][]string)
	for _, src := range ctx.UnmatchedSources() {
		for _, lit := range src.Literals {
			for _, sa := range ctx.Evidence.Strings.Lookup(lit) {
				for _, addr := range ctx.Evidence.Referrers(sa) {
					if ctx.State.HasAddress(addr) {
						continue
					}
					byName := shared[addr]
					if byName == nil {
						byName = make(map[string][]string)
						shared[addr] = byName
					}
					if !lo.Contains(byName[src.Name], lit) {
						byName[src.Name] = append(byName[src.Name], lit)
					}
				}
			}
		}
	}

	var ret []Proposal
	for _, addr := range sortedAddrKeys(shared) {
		byName := shared[addr]
		cands := make([]scored, 0, len(byName))
		for _, name := range sortedNameKeys(byName) {
			n := len(byName[name])
			cands = append(cands, scored{name: name, score: float64(n), overlap: n})
		}
		rank(cands)
		best := cands[0]
		if best.overlap < ctx.Config.XrefMinOverlap {
			continue
		}
		if len(cands) > 1 && cands[1].overlap == best.overlap {
			ctx.Ambiguous(&AmbiguityError{Strategy: s.ID(), Address: addr, Names: tied(cands)})
			continue
		}
		ret = append(ret, Proposal{
			Address:  addr,
			Name:     best.name,
			Evidence: fmt.Sprintf("%d shared literals, e.g. %q", best.overlap, clip(byName[best.name][0])),
		})
	}
	return ret
}

func tied(cands []scored) []string {
	var ret []string
	for _, c := range cands {
		if c.score+epsilon < cands[0].score {
			break
		}
		ret = append(ret, c.name)
	}
	return ret
}
