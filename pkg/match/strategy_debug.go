package match

import (
	"fmt"

	"github.com/vietanhduong/dolmatch/pkg/syms"
)

// debugLabelStrategy uses label addresses from the debug info: when every
// label of a debug function falls inside the same binary function, that
// function carries the debug name. A label address declared by an earlier
// function belongs to that function and is ignored.
type debugLabelStrategy struct{}

func (s *debugLabelStrategy) ID() StrategyID { return StrategyDebugLabel }

func (s *debugLabelStrategy) Propose(ctx *Context) []Proposal {
	var ret []Proposal
	for _, dfn := range ctx.Evidence.Debug.Functions {
		if len(dfn.Labels) == 0 {
			continue
		}
		starts := make(map[uint32]uint32) // function start -> first label inside it
		for _, l := range dfn.Labels {
			if owner, _ := ctx.Evidence.Debug.LabelOwner(l); owner != dfn.Name {
				continue
			}
			if start, ok := ctx.Evidence.Containing(l); ok {
				if _, seen := starts[start]; !seen {
					starts[start] = l
				}
			}
		}
		switch len(starts) {
		case 0:
			continue
		case 1:
		default:
			ctx.Ambiguous(&AmbiguityError{Strategy: s.ID(), Name: dfn.Name, Addresses: sortedAddrKeys(starts)})
			continue
		}
		for start, label := range starts {
			ret = append(ret, Proposal{
				Address:  start,
				Name:     dfn.Name,
				Evidence: fmt.Sprintf("debug label at %s", syms.FormatAddr(label)),
			})
		}
	}
	return ret
}
