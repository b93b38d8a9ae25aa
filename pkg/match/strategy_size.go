package match

import "fmt"

// sizeStrategy pairs functions whose byte size is unique on both sides.
type sizeStrategy struct{}

func (s *sizeStrategy) ID() StrategyID { return StrategySize }

func (s *sizeStrategy) Propose(ctx *Context) []Proposal {
	floor := ctx.Config.UniqueSizeFloor

	// Uniqueness counts every function with a known size, matched or not.
	bins := make(map[uint32][]uint32)
	for _, fn := range ctx.Evidence.Functions {
		if fn.Size >= floor {
			bins[fn.Size] = append(bins[fn.Size], fn.Address)
		}
	}
	srcs := make(map[uint32][]string)
	for _, fn := range ctx.Evidence.Sources.Functions() {
		if fn.Size > 0 {
			srcs[fn.Size] = append(srcs[fn.Size], fn.Name)
		}
	}

	var ret []Proposal
	for _, size := range sortedAddrKeys(bins) {
		addrs, names := bins[size], srcs[size]
		if len(addrs) != 1 || len(names) != 1 || !ctx.free(addrs[0], names[0]) {
			continue
		}
		ret = append(ret, Proposal{
			Address:  addrs[0],
			Name:     names[0],
			Evidence: fmt.Sprintf("unique size %d bytes", size),
		})
	}
	return ret
}
