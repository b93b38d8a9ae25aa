package match

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
)

// group is one ordering domain: binary functions in address order against
// source functions in declaration order.
type group struct {
	label  string
	binary []uint32
	source []string
}

type anchor struct {
	bi, si int
}

// anchorStrategy aligns unmatched functions by position between pairs that
// are already matched inside the same source file or compile unit.
type anchorStrategy struct{}

func (s *anchorStrategy) ID() StrategyID { return StrategyAnchor }

func (s *anchorStrategy) Propose(ctx *Context) []Proposal {
	var ret []Proposal
	for _, g := range s.groups(ctx) {
		if len(g.binary) < 2 || len(g.source) < 2 {
			continue
		}
		ret = append(ret, s.align(ctx, g)...)
	}
	return ret
}

func (s *anchorStrategy) groups(ctx *Context) []group {
	set := ctx.Evidence
	byFile := make(map[string][]uint32)
	for file, addrs := range set.FileGroups() {
		byFile[file] = append(byFile[file], addrs...)
	}
	for _, r := range ctx.State.Records() {
		if file, ok := set.Sources.FileOf(r.Name); ok {
			byFile[file] = append(byFile[file], r.Address)
		}
	}

	var ret []group
	for _, file := range sortedNameKeys(byFile) {
		bin := lo.Uniq(byFile[file])
		sort.Slice(bin, func(i, j int) bool { return bin[i] < bin[j] })
		srcs := set.Sources.File(file)
		names := make([]string, len(srcs))
		for i, fn := range srcs {
			names[i] = fn.Name
		}
		ret = append(ret, group{label: "file " + file, binary: bin, source: names})
	}

	// Compile units and listing files only give the source order. Their
	// functions are contiguous in the binary, so they align against every
	// binary function and the anchors pick the range.
	all := make([]uint32, len(set.Functions))
	for i, fn := range set.Functions {
		all[i] = fn.Address
	}
	for _, unit := range set.Debug.Units {
		ret = append(ret, group{label: "unit " + unit.Path, binary: all, source: lo.Uniq(unit.Functions)})
	}
	if set.Listing != nil {
		for _, f := range set.Listing.Files {
			names := lo.Map(f.Functions, func(e evidence.ListingEntry, _ int) string { return e.Name })
			ret = append(ret, group{label: "listing " + set.NormalizePath(f.Path), binary: all, source: lo.Uniq(names)})
		}
	}
	return ret
}

// anchors returns the committed pairs of g with both indexes strictly
// increasing.
func (s *anchorStrategy) anchors(ctx *Context, g group) []anchor {
	pos := make(map[string]int, len(g.source))
	for i, name := range g.source {
		if _, ok := pos[name]; !ok {
			pos[name] = i
		}
	}
	var ret []anchor
	for bi, addr := range g.binary {
		name, ok := ctx.State.Name(addr)
		if !ok {
			continue
		}
		si, ok := pos[name]
		if !ok {
			continue
		}
		if len(ret) > 0 && si <= ret[len(ret)-1].si {
			continue
		}
		ret = append(ret, anchor{bi: bi, si: si})
	}
	return ret
}

func (s *anchorStrategy) align(ctx *Context, g group) []Proposal {
	anchors := s.anchors(ctx, g)
	if len(anchors) == 0 {
		return nil
	}
	var ret []Proposal
	propose := func(bi, si int, how string) {
		ret = append(ret, Proposal{
			Address:  g.binary[bi],
			Name:     g.source[si],
			Evidence: fmt.Sprintf("%s in %s", how, g.label),
		})
	}
	// extend walks n steps from (bi, si) by delta and stops at the first
	// committed element or implausible size.
	extend := func(bi, si, delta, n int, how string) {
		for i := 1; i <= n; i++ {
			bj, sj := bi+delta*i, si+delta*i
			addr, name := g.binary[bj], g.source[sj]
			if !ctx.free(addr, name) || !ctx.sizeRatioOK(ctx.binarySize(addr), ctx.sourceSize(name)) {
				return
			}
			propose(bj, sj, how)
		}
	}

	edge := ctx.Config.Anchor.EdgeExtension
	first, last := anchors[0], anchors[len(anchors)-1]
	extend(first.bi, first.si, -1, min(first.bi, first.si, edge), "before first anchor")

	for i := 1; i < len(anchors); i++ {
		a, b := anchors[i-1], anchors[i]
		dg, sg := b.bi-a.bi-1, b.si-a.si-1
		switch {
		case dg == sg && dg > 0:
			for j := 1; j <= dg; j++ {
				if ctx.free(g.binary[a.bi+j], g.source[a.si+j]) {
					propose(a.bi+j, a.si+j, fmt.Sprintf("gap %d/%d", j, dg))
				}
			}
		case dg > 0 && sg > 0:
			k := max(1, min(dg, sg)/2)
			extend(a.bi, a.si, 1, k, "after anchor")
			extend(b.bi, b.si, -1, k, "before anchor")
		}
	}

	extend(last.bi, last.si, 1, min(len(g.binary)-1-last.bi, len(g.source)-1-last.si, edge), "after last anchor")
	return ret
}
