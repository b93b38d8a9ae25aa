package evidence

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang/glog"
	"github.com/samber/lo"
)

var (
	reDumpHeader = regexp.MustCompile(`^/\*\s*FUN_([0-9a-fA-F]{8})\s*@`)
	reStringRef  = regexp.MustCompile(`\bs_(\w+?)_([0-9a-fA-F]{8})\b`)
	reFunCall    = regexp.MustCompile(`\bFUN_([0-9a-fA-F]{8})\b`)
	reNamedCall  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]+)\s*\(`)
)

const maxLineSize = 4 << 20

// ParseDump reads a decompiler export where every function starts with a
// marker line "/* FUN_xxxxxxxx @ ... */". Lines before the first marker are
// ignored. A repeated marker for an address already seen keeps the first
// record.
func ParseDump(r io.Reader) ([]*FunctionSignal, error) {
	var (
		ret     []*FunctionSignal
		seen    = make(map[uint32]bool)
		cur     *FunctionSignal
		named   map[string]struct{}
		dropped int
	)
	finish := func() {
		if cur == nil {
			return
		}
		cur.NamedCalls = sortedKeys(named)
		if seen[cur.Address] {
			dropped++
		} else {
			seen[cur.Address] = true
			ret = append(ret, cur)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if m := reDumpHeader.FindStringSubmatch(line); m != nil {
			finish()
			addr, _ := strconv.ParseUint(m[1], 16, 32)
			cur = &FunctionSignal{Address: uint32(addr)}
			named = make(map[string]struct{})
			continue
		}
		if cur == nil {
			continue
		}
		cur.BodyLines++

		for _, m := range reStringRef.FindAllStringSubmatch(line, -1) {
			addr, _ := strconv.ParseUint(m[2], 16, 32)
			cur.StringRefs = append(cur.StringRefs, StringRef{Label: m[1], Addr: uint32(addr)})
		}
		for _, m := range reFunCall.FindAllStringSubmatch(line, -1) {
			addr, _ := strconv.ParseUint(m[1], 16, 32)
			cur.addDirectCall(uint32(addr))
		}
		for _, m := range reNamedCall.FindAllStringSubmatch(line, -1) {
			if IsDumpCallName(m[1]) {
				named[m[1]] = struct{}{}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dump: %w", err)
	}
	finish()

	if dropped > 0 {
		glog.V(1).Infof("Dump: dropped %d repeated function markers", dropped)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Address < ret[j].Address })
	return ret, nil
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	ret := lo.Keys(m)
	sort.Strings(ret)
	return ret
}

func sortedUniq(s []string) []string {
	ret := lo.Uniq(s)
	sort.Strings(ret)
	return ret
}
