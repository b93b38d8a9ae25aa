package evidence

import (
	"fmt"
	"io"
	"sort"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BinaryFunction is one entry of the exported function list.
type BinaryFunction struct {
	Address  uint32
	Name     string
	Size     uint32
	Calls    []string
	External bool
	Thunk    bool
}

type binaryFunctionJSON struct {
	Address  string   `json:"address"`
	Name     string   `json:"name"`
	Size     uint32   `json:"size"`
	Calls    []string `json:"calls"`
	External bool     `json:"external"`
	Thunk    bool     `json:"thunk"`
}

// ParseFunctions decodes the function list. External and thunk entries are
// dropped; entries with an unparsable address are skipped.
func ParseFunctions(r io.Reader) ([]BinaryFunction, error) {
	var raw []binaryFunctionJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode function list: %w", err)
	}

	seen := make(map[uint32]bool, len(raw))
	ret := make([]BinaryFunction, 0, len(raw))
	for _, fn := range raw {
		if fn.External || fn.Thunk {
			continue
		}
		addr, err := syms.ParseAddr(fn.Address)
		if err != nil {
			glog.V(2).Infof("Function list: skipping %q: %v", fn.Address, err)
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		ret = append(ret, BinaryFunction{
			Address: addr,
			Name:    fn.Name,
			Size:    fn.Size,
			Calls:   fn.Calls,
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Address < ret[j].Address })
	return ret, nil
}

// FunctionTable indexes the list for containing-function lookups.
func FunctionTable(funcs []BinaryFunction) *syms.Table {
	all := make([]syms.Symbol, 0, len(funcs))
	for _, fn := range funcs {
		all = append(all, syms.Symbol{Start: fn.Address, Size: fn.Size, Name: syms.FormatAddr(fn.Address)})
	}
	return syms.NewTable(all)
}
