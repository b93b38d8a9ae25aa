package patch

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/syms"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

// Slice names a range of the image expected to equal an object symbol.
type Slice struct {
	Name    string
	Address uint32
	Size    uint32
	Object  string
	Symbol  string
}

type sliceJSON struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Size    uint32 `json:"size"`
	Object  string `json:"object"`
	Symbol  string `json:"symbol,omitempty"`
}

func LoadSlices(r io.Reader) ([]Slice, error) {
	var raw []sliceJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode slices: %w", err)
	}
	var (
		ret  = make([]Slice, 0, len(raw))
		errs *multierror.Error
	)
	for i, s := range raw {
		addr, err := syms.ParseAddr(s.Address)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("slice %d (%s): %w", i, s.Name, err))
			continue
		}
		ret = append(ret, Slice{Name: s.Name, Address: addr, Size: s.Size, Object: s.Object, Symbol: s.Symbol})
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid slices: %w", err)
	}
	return ret, nil
}

func WriteSlices(w io.Writer, slices []Slice) error {
	raw := make([]sliceJSON, len(slices))
	for i, s := range slices {
		raw[i] = sliceJSON{
			Name:    s.Name,
			Address: fmt.Sprintf("0x%08X", s.Address),
			Size:    s.Size,
			Object:  s.Object,
			Symbol:  s.Symbol,
		}
	}
	return writeJSON(w, raw)
}

type SliceResult struct {
	Slice
	Match bool
	// MismatchWords are the indexes of differing 32-bit words.
	MismatchWords []int
	// Fallback is set when the symbol was missing and the object's .text
	// was compared instead.
	Fallback bool
	// Functions are the object functions covering the mismatched words.
	Functions []string
	// Externals are the symbols the object leaves to the linker. Their
	// relocated fields differ from the image until the object is linked.
	Externals []string
	Err       error
}

// VerifySlices compares each slice of img with its object symbol. Object
// bytes are never padded. A slice that cannot be read is reported through
// its Err and does not stop the others.
func VerifySlices(img *dol.Image, slices []Slice, src Source) []SliceResult {
	ret := make([]SliceResult, 0, len(slices))
	for _, s := range slices {
		res := SliceResult{Slice: s}
		res.Err = verifySlice(img, src, &res)
		if res.Err != nil {
			glog.Warningf("Slice %s: %v", s.Name, res.Err)
		}
		ret = append(ret, res)
	}
	return ret
}

func verifySlice(img *dol.Image, src Source, res *SliceResult) error {
	want, err := img.BytesAt(res.Address, res.Size)
	if err != nil {
		return err
	}
	obj, err := src.Object(res.Object)
	if err != nil {
		return err
	}
	symbol := res.Symbol
	if symbol == "" {
		symbol = res.Name
	}
	got, err := obj.SymbolBytes(symbol, res.Size, elf.BytesOptions{Pad: elf.PadError})
	if err != nil {
		return err
	}
	res.Fallback = got.Fallback
	res.MismatchWords = mismatchWords(want, got.Data)
	res.Match = len(res.MismatchWords) == 0
	if res.Match {
		return nil
	}
	res.Externals = obj.Undefined()
	table, err := obj.NewSymbolTable(got.Section)
	if err != nil {
		return fmt.Errorf("resolve mismatches in %s: %w", res.Object, err)
	}
	seen := make(map[string]bool)
	for _, w := range res.MismatchWords {
		name := table.Resolve(got.Offset + uint32(4*w))
		if name != "" && !seen[name] {
			seen[name] = true
			res.Functions = append(res.Functions, name)
		}
	}
	return nil
}

func mismatchWords(a, b []byte) []int {
	var ret []int
	for i := 0; i < len(a); i += 4 {
		end := min(i+4, len(a))
		if !bytes.Equal(a[i:end], b[i:end]) {
			ret = append(ret, i/4)
		}
	}
	return ret
}

// SkippedObject is an object whose code was not found exactly once.
type SkippedObject struct {
	Object string
	Hits   int
}

// DiscoverSlices searches the text sections of img for the .text bytes of
// every object. Objects found exactly once become slices.
func DiscoverSlices(img *dol.Image, objects []*elf.Object) ([]Slice, []SkippedObject) {
	var (
		slices  []Slice
		skipped []SkippedObject
	)
	for _, obj := range objects {
		sd, err := obj.GetSectionData(".text")
		if err != nil || sd == nil || len(sd.Data) == 0 {
			glog.V(1).Infof("Object %s has no code", obj.Path())
			skipped = append(skipped, SkippedObject{Object: obj.Path()})
			continue
		}
		hits := findHits(img, sd.Data)
		if len(hits) != 1 {
			skipped = append(skipped, SkippedObject{Object: obj.Path(), Hits: len(hits)})
			continue
		}
		name := stem(obj.Path())
		symbol := name
		if sym, ok := obj.PrimaryTextSymbol(); ok {
			symbol = sym.Name
		}
		slices = append(slices, Slice{
			Name:    name,
			Address: hits[0],
			Size:    uint32(len(sd.Data)),
			Object:  filepath.ToSlash(obj.Path()),
			Symbol:  symbol,
		})
	}
	return slices, skipped
}

func findHits(img *dol.Image, pattern []byte) []uint32 {
	var ret []uint32
	for _, s := range img.TextSections() {
		data, err := img.Bytes(s.Offset, s.Size)
		if err != nil {
			continue
		}
		for start := 0; ; {
			i := bytes.Index(data[start:], pattern)
			if i < 0 {
				break
			}
			ret = append(ret, s.Address+uint32(start+i))
			start += i + 1
		}
	}
	return ret
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
