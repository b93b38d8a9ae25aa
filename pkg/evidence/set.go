package evidence

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/syms"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
	"golang.org/x/sync/errgroup"
)

const DefaultPathMarker = "crashwoc/code/"

// Paths names the input files. Empty paths are skipped.
type Paths struct {
	Dump      string
	Strings   string
	Functions string
	Sources   string // directory
	DebugInfo string
	Listing   string
	Objects   string // directory of compiled objects, used for sizes
}

type Options struct {
	Sources WalkOptions
	// PathMarker selects strings naming source files: the normalized text
	// must contain it and end with a source extension.
	PathMarker string
	// Image enables call-target decoding from machine code.
	Image *dol.Image
}

func DefaultOptions() Options {
	return Options{
		Sources: WalkOptions{
			Extensions:    []string{".c"},
			MinLiteralLen: DefaultMinLiteralLen,
			PathPrefixes:  DefaultPathPrefixes,
		},
		PathMarker: DefaultPathMarker,
	}
}

// Set is the complete, read-only evidence for one matching run.
type Set struct {
	Functions []*FunctionSignal // ascending address
	Strings   *StringTable
	Sources   *SourceIndex
	Debug     *DebugInfo
	Listing   *Listing

	byAddr     map[uint32]*FunctionSignal
	referrers  map[uint32][]uint32
	table      *syms.Table
	fileGroups map[string][]uint32
	opts       Options
}

// NewSet merges the function list with dump records. When a function list is
// given it defines the set of binary functions: dump records for unlisted
// addresses are dropped and listed functions without a dump record are kept
// with no evidence.
func NewSet(funcs []BinaryFunction, dump []*FunctionSignal, strs *StringTable, src *SourceIndex, debug *DebugInfo, opts Options) *Set {
	if strs == nil {
		strs = NewStringTable(nil)
	}
	if src == nil {
		src = NewSourceIndex(opts.Sources.PathPrefixes)
	}
	if debug == nil {
		debug = NewDebugInfo()
	}
	this := &Set{
		Strings:    strs,
		Sources:    src,
		Debug:      debug,
		byAddr:     make(map[uint32]*FunctionSignal),
		referrers:  make(map[uint32][]uint32),
		fileGroups: make(map[string][]uint32),
		opts:       opts,
	}

	dumped := make(map[uint32]*FunctionSignal, len(dump))
	for _, fn := range dump {
		dumped[fn.Address] = fn
	}
	if len(funcs) == 0 {
		this.Functions = append(this.Functions, dump...)
	} else {
		for _, bf := range funcs {
			fn, ok := dumped[bf.Address]
			if !ok {
				fn = &FunctionSignal{Address: bf.Address}
			}
			fn.Size = bf.Size
			fn.Name = bf.Name
			var named []string
			for _, call := range bf.Calls {
				switch {
				case strings.HasPrefix(call, "FUN_"):
					if addr, err := syms.ParseAddr(call); err == nil {
						fn.addDirectCall(addr)
					}
				case strings.HasPrefix(call, "thunk_FUN_"):
				case IsDumpCallName(call):
					named = append(named, call)
				}
			}
			fn.addNamedCalls(named...)
			this.Functions = append(this.Functions, fn)
		}
		if n := len(dump) - countListed(dump, funcs); n > 0 {
			glog.V(1).Infof("Dropped %d dump records not in the function list", n)
		}
	}
	sort.Slice(this.Functions, func(i, j int) bool { return this.Functions[i].Address < this.Functions[j].Address })

	all := make([]syms.Symbol, 0, len(this.Functions))
	for _, fn := range this.Functions {
		this.byAddr[fn.Address] = fn
		if fn.Size > 0 {
			all = append(all, syms.Symbol{Start: fn.Address, Size: fn.Size, Name: syms.FormatAddr(fn.Address)})
		}
		for _, sa := range fn.StringAddrs() {
			this.referrers[sa] = append(this.referrers[sa], fn.Address)
		}
	}
	this.table = syms.NewTable(all)

	for _, sa := range strs.Addresses() {
		text, _ := strs.Text(sa)
		if len(this.referrers[sa]) == 0 || !this.isSourcePath(text) {
			continue
		}
		norm := NormalizePath(text, opts.Sources.PathPrefixes)
		this.fileGroups[norm] = append(this.fileGroups[norm], this.referrers[sa]...)
	}
	return this
}

func countListed(dump []*FunctionSignal, funcs []BinaryFunction) int {
	listed := make(map[uint32]bool, len(funcs))
	for _, f := range funcs {
		listed[f.Address] = true
	}
	var n int
	for _, d := range dump {
		if listed[d.Address] {
			n++
		}
	}
	return n
}

func (s *Set) isSourcePath(text string) bool {
	norm := strings.ToLower(strings.ReplaceAll(text, `\`, "/"))
	if s.opts.PathMarker != "" && !strings.Contains(norm, s.opts.PathMarker) {
		return false
	}
	if s.opts.PathMarker == "" && !strings.Contains(norm, "/") {
		return false
	}
	exts := s.opts.Sources.Extensions
	if len(exts) == 0 {
		exts = []string{".c"}
	}
	return hasExt(norm, exts)
}

func (s *Set) Function(addr uint32) (*FunctionSignal, bool) {
	fn, ok := s.byAddr[addr]
	return fn, ok
}

// Referrers returns the functions referencing the string at addr, ascending.
func (s *Set) Referrers(strAddr uint32) []uint32 { return s.referrers[strAddr] }

// Containing returns the start of the binary function covering addr.
func (s *Set) Containing(addr uint32) (uint32, bool) {
	sym, ok := s.table.Find(addr)
	if !ok {
		return 0, false
	}
	return sym.Start, true
}

// StringText resolves a string reference to its text, falling back to the
// reference label when the string table has no entry.
func (s *Set) StringText(ref StringRef) string {
	if text, ok := s.Strings.Text(ref.Addr); ok {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(ref.Label, "_", " "))
}

// FileGroups maps normalized source paths to the binary functions that
// reference a string naming that path.
func (s *Set) FileGroups() map[string][]uint32 { return s.fileGroups }

func (s *Set) NormalizePath(path string) string {
	return NormalizePath(path, s.opts.Sources.PathPrefixes)
}

// Load reads every input named in paths concurrently and builds the set.
func Load(ctx context.Context, fsys afero.Fs, paths Paths, opts Options) (*Set, error) {
	var (
		dump    []*FunctionSignal
		strs    *StringTable
		funcs   []BinaryFunction
		src     *SourceIndex
		debug   *DebugInfo
		listing *Listing
		objs    []*elf.Object
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		return withFile(fsys, paths.Dump, func(r io.Reader) error { dump, err = ParseDump(r); return err })
	})
	g.Go(func() (err error) {
		return withFile(fsys, paths.Strings, func(r io.Reader) error { strs, err = ParseStrings(r); return err })
	})
	g.Go(func() (err error) {
		return withFile(fsys, paths.Functions, func(r io.Reader) error { funcs, err = ParseFunctions(r); return err })
	})
	g.Go(func() (err error) {
		return withFile(fsys, paths.DebugInfo, func(r io.Reader) error { debug, err = ParseDebugInfo(r); return err })
	})
	g.Go(func() (err error) {
		return withFile(fsys, paths.Listing, func(r io.Reader) error { listing, err = ParseListing(r); return err })
	})
	g.Go(func() (err error) {
		if paths.Sources == "" {
			return nil
		}
		src, err = WalkSources(ctx, fsys, paths.Sources, opts.Sources)
		return err
	})
	g.Go(func() (err error) {
		if paths.Objects == "" {
			return nil
		}
		objs, err = loadObjects(ctx, fsys, paths.Objects)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := NewSet(funcs, dump, strs, src, debug, opts)
	set.Listing = listing
	if listing != nil {
		n := set.Sources.MergeSizes(listing.Sizes())
		glog.V(1).Infof("Listing supplied %d source function sizes", n)
	}
	if len(objs) > 0 {
		n := set.Sources.MergeSizes(SizesFromObjects(objs))
		glog.V(1).Infof("Objects supplied %d source function sizes", n)
	}
	if opts.Image != nil {
		set.decodeCalls(opts.Image)
	}
	glog.Infof("Evidence: %d binary functions, %d strings, %d source functions, %d debug functions",
		len(set.Functions), set.Strings.Len(), set.Sources.Len(), len(set.Debug.Functions))
	return set, nil
}

// decodeCalls adds the bl targets found in the image to DirectCalls. Only
// targets that start a binary function are kept: calls into named or
// external code are already in NamedCalls and can never be matched.
func (s *Set) decodeCalls(img *dol.Image) {
	var added, dropped int
	for _, fn := range s.Functions {
		if fn.Size == 0 {
			continue
		}
		targets, err := DecodeCalls(img, fn.Address, fn.Size)
		if err != nil {
			glog.V(2).Infof("Skipping call decoding for %s: %v", fn, err)
			continue
		}
		before := len(fn.DirectCalls)
		for _, t := range targets {
			if _, ok := s.byAddr[t]; !ok {
				dropped++
				continue
			}
			fn.addDirectCall(t)
		}
		added += len(fn.DirectCalls) - before
	}
	glog.V(1).Infof("Decoded %d additional call edges from machine code, %d targets outside the function set", added, dropped)
}

func withFile(fsys afero.Fs, path string, fn func(r io.Reader) error) error {
	if path == "" {
		return nil
	}
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func loadObjects(ctx context.Context, fsys afero.Fs, root string) ([]*elf.Object, error) {
	var ret []*elf.Object
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".o") {
			return nil
		}
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read object %s: %w", path, err)
		}
		obj, err := elf.LoadNamed(data, path, nil)
		if err != nil {
			glog.Warningf("Skipping object %s: %v", path, err)
			return nil
		}
		ret = append(ret, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects %s: %w", root, err)
	}
	return ret, nil
}
