package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/afero"
)

var DefaultPathPrefixes = []string{"c:/source/crashwoc/code/", "code/src/"}

// NormalizePath lowercases a path, converts it to forward slashes and
// strips everything up to and including the first matching prefix.
func NormalizePath(path string, prefixes []string) string {
	path = strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if idx := strings.Index(path, prefix); idx >= 0 {
			path = path[idx+len(prefix):]
			break
		}
	}
	return strings.TrimLeft(path, "/")
}

// SourceIndex holds the source-side functions. The first definition of a
// name wins; later ones are ignored.
type SourceIndex struct {
	functions []*SourceFunction
	byName    map[string]*SourceFunction
	byFile    map[string][]*SourceFunction
	prefixes  []string
}

func NewSourceIndex(prefixes []string) *SourceIndex {
	return &SourceIndex{
		byName:   make(map[string]*SourceFunction),
		byFile:   make(map[string][]*SourceFunction),
		prefixes: prefixes,
	}
}

// Add registers the functions of one file. It returns the number of
// functions that were new.
func (s *SourceIndex) Add(funcs []*SourceFunction) int {
	var added int
	for _, fn := range funcs {
		if prev, ok := s.byName[fn.Name]; ok {
			glog.V(2).Infof("Source function %s redefined at %s:%d, keeping %s", fn.Name, fn.File, fn.Line, prev)
			continue
		}
		s.byName[fn.Name] = fn
		s.functions = append(s.functions, fn)
		key := NormalizePath(fn.File, s.prefixes)
		s.byFile[key] = append(s.byFile[key], fn)
		added++
	}
	return added
}

func (s *SourceIndex) Len() int { return len(s.functions) }

func (s *SourceIndex) Lookup(name string) (*SourceFunction, bool) {
	fn, ok := s.byName[name]
	return fn, ok
}

// Functions returns every function in file then declaration order.
func (s *SourceIndex) Functions() []*SourceFunction { return s.functions }

// File returns the functions of a normalized path in declaration order.
func (s *SourceIndex) File(norm string) []*SourceFunction { return s.byFile[norm] }

// FileOf returns the normalized path holding name.
func (s *SourceIndex) FileOf(name string) (string, bool) {
	fn, ok := s.byName[name]
	if !ok {
		return "", false
	}
	return NormalizePath(fn.File, s.prefixes), true
}

// MergeSizes records byte sizes for known functions. Existing sizes are
// kept.
func (s *SourceIndex) MergeSizes(sizes map[string]uint32) int {
	var n int
	for name, size := range sizes {
		fn, ok := s.byName[name]
		if !ok || size == 0 || fn.Size != 0 {
			continue
		}
		fn.Size = size
		n++
	}
	return n
}

type WalkOptions struct {
	Extensions    []string
	MinLiteralLen int
	PathPrefixes  []string
}

// WalkSources scans every file under root whose extension is listed. Files
// are visited in lexical order so the first-definition rule is stable.
func WalkSources(ctx context.Context, fsys afero.Fs, root string, opts WalkOptions) (*SourceIndex, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".c"}
	}
	index := NewSourceIndex(opts.PathPrefixes)
	var files int
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || !hasExt(path, exts) {
			return nil
		}
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read source %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		index.Add(ScanSource(filepath.ToSlash(rel), string(data), opts.MinLiteralLen))
		files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk sources %s: %w", root, err)
	}
	glog.V(1).Infof("Extracted %d source functions from %d files", index.Len(), files)
	return index, nil
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
