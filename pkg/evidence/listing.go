package evidence

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

var (
	reListingFile = regexp.MustCompile(`^//\s*FILE\s*--\s*(.+)$`)
	reListingFunc = regexp.MustCompile(`^/\*\s*([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s*\*/\s*(?:static\s+)?(\w+)\s*\(`)
)

type ListingEntry struct {
	Name string
	Addr uint32
	Size uint32
	File string
}

type ListingFile struct {
	Path      string
	Functions []ListingEntry
}

// Listing is a reference function listing from another build of the same
// sources. It supplies per-file function order and byte sizes.
type Listing struct {
	Files  []*ListingFile
	byName map[string]ListingEntry
}

func ParseListing(r io.Reader) (*Listing, error) {
	ret := &Listing{byName: make(map[string]ListingEntry)}
	var cur *ListingFile
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := reListingFile.FindStringSubmatch(line); m != nil {
			cur = &ListingFile{Path: strings.TrimSpace(m[1])}
			ret.Files = append(ret.Files, cur)
			continue
		}
		m := reListingFunc.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, err1 := strconv.ParseUint(m[1], 16, 32)
		size, err2 := strconv.ParseUint(m[2], 16, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		e := ListingEntry{Name: m[3], Addr: uint32(addr), Size: uint32(size)}
		if cur != nil {
			e.File = cur.Path
			cur.Functions = append(cur.Functions, e)
		}
		ret.byName[e.Name] = e
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return ret, nil
}

func (l *Listing) Lookup(name string) (ListingEntry, bool) {
	e, ok := l.byName[name]
	return e, ok
}

func (l *Listing) Sizes() map[string]uint32 {
	ret := make(map[string]uint32, len(l.byName))
	for name, e := range l.byName {
		ret[name] = e.Size
	}
	return ret
}

// SizesFromObjects collects defined function sizes from compiled objects.
// The first object defining a name wins.
func SizesFromObjects(objs []*elf.Object) map[string]uint32 {
	ret := make(map[string]uint32)
	for _, obj := range objs {
		for _, sym := range obj.Symbols() {
			if !sym.IsFunc() || !sym.IsDefined() || sym.Size == 0 || sym.Name == "" {
				continue
			}
			if _, ok := ret[sym.Name]; !ok {
				ret[sym.Name] = sym.Size
			}
		}
	}
	return ret
}
