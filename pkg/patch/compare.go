package patch

import (
	"fmt"

	"github.com/vietanhduong/dolmatch/pkg/dol"
)

const (
	groupHeader   = "header"
	groupUnmapped = "unmapped"
)

// Run is a stretch of consecutive differing bytes.
type Run struct {
	Offset  uint32 `json:"offset"`
	Address uint32 `json:"address,omitempty"` // load address, 0 outside sections
	Length  uint32 `json:"length"`
}

type SectionDiff struct {
	Section    string `json:"section"`
	Mismatches int    `json:"mismatches"`
	Runs       []Run  `json:"runs"`
}

// Diff lists the differing bytes of two images grouped by the section that
// holds them.
type Diff struct {
	RefLen     int           `json:"ref_len"`
	CandLen    int           `json:"candidate_len"`
	Mismatches int           `json:"mismatches"`
	Sections   []SectionDiff `json:"sections"`
}

func (d *Diff) Equal() bool { return d.Mismatches == 0 && d.RefLen == d.CandLen }

// Compare reports every offset where ref and cand differ. Both must have
// the same length.
func Compare(ref, cand []byte, sections []dol.Section) (*Diff, error) {
	if len(ref) != len(cand) {
		return nil, fmt.Errorf("compare: length mismatch: reference %d bytes, candidate %d bytes", len(ref), len(cand))
	}
	return compare(ref, cand, func(off uint32) (string, uint32) { return locate(off, sections) }), nil
}

// CompareImages compares the common prefix of two images using the
// reference layout. A length difference is recorded, not an error.
func CompareImages(ref, cand *dol.Image) *Diff {
	a, b := ref.Data(), cand.Data()
	n := min(len(a), len(b))
	d := compare(a[:n], b[:n], func(off uint32) (string, uint32) { return locateIn(ref, off) })
	d.RefLen, d.CandLen = len(a), len(b)
	return d
}

func compare(ref, cand []byte, locate func(off uint32) (string, uint32)) *Diff {
	d := &Diff{RefLen: len(ref), CandLen: len(cand)}
	byName := make(map[string]int)
	open, lastOff := -1, -2
	for i := range ref {
		if ref[i] == cand[i] {
			continue
		}
		off := uint32(i)
		name, addr := locate(off)
		idx, ok := byName[name]
		if !ok {
			idx = len(d.Sections)
			byName[name] = idx
			d.Sections = append(d.Sections, SectionDiff{Section: name})
		}
		sd := &d.Sections[idx]
		sd.Mismatches++
		d.Mismatches++

		if open == idx && lastOff == i-1 {
			sd.Runs[len(sd.Runs)-1].Length++
		} else {
			sd.Runs = append(sd.Runs, Run{Offset: off, Address: addr, Length: 1})
		}
		open, lastOff = idx, i
	}
	return d
}

func locate(off uint32, sections []dol.Section) (string, uint32) {
	if off < dol.HeaderSize {
		return groupHeader, 0
	}
	for _, s := range sections {
		if s.ContainsOffset(off) {
			return s.Name(), s.Address + (off - s.Offset)
		}
	}
	return groupUnmapped, 0
}

func locateIn(img *dol.Image, off uint32) (string, uint32) {
	if off < dol.HeaderSize {
		return groupHeader, 0
	}
	s, ok := img.SectionAtOffset(off)
	if !ok {
		return groupUnmapped, 0
	}
	addr, _ := img.AddressOf(off)
	return s.Name(), addr
}
