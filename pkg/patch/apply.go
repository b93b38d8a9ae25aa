package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/syms"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

type Status string

const (
	StatusPatched Status = "patched"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

type Options struct {
	Pad elf.PadMode
	// MatchDemangled lets object entries resolve by demangled name.
	MatchDemangled bool
}

type EntryResult struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Size     uint32 `json:"size"`
	Kind     Kind   `json:"kind"`
	Status   Status `json:"status"`
	Symbol   string `json:"symbol,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Padded   uint32 `json:"padded,omitempty"`
	Reason   string `json:"reason,omitempty"`

	err error
}

type KindStats struct {
	Entries int    `json:"entries"`
	Bytes   uint64 `json:"bytes"`
}

// Report summarizes one patch run.
type Report struct {
	Total                int                 `json:"total_entries"`
	Patched              int                 `json:"patched_entries"`
	Skipped              int                 `json:"skipped_entries"`
	Errors               int                 `json:"error_entries"`
	PatchedBytes         uint64              `json:"patched_bytes"`
	Kinds                map[Kind]*KindStats `json:"kinds"`
	OutDigest            string              `json:"out_xxhash64"`
	RefDigest            string              `json:"ref_xxhash64"`
	IdenticalToReference bool                `json:"identical_to_reference"`
	Entries              []EntryResult       `json:"entries"`
}

func (r *Report) Write(w io.Writer) error { return writeJSON(w, r) }

type Result struct {
	Image  *dol.Image
	Report *Report
}

// Err aggregates the entries that failed. Skipped entries are not errors.
func (r *Result) Err() error {
	var ret *multierror.Error
	for _, e := range lo.Filter(r.Report.Entries, func(e EntryResult, _ int) bool { return e.Status == StatusError }) {
		ret = multierror.Append(ret, fmt.Errorf("%s at %s: %w", e.Name, e.Address, e.err))
	}
	return ret.ErrorOrNil()
}

func Digest(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

type span struct {
	name       string
	start, end uint64
}

// Apply writes every entry into a copy of img. A failing entry is reported
// and left out; the others are still applied.
func Apply(img *dol.Image, entries []Entry, src Source, opts Options) (*Result, error) {
	if img == nil {
		return nil, errors.New("apply: no reference image")
	}
	w := img.NewWriter()
	report := &Report{Total: len(entries), Kinds: make(map[Kind]*KindStats)}
	var done []span

	for i := range entries {
		e := &entries[i]
		res := EntryResult{Name: e.Name, Address: syms.FormatAddr(e.Address), Size: e.Size, Kind: e.Kind}
		fail := func(status Status, err error) {
			res.Status, res.Reason, res.err = status, err.Error(), err
			if status == StatusSkipped {
				glog.Warningf("Skipping %s at %s: %v", e.Name, res.Address, err)
			} else {
				glog.Errorf("Entry %s at %s failed: %v", e.Name, res.Address, err)
			}
		}

		off, err := img.OffsetOf(e.Address, e.Size)
		if err != nil {
			fail(StatusSkipped, err)
			report.Entries = append(report.Entries, res)
			continue
		}
		cur := span{e.Name, uint64(e.Address), uint64(e.Address) + uint64(e.Size)}
		if prev, ok := lo.Find(done, func(s span) bool { return s.start < cur.end && cur.start < s.end }); ok {
			fail(StatusError, fmt.Errorf("overlaps entry %s", prev.name))
			report.Entries = append(report.Entries, res)
			continue
		}

		data, err := entryBytes(e, src, opts, &res)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fail(StatusSkipped, err)
		case err != nil:
			fail(StatusError, err)
		default:
			if err := w.WriteAt(off, data); err != nil {
				fail(StatusError, err)
				break
			}
			res.Status = StatusPatched
			done = append(done, cur)
			stats := report.Kinds[e.Kind]
			if stats == nil {
				stats = &KindStats{}
				report.Kinds[e.Kind] = stats
			}
			stats.Entries++
			stats.Bytes += uint64(e.Size)
			report.PatchedBytes += uint64(e.Size)
			glog.V(1).Infof("Patched %s at %s (%d bytes, %s)", e.Name, res.Address, e.Size, e.Kind)
		}
		report.Entries = append(report.Entries, res)
	}

	out := w.Image()
	counts := lo.CountValuesBy(report.Entries, func(e EntryResult) Status { return e.Status })
	report.Patched, report.Skipped, report.Errors = counts[StatusPatched], counts[StatusSkipped], counts[StatusError]
	report.OutDigest = Digest(out.Data())
	report.RefDigest = Digest(img.Data())
	report.IdenticalToReference = bytes.Equal(out.Data(), img.Data())
	glog.Infof("Patched %d/%d entries (%d skipped, %d errors), identical to reference: %v",
		report.Patched, report.Total, report.Skipped, report.Errors, report.IdenticalToReference)
	return &Result{Image: out, Report: report}, nil
}

func entryBytes(e *Entry, src Source, opts Options, res *EntryResult) ([]byte, error) {
	if e.Kind == KindObject {
		if src == nil {
			return nil, errors.New("no object source")
		}
		obj, err := src.Object(e.Object)
		if err != nil {
			return nil, err
		}
		sb, err := obj.SymbolBytes(e.symbol(), e.Size, elf.BytesOptions{Pad: opts.Pad, MatchDemangled: opts.MatchDemangled})
		if err != nil {
			return nil, err
		}
		res.Symbol, res.Fallback, res.Padded = sb.Symbol, sb.Fallback, sb.Padded
		return sb.Data, nil
	}

	data := e.Blob
	if data == nil {
		if src == nil {
			return nil, errors.New("no blob source")
		}
		var err error
		if data, err = src.Blob(e.BlobPath); err != nil {
			return nil, err
		}
	}
	have := uint32(len(data))
	if have > e.Size {
		return nil, fmt.Errorf("blob has %d bytes, entry size is %d", have, e.Size)
	}
	if have == e.Size {
		return data, nil
	}
	if opts.Pad == elf.PadError {
		return nil, fmt.Errorf("blob has %d bytes, want %d", have, e.Size)
	}
	out := make([]byte, e.Size)
	copy(out, data)
	res.Padded = e.Size - have
	return out, nil
}
