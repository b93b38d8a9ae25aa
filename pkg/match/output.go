package match

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the outcome of one engine run.
type Result struct {
	Records     []Record // ascending address, ground truth included
	Diagnostics []Diagnostic
	Passes      []PassStats

	truth map[uint32]bool
}

// NameMap returns every record as an address to name map.
func (r *Result) NameMap() syms.NameMap {
	ret := make(syms.NameMap, len(r.Records))
	for _, rec := range r.Records {
		ret[rec.Address] = rec.Name
	}
	return ret
}

// Discovered returns the records not seeded from ground truth.
func (r *Result) Discovered() []Record {
	return lo.Filter(r.Records, func(rec Record, _ int) bool { return !r.truth[rec.Address] })
}

func (r *Result) CountByStrategy() map[StrategyID]int {
	return lo.CountValuesBy(r.Records, func(rec Record) StrategyID { return rec.Strategy })
}

type ProvenanceEntry struct {
	Address  string     `json:"address"`
	Name     string     `json:"name"`
	Strategy StrategyID `json:"strategy"`
	Evidence string     `json:"evidence"`
	Pass     int        `json:"pass"`
}

// Provenance lists how each discovered record was found, ascending by
// address.
func (r *Result) Provenance() []ProvenanceEntry {
	return lo.Map(r.Discovered(), func(rec Record, _ int) ProvenanceEntry {
		return ProvenanceEntry{
			Address:  syms.FormatAddr(rec.Address),
			Name:     rec.Name,
			Strategy: rec.Strategy,
			Evidence: rec.Evidence,
			Pass:     rec.Pass,
		}
	})
}

func (r *Result) WriteNameMap(w io.Writer) error {
	return r.NameMap().Write(w)
}

func (r *Result) WriteProvenance(w io.Writer) error {
	return writeJSON(w, r.Provenance())
}

type ParamsEntry struct {
	Params []evidence.Param `json:"params,omitempty"`
	Locals []evidence.Local `json:"locals,omitempty"`
}

// ParamsMap collects debug-info parameters and locals for every matched
// name that has any.
func ParamsMap(debug *evidence.DebugInfo, r *Result) map[string]ParamsEntry {
	ret := make(map[string]ParamsEntry)
	if debug == nil {
		return ret
	}
	for _, rec := range r.Records {
		fn, ok := debug.Lookup(rec.Name)
		if !ok || (len(fn.Params) == 0 && len(fn.Locals) == 0) {
			continue
		}
		ret[rec.Name] = ParamsEntry{Params: fn.Params, Locals: fn.Locals}
	}
	return ret
}

func (r *Result) WriteParams(w io.Writer, debug *evidence.DebugInfo) error {
	return writeJSON(w, ParamsMap(debug, r))
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

func (r *Result) WriteDiagnostics(w io.Writer) error {
	return writeJSON(w, r.Diagnostics)
}
