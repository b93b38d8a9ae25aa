package match

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vietanhduong/dolmatch/pkg/syms"
)

var (
	ErrAddressTaken = errors.New("address already matched")
	ErrNameTaken    = errors.New("name already matched")
)

// State is the committed record set of one run. Addresses and names are
// each unique, and ground-truth records are never replaced.
type State struct {
	byAddr map[uint32]*Record
	byName map[string]uint32
	truth  map[uint32]bool
}

func NewState() *State {
	return &State{
		byAddr: make(map[uint32]*Record),
		byName: make(map[string]uint32),
		truth:  make(map[uint32]bool),
	}
}

// Seed loads ground truth. When a name appears at several addresses the
// lowest address keeps it and the others are reported.
func (s *State) Seed(truth syms.NameMap) []Diagnostic {
	var diags []Diagnostic
	for _, addr := range truth.Addresses() {
		name := truth[addr]
		err := s.commit(Record{Address: addr, Name: name, Strategy: StrategyGroundTruth, Evidence: "seed"})
		if err != nil {
			diags = append(diags, Diagnostic{
				Strategy: StrategyGroundTruth,
				Address:  syms.FormatAddr(addr),
				Name:     name,
				Message:  fmt.Sprintf("rejected ground truth %s -> %s: %v", syms.FormatAddr(addr), name, err),
			})
			continue
		}
		s.truth[addr] = true
	}
	return diags
}

// Commit adds r when both its address and its name are still free.
func (s *State) Commit(r Record) error {
	if r.Strategy == StrategyGroundTruth {
		return fmt.Errorf("commit %s: ground truth can only be seeded", r.Name)
	}
	return s.commit(r)
}

func (s *State) commit(r Record) error {
	if prev, ok := s.byAddr[r.Address]; ok {
		return fmt.Errorf("%s held by %s: %w", syms.FormatAddr(r.Address), prev.Name, ErrAddressTaken)
	}
	if addr, ok := s.byName[r.Name]; ok {
		return fmt.Errorf("%s held by %s: %w", r.Name, syms.FormatAddr(addr), ErrNameTaken)
	}
	rec := r
	s.byAddr[r.Address] = &rec
	s.byName[r.Name] = r.Address
	return nil
}

func (s *State) Len() int { return len(s.byAddr) }

func (s *State) Name(addr uint32) (string, bool) {
	r, ok := s.byAddr[addr]
	if !ok {
		return "", false
	}
	return r.Name, true
}

func (s *State) Address(name string) (uint32, bool) {
	addr, ok := s.byName[name]
	return addr, ok
}

func (s *State) HasAddress(addr uint32) bool {
	_, ok := s.byAddr[addr]
	return ok
}

func (s *State) HasName(name string) bool {
	_, ok := s.byName[name]
	return ok
}

func (s *State) IsTruth(addr uint32) bool { return s.truth[addr] }

// Records returns a copy of all records ordered by address.
func (s *State) Records() []Record {
	ret := make([]Record, 0, len(s.byAddr))
	for _, r := range s.byAddr {
		ret = append(ret, *r)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Address < ret[j].Address })
	return ret
}

// cleanup removes records whose name repeats, keeping ground truth first and
// then the lowest address.
func cleanup(records []Record, truth func(uint32) bool) ([]Record, []Diagnostic) {
	byName := make(map[string][]int)
	for i, r := range records {
		byName[r.Name] = append(byName[r.Name], i)
	}
	drop := make(map[int]bool)
	var diags []Diagnostic
	for name, idxs := range byName {
		if len(idxs) < 2 {
			continue
		}
		winner := idxs[0]
		for _, i := range idxs[1:] {
			wt, it := truth(records[winner].Address), truth(records[i].Address)
			if (it && !wt) || (it == wt && records[i].Address < records[winner].Address) {
				winner = i
			}
		}
		for _, i := range idxs {
			if i == winner {
				continue
			}
			drop[i] = true
			diags = append(diags, Diagnostic{
				Strategy: records[i].Strategy,
				Address:  syms.FormatAddr(records[i].Address),
				Name:     name,
				Message:  fmt.Sprintf("dropped duplicate %s at %s, kept %s", name, syms.FormatAddr(records[i].Address), syms.FormatAddr(records[winner].Address)),
			})
		}
	}
	ret := make([]Record, 0, len(records)-len(drop))
	for i, r := range records {
		if !drop[i] {
			ret = append(ret, r)
		}
	}
	sort.Slice(diags, func(i, j int) bool { return diags[i].Address < diags[j].Address })
	return ret, diags
}
