package match

import (
	"fmt"
	"strings"

	"github.com/vietanhduong/dolmatch/pkg/syms"
)

type StrategyID string

const (
	StrategyGroundTruth    StrategyID = "ground-truth"
	StrategyIdentifier     StrategyID = "identifier"
	StrategyLiteral        StrategyID = "literal"
	StrategyDebugLabel     StrategyID = "debug-label"
	StrategyXref           StrategyID = "xref"
	StrategyCallGraph      StrategyID = "callgraph"
	StrategyCalleeCoverage StrategyID = "callee-coverage"
	StrategyAnchor         StrategyID = "anchor"
	StrategySize           StrategyID = "size"
)

var allStrategies = []StrategyID{
	StrategyIdentifier,
	StrategyLiteral,
	StrategyDebugLabel,
	StrategyXref,
	StrategyCallGraph,
	StrategyCalleeCoverage,
	StrategyAnchor,
	StrategySize,
}

func isKnownStrategy(id StrategyID) bool {
	for _, s := range allStrategies {
		if strings.EqualFold(string(s), string(id)) {
			return true
		}
	}
	return false
}

// Record is one committed address to name correspondence.
type Record struct {
	Address  uint32
	Name     string
	Strategy StrategyID
	Evidence string
	Pass     int
}

func (r Record) String() string {
	return fmt.Sprintf("%s -> %s [%s] %s", syms.FormatAddr(r.Address), r.Name, r.Strategy, r.Evidence)
}

// Proposal is a candidate record produced by a strategy.
type Proposal struct {
	Address  uint32
	Name     string
	Evidence string
}

// Diagnostic explains a candidate that was not committed or a record that
// was dropped.
type Diagnostic struct {
	Strategy StrategyID `json:"strategy"`
	Address  string     `json:"address,omitempty"`
	Name     string     `json:"name,omitempty"`
	Message  string     `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s", d.Strategy, d.Message)
}

// AmbiguityError reports several equally supported candidates. Nothing is
// committed for the address or name involved.
type AmbiguityError struct {
	Strategy  StrategyID
	Address   uint32
	Names     []string
	Name      string
	Addresses []uint32
}

func (e *AmbiguityError) Error() string {
	if e.Name != "" {
		addrs := make([]string, len(e.Addresses))
		for i, a := range e.Addresses {
			addrs[i] = syms.FormatAddr(a)
		}
		return fmt.Sprintf("%s: name %s proposed for %d addresses: %s", e.Strategy, e.Name, len(addrs), strings.Join(addrs, ", "))
	}
	return fmt.Sprintf("%s: address %s has %d candidates: %s", e.Strategy, syms.FormatAddr(e.Address), len(e.Names), strings.Join(e.Names, ", "))
}

func (e *AmbiguityError) Diagnostic() Diagnostic {
	d := Diagnostic{Strategy: e.Strategy, Name: e.Name, Message: e.Error()}
	if e.Name == "" {
		d.Address = syms.FormatAddr(e.Address)
	}
	return d
}
