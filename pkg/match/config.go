package match

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

type CallGraphConfig struct {
	MinCallees     int     `yaml:"min_callees"`
	MinOverlap     int     `yaml:"min_overlap"`
	MinScore       float64 `yaml:"min_score"`
	MinMargin      float64 `yaml:"min_margin"`
	JaccardWeight  float64 `yaml:"jaccard_weight"`
	CoverageWeight float64 `yaml:"coverage_weight"`
}

type CalleeCoverageConfig struct {
	MinOverlap    int     `yaml:"min_overlap"`
	MinScore      float64 `yaml:"min_score"`
	MinMargin     float64 `yaml:"min_margin"`
	MaxUnresolved float64 `yaml:"max_unresolved"`
}

type AnchorConfig struct {
	MinSizeRatio  float64 `yaml:"min_size_ratio"`
	MaxSizeRatio  float64 `yaml:"max_size_ratio"`
	EdgeExtension int     `yaml:"edge_extension"`
}

// Config holds the thresholds of every strategy. The defaults were tuned on
// one game and are expected to need adjustment for others.
type Config struct {
	IdentifierMinLen    int                  `yaml:"identifier_min_len"`
	LiteralNameMinLen   int                  `yaml:"literal_name_min_len"`
	LiteralStringMinLen int                  `yaml:"literal_string_min_len"`
	XrefMinOverlap      int                  `yaml:"xref_min_overlap"`
	CallGraph           CallGraphConfig      `yaml:"call_graph"`
	CalleeCoverage      CalleeCoverageConfig `yaml:"callee_coverage"`
	Anchor              AnchorConfig         `yaml:"anchor"`
	UniqueSizeFloor     uint32               `yaml:"unique_size_floor"`
	MaxIterations       int                  `yaml:"max_iterations"`
	// Disabled lists strategy IDs that are not run.
	Disabled []StrategyID `yaml:"disabled"`
}

func DefaultConfig() Config {
	return Config{
		IdentifierMinLen:    4,
		LiteralNameMinLen:   5,
		LiteralStringMinLen: 4,
		XrefMinOverlap:      1,
		CallGraph: CallGraphConfig{
			MinCallees:     2,
			MinOverlap:     2,
			MinScore:       0.30,
			MinMargin:      0.10,
			JaccardWeight:  0.4,
			CoverageWeight: 0.6,
		},
		CalleeCoverage: CalleeCoverageConfig{
			MinOverlap:    2,
			MinScore:      0.35,
			MinMargin:     0.08,
			MaxUnresolved: 0.6,
		},
		Anchor: AnchorConfig{
			MinSizeRatio:  0.1,
			MaxSizeRatio:  10,
			EdgeExtension: 30,
		},
		UniqueSizeFloor: 32,
		MaxIterations:   4,
	}
}

func (c *Config) Validate() error {
	var result *multierror.Error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}
	check(c.IdentifierMinLen >= 1, "identifier_min_len must be positive, got %d", c.IdentifierMinLen)
	check(c.LiteralNameMinLen >= 1, "literal_name_min_len must be positive, got %d", c.LiteralNameMinLen)
	check(c.LiteralStringMinLen >= 1, "literal_string_min_len must be positive, got %d", c.LiteralStringMinLen)
	check(c.XrefMinOverlap >= 1, "xref_min_overlap must be positive, got %d", c.XrefMinOverlap)
	check(c.CallGraph.MinOverlap >= 1, "call_graph.min_overlap must be positive, got %d", c.CallGraph.MinOverlap)
	check(c.CallGraph.MinScore >= 0 && c.CallGraph.MinScore <= 1,
		"call_graph.min_score must be within [0, 1], got %v", c.CallGraph.MinScore)
	check(c.CallGraph.MinMargin >= 0, "call_graph.min_margin must not be negative")
	check(c.CallGraph.JaccardWeight >= 0 && c.CallGraph.CoverageWeight >= 0 &&
		c.CallGraph.JaccardWeight+c.CallGraph.CoverageWeight > 0, "call_graph weights must be non-negative and not both zero")
	check(c.CalleeCoverage.MinOverlap >= 1, "callee_coverage.min_overlap must be positive, got %d", c.CalleeCoverage.MinOverlap)
	check(c.CalleeCoverage.MinScore >= 0 && c.CalleeCoverage.MinScore <= 1,
		"callee_coverage.min_score must be within [0, 1], got %v", c.CalleeCoverage.MinScore)
	check(c.CalleeCoverage.MaxUnresolved >= 0 && c.CalleeCoverage.MaxUnresolved <= 1,
		"callee_coverage.max_unresolved must be within [0, 1], got %v", c.CalleeCoverage.MaxUnresolved)
	check(c.Anchor.MinSizeRatio > 0 && c.Anchor.MinSizeRatio < c.Anchor.MaxSizeRatio,
		"anchor size ratio bounds invalid: (%v, %v)", c.Anchor.MinSizeRatio, c.Anchor.MaxSizeRatio)
	check(c.Anchor.EdgeExtension >= 0, "anchor.edge_extension must not be negative")
	check(c.MaxIterations >= 0, "max_iterations must not be negative")
	for _, id := range c.Disabled {
		check(isKnownStrategy(id), "unknown strategy %q", id)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid match config: %w", err)
	}
	return nil
}

func (c *Config) enabled(id StrategyID) bool {
	for _, d := range c.Disabled {
		if strings.EqualFold(string(d), string(id)) {
			return false
		}
	}
	return true
}
