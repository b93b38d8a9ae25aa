package match

import (
	"fmt"
	"regexp"
	"strconv"
)

// identifierStrategy matches functions referencing a message that starts
// with a source function name, such as "NuVecAdd : bad vector".
type identifierStrategy struct {
	patterns []*regexp.Regexp
}

func newIdentifierStrategy(minLen int) *identifierStrategy {
	if minLen < 1 {
		minLen = 1
	}
	n := strconv.Itoa(minLen)
	return &identifierStrategy{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^(\w{` + n + `,})\s*:(?:\s|$)`),
		regexp.MustCompile(`^(\w{` + n + `,})\s+-(?:\s|$)`),
		regexp.MustCompile(`^(\w{` + n + `,})\s*\(\)\s*:`),
	}}
}

func (s *identifierStrategy) ID() StrategyID { return StrategyIdentifier }

func (s *identifierStrategy) Propose(ctx *Context) []Proposal {
	var ret []Proposal
	for _, fn := range ctx.Unmatched() {
		for _, ref := range fn.StringRefs {
			text := ctx.Evidence.StringText(ref)
			for _, re := range s.patterns {
				m := re.FindStringSubmatch(text)
				if m == nil {
					continue
				}
				if ctx.IsSourceName(m[1]) {
					ret = append(ret, Proposal{
						Address:  fn.Address,
						Name:     m[1],
						Evidence: fmt.Sprintf("string %q at %08x", clip(text), ref.Addr),
					})
				}
				break
			}
		}
	}
	return ret
}

var reIdentToken = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// literalStrategy matches functions referencing a string that mentions
// exactly one source function name as a whole word.
type literalStrategy struct{}

func (s *literalStrategy) ID() StrategyID { return StrategyLiteral }

func (s *literalStrategy) Propose(ctx *Context) []Proposal {
	cfg := ctx.Config
	var ret []Proposal
	for _, fn := range ctx.Unmatched() {
		for _, ref := range fn.StringRefs {
			text := ctx.Evidence.StringText(ref)
			if len(text) < cfg.LiteralStringMinLen {
				continue
			}
			found := make(map[string]bool)
			for _, tok := range reIdentToken.FindAllString(text, -1) {
				if len(tok) >= cfg.LiteralNameMinLen && ctx.IsSourceName(tok) {
					found[tok] = true
				}
			}
			if len(found) != 1 {
				continue
			}
			for name := range found {
				ret = append(ret, Proposal{
					Address:  fn.Address,
					Name:     name,
					Evidence: fmt.Sprintf("only name in string %q", clip(text)),
				})
			}
		}
	}
	return ret
}

func clip(s string) string {
	const max = 50
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
