package evidence

import (
	"regexp"
	"strings"
)

const DefaultMinLiteralLen = 3

var (
	reSourceCall  = regexp.MustCompile(`\b([A-Za-z_]\w+)\s*\(`)
	reHeaderIdent = regexp.MustCompile(`([A-Za-z_]\w*)\s*$`)
)

type literal struct {
	pos  int
	text string // raw contents between the quotes
}

// masked is the source text with comments, preprocessor lines and literal
// contents blanked out. Offsets and line breaks are preserved.
type masked struct {
	code     []byte
	literals []literal
}

func maskSource(text string) *masked {
	code := []byte(text)
	ret := &masked{code: code}
	blank := func(i int) {
		if code[i] != '\n' {
			code[i] = ' '
		}
	}

	lineStart := true
	for i := 0; i < len(code); {
		c := code[i]
		switch {
		case lineStart && c == '#':
			// Preprocessor line, including backslash continuations.
			for i < len(code) && !(code[i] == '\n' && (i == 0 || text[i-1] != '\\')) {
				blank(i)
				i++
			}
			continue
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			for i < len(code) && code[i] != '\n' {
				blank(i)
				i++
			}
			continue
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			blank(i)
			blank(i + 1)
			i += 2
			for i < len(code) && !(code[i] == '*' && i+1 < len(code) && code[i+1] == '/') {
				blank(i)
				i++
			}
			if i < len(code) {
				blank(i)
				blank(i + 1)
				i += 2
			}
			continue
		case c == '"' || c == '\'':
			start := i + 1
			i++
			for i < len(code) && code[i] != c && code[i] != '\n' {
				if code[i] == '\\' && i+1 < len(code) {
					blank(i)
					i++
				}
				blank(i)
				i++
			}
			if c == '"' {
				ret.literals = append(ret.literals, literal{pos: start - 1, text: text[start:i]})
			}
			if i < len(code) && code[i] == c {
				i++
			}
			lineStart = false
			continue
		}
		if c == '\n' {
			lineStart = true
		} else if c != ' ' && c != '\t' && c != '\r' {
			lineStart = false
		}
		i++
	}
	return ret
}

// ScanSource finds top-level function definitions in one C source file.
// path is recorded as-is on every result.
func ScanSource(path, text string, minLiteralLen int) []*SourceFunction {
	if minLiteralLen <= 0 {
		minLiteralLen = DefaultMinLiteralLen
	}
	m := maskSource(text)
	code := m.code

	var (
		ret         []*SourceFunction
		depth       int
		headerStart int
		open        int
		cur         *SourceFunction
	)
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '{':
			if depth == 0 {
				if name, pos, ok := definitionName(code[headerStart:i]); ok {
					cur = &SourceFunction{
						Name:  name,
						File:  path,
						Order: len(ret),
						Line:  1 + strings.Count(text[:headerStart+pos], "\n"),
					}
					open = i
				}
			}
			depth++
		case '}':
			if depth == 0 {
				headerStart = i + 1
				continue
			}
			depth--
			if depth == 0 {
				if cur != nil {
					fillBody(cur, text, m, open, i, minLiteralLen)
					ret = append(ret, cur)
					cur = nil
				}
				headerStart = i + 1
			}
		case ';':
			if depth == 0 {
				headerStart = i + 1
			}
		}
	}
	return ret
}

// definitionName returns the function name when header ends in
// "name ( ... )" and is not a keyword construct.
func definitionName(header []byte) (string, int, bool) {
	h := strings.TrimRight(string(header), " \t\r\n")
	if !strings.HasSuffix(h, ")") {
		return "", 0, false
	}
	level := 0
	i := len(h) - 1
	for ; i >= 0; i-- {
		if h[i] == ')' {
			level++
		} else if h[i] == '(' {
			level--
			if level == 0 {
				break
			}
		}
	}
	if i <= 0 {
		return "", 0, false
	}
	if strings.ContainsAny(h[:i], "=") {
		return "", 0, false
	}
	loc := reHeaderIdent.FindStringSubmatchIndex(h[:i])
	if loc == nil {
		return "", 0, false
	}
	name := h[loc[2]:loc[3]]
	if IsSourceKeyword(name) {
		return "", 0, false
	}
	return name, loc[2], true
}

func fillBody(fn *SourceFunction, text string, m *masked, open, close, minLiteralLen int) {
	fn.BodyLines = strings.Count(text[open:close+1], "\n") + 1

	seen := make(map[string]bool)
	for _, lit := range m.literals {
		if lit.pos <= open || lit.pos >= close {
			continue
		}
		if len(lit.text) < minLiteralLen || seen[lit.text] {
			continue
		}
		seen[lit.text] = true
		fn.Literals = append(fn.Literals, lit.text)
	}

	calls := make(map[string]struct{})
	for _, c := range reSourceCall.FindAllSubmatch(m.code[open:close+1], -1) {
		name := string(c[1])
		if name == fn.Name || IsSourceKeyword(name) {
			continue
		}
		calls[name] = struct{}{}
	}
	fn.Calls = sortedKeys(calls)
}
