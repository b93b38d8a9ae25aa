package syms

import (
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

type SymbolTable interface {
	Resolve(addr uint32) string
}

type DemangleType string

const (
	DemangleNone       DemangleType = "NONE"
	DemangleSimplified DemangleType = "SIMPLIFIED"
	DemangleTemplates  DemangleType = "TEMPLATES"
	DemangleFull       DemangleType = "FULL"
)

func ParseDemangleType(s string) (DemangleType, error) {
	switch dt := DemangleType(strings.ToUpper(s)); dt {
	case DemangleNone, DemangleSimplified, DemangleTemplates, DemangleFull:
		return dt, nil
	case "":
		return DemangleNone, nil
	}
	return "", fmt.Errorf("unknown demangle type %q", s)
}

func (dt DemangleType) ToOptions() []demangle.Option {
	switch dt {
	case DemangleNone, "":
		return nil
	case DemangleSimplified:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	case DemangleTemplates:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	default:
		return []demangle.Option{demangle.NoClones}
	}
}

// Demangle returns name unchanged when it is not a mangled symbol.
func (dt DemangleType) Demangle(name string) string {
	opts := dt.ToOptions()
	if opts == nil {
		return name
	}
	return demangle.Filter(name, opts...)
}

type Symbol struct {
	Start uint32
	Size  uint32
	Name  string
}

func (s Symbol) End() uint64 { return uint64(s.Start) + uint64(s.Size) }

func (s Symbol) Contains(addr uint32) bool {
	return addr >= s.Start && uint64(addr) < s.End()
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s@%08x+%#x", s.Name, s.Start, s.Size)
}
