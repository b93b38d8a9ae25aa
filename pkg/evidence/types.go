package evidence

import (
	"fmt"

	"github.com/samber/lo"
)

// StringRef is a string reference token of the form s_<label>_<addr>.
type StringRef struct {
	Label string
	Addr  uint32
}

// FunctionSignal is the evidence gathered for one binary function.
type FunctionSignal struct {
	Address uint32
	Size    uint32
	Name    string // name given by the function list, if any

	StringRefs  []StringRef
	DirectCalls []uint32 // call targets by address, first-seen order, self excluded
	NamedCalls  []string // resolved callee names, sorted
	BodyLines   int
}

func (f *FunctionSignal) String() string {
	return fmt.Sprintf("FUN_%08x", f.Address)
}

// StringAddrs returns the distinct referenced string addresses.
func (f *FunctionSignal) StringAddrs() []uint32 {
	return lo.Uniq(lo.Map(f.StringRefs, func(r StringRef, _ int) uint32 { return r.Addr }))
}

func (f *FunctionSignal) addDirectCall(addr uint32) {
	if addr == f.Address || lo.Contains(f.DirectCalls, addr) {
		return
	}
	f.DirectCalls = append(f.DirectCalls, addr)
}

func (f *FunctionSignal) addNamedCalls(names ...string) {
	if len(names) == 0 {
		return
	}
	f.NamedCalls = sortedUniq(append(f.NamedCalls, names...))
}

// SourceFunction is the evidence gathered for one named source function.
type SourceFunction struct {
	Name  string
	File  string // path relative to the source root, slash separated
	Order int    // declaration index inside File
	Line  int

	Literals  []string // distinct, in order of appearance
	Calls     []string // sorted, self and keywords excluded
	BodyLines int

	// Size in bytes when a listing or compiled objects provide it.
	Size uint32
}

func (f *SourceFunction) String() string {
	return fmt.Sprintf("%s (%s:%d)", f.Name, f.File, f.Line)
}

type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Local = Param

type DebugFunction struct {
	Name        string
	ReturnType  string
	Params      []Param
	Locals      []Local
	Labels      []uint32
	CompileUnit string
}

type CompileUnit struct {
	Path      string
	Functions []string // declaration order
}
