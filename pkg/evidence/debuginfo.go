package evidence

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

var (
	reCompileUnit = regexp.MustCompile(`^//\s*Compile unit:\s*(.+)$`)
	reDebugFunc   = regexp.MustCompile(`^(?:static\s+)?(?:inline\s+)?([\w\s*]+?)\s+(\w+)\s*\(([^)]*)\)\s*\{$`)
	reDebugLabel  = regexp.MustCompile(`^\s+(\w+):\s*//\s*0[xX]([0-9a-fA-F]+)`)
	reDebugLocal  = regexp.MustCompile(`^\s+([\w\s*\[\]]+?)\s+(\w+(?:\[\d+\])?)\s*;\s*//\s*(\S+)`)
	reDebugLocal2 = regexp.MustCompile(`^\s+([\w\s*\[\]]+?)\s+(\w+(?:\[\d+\])?)\s*;`)
	reDebugParam  = regexp.MustCompile(`([\w\s*]+?)\s+(\w+)\s*/\*\s*(\w+)\s*\*/`)
)

// DebugInfo is the parsed debug-info text dump.
type DebugInfo struct {
	Units     []CompileUnit
	Functions []*DebugFunction

	byName map[string]*DebugFunction
	labels map[uint32]string
}

func NewDebugInfo() *DebugInfo {
	return &DebugInfo{
		byName: make(map[string]*DebugFunction),
		labels: make(map[uint32]string),
	}
}

func (d *DebugInfo) Lookup(name string) (*DebugFunction, bool) {
	fn, ok := d.byName[name]
	return fn, ok
}

// LabelOwner returns the function that declares a label at addr.
func (d *DebugInfo) LabelOwner(addr uint32) (string, bool) {
	name, ok := d.labels[addr]
	return name, ok
}

func (d *DebugInfo) add(fn *DebugFunction) {
	d.Functions = append(d.Functions, fn)
	if _, ok := d.byName[fn.Name]; !ok {
		d.byName[fn.Name] = fn
	}
	for _, l := range fn.Labels {
		if _, ok := d.labels[l]; !ok {
			d.labels[l] = fn.Name
		}
	}
}

// ParseDebugInfo reads a text dump made of "// Compile unit: path" markers
// followed by C-like function bodies whose comments carry parameter
// registers, local variables and label addresses.
func ParseDebugInfo(r io.Reader) (*DebugInfo, error) {
	ret := NewDebugInfo()
	var (
		unit     string
		unitFns  []string
		cur      *DebugFunction
		depth    int
		inLocals bool
	)
	flushUnit := func() {
		if unit != "" && len(unitFns) > 0 {
			ret.Units = append(ret.Units, CompileUnit{Path: unit, Functions: unitFns})
		}
		unitFns = nil
	}
	finish := func() {
		ret.add(cur)
		unitFns = append(unitFns, cur.Name)
		cur = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := reCompileUnit.FindStringSubmatch(line); m != nil {
			if cur != nil {
				finish()
			}
			flushUnit()
			unit = strings.TrimSpace(m[1])
			continue
		}

		if cur == nil {
			if strings.HasPrefix(strings.TrimSpace(line), "//") {
				continue
			}
			if fn := parseDebugSignature(line); fn != nil {
				fn.CompileUnit = unit
				cur, depth, inLocals = fn, 1, false
			}
			continue
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 {
			finish()
			continue
		}
		switch {
		case strings.Contains(line, "// Local variables"):
			inLocals = true
			continue
		case strings.Contains(line, "// Labels"):
			inLocals = false
			continue
		}
		if m := reDebugLabel.FindStringSubmatch(line); m != nil {
			if addr, err := strconv.ParseUint(m[2], 16, 32); err == nil {
				cur.Labels = append(cur.Labels, uint32(addr))
			}
			continue
		}
		if !inLocals {
			continue
		}
		if m := reDebugLocal.FindStringSubmatch(line); m != nil {
			cur.addLocal(strings.TrimSpace(m[1]), strings.TrimSpace(m[2]))
			continue
		}
		if m := reDebugLocal2.FindStringSubmatch(line); m != nil {
			typ := strings.TrimSpace(m[1])
			if typ == "struct" || typ == "enum" || typ == "union" {
				continue
			}
			cur.addLocal(typ, strings.TrimSpace(m[2]))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan debug info: %w", err)
	}
	if cur != nil {
		glog.V(2).Infof("Debug info: function %s not closed at end of input", cur.Name)
		finish()
	}
	flushUnit()
	return ret, nil
}

func parseDebugSignature(line string) *DebugFunction {
	m := reDebugFunc.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	ret, name, params := strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
	switch name {
	case "struct", "enum", "union":
		return nil
	}
	// Inlined functions have no address of their own.
	if strings.Contains(strings.SplitN(line, name, 2)[0], "inline") {
		return nil
	}
	return &DebugFunction{Name: name, ReturnType: ret, Params: parseParams(params)}
}

func parseParams(s string) []Param {
	if s == "" || s == "void" {
		return nil
	}
	var ret []Param
	for _, m := range reDebugParam.FindAllStringSubmatch(s, -1) {
		ret = append(ret, Param{Name: strings.TrimSpace(m[2]), Type: strings.TrimSpace(m[1])})
	}
	if len(ret) > 0 {
		return ret
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "void" || part == "..." {
			continue
		}
		i := strings.LastIndexAny(part, " \t")
		if i < 0 {
			continue
		}
		ret = append(ret, Param{
			Name: strings.Trim(strings.TrimSpace(part[i+1:]), "*"),
			Type: strings.TrimSpace(part[:i]),
		})
	}
	return ret
}

func (f *DebugFunction) addLocal(typ, name string) {
	for _, l := range f.Locals {
		if l.Name == name && l.Type == typ {
			return
		}
	}
	f.Locals = append(f.Locals, Local{Name: name, Type: typ})
}
