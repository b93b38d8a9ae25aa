package evidence

import "strings"

// dumpSkipCalls holds identifiers that look like calls in decompiler output
// but are language keywords, types or decompiler intrinsics.
var dumpSkipCalls = toSet(
	"if", "while", "for", "switch", "return", "else", "do", "sizeof",
	"void", "int", "char", "short", "long", "float", "double",
	"unsigned", "signed", "uint", "bool", "true", "false", "null",
	"NULL", "undefined", "undefined4", "undefined2", "undefined8",
	"CONCAT44", "CONCAT22", "CONCAT11", "SUB41", "SUB42", "SUB81",
	"SEXT14", "SEXT12", "SEXT24", "SEXT48", "ZEXT14", "ZEXT24",
	"sync", "returnFromInterrupt", "dcbi", "icbi",
	"struct", "enum", "union", "const", "volatile", "static",
	"goto", "case", "break", "continue", "default",
)

// unresolvedPrefixes mark decompiler labels for things that have no name yet.
var unresolvedPrefixes = []string{"FUN_", "thunk_FUN_", "LAB_", "DAT_", "PTR_", "switchD_"}

var sourceKeywords = toSet(
	"if", "while", "for", "switch", "return", "else", "do", "sizeof",
	"struct", "typedef", "enum", "union", "case", "break", "continue",
	"goto", "default", "volatile", "const", "static", "extern",
	"inline", "register", "defined",
)

func toSet(items ...string) map[string]struct{} {
	ret := make(map[string]struct{}, len(items))
	for _, it := range items {
		ret[it] = struct{}{}
	}
	return ret
}

func isUnresolved(name string) bool {
	for _, p := range unresolvedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// IsDumpCallName reports whether an identifier seen before "(" in a
// decompiler dump names a real, resolved function.
func IsDumpCallName(name string) bool {
	if _, ok := dumpSkipCalls[name]; ok {
		return false
	}
	return !isUnresolved(name)
}

func IsSourceKeyword(name string) bool {
	_, ok := sourceKeywords[name]
	return ok
}
