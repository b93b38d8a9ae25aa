package syms

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NameMap maps function addresses to names. It is the format of both the
// ground-truth input and the emitted map: a JSON object keyed by 8-digit
// lowercase hex addresses.
type NameMap map[uint32]string

func FormatAddr(addr uint32) string { return fmt.Sprintf("%08x", addr) }

// ParseAddr accepts "80003100", "0x80003100" and "FUN_80003100".
func ParseAddr(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "FUN_")
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}
	return uint32(v), nil
}

func ReadNameMap(r io.Reader) (NameMap, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode name map: %w", err)
	}
	ret := make(NameMap, len(raw))
	for k, name := range raw {
		addr, err := ParseAddr(k)
		if err != nil {
			glog.Warningf("Skipping name map entry %q: %v", k, err)
			continue
		}
		if name == "" {
			glog.Warningf("Skipping name map entry %q: empty name", k)
			continue
		}
		ret[addr] = name
	}
	return ret, nil
}

func LoadNameMap(path string) (NameMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open name map %s: %w", path, err)
	}
	defer f.Close()
	return ReadNameMap(f)
}

// Addresses returns the keys in ascending order.
func (m NameMap) Addresses() []uint32 {
	ret := make([]uint32, 0, len(m))
	for addr := range m {
		ret = append(ret, addr)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

func (m NameMap) MarshalJSON() ([]byte, error) {
	raw := make(map[string]string, len(m))
	for addr, name := range m {
		raw[FormatAddr(addr)] = name
	}
	return json.Marshal(raw)
}

func (m NameMap) Write(w io.Writer) error {
	raw := make(map[string]string, len(m))
	for addr, name := range m {
		raw[FormatAddr(addr)] = name
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal name map: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
