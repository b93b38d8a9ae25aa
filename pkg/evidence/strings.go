package evidence

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang/glog"
)

var reStringLine = regexp.MustCompile(`^([0-9a-fA-F]+):\s+(.*)$`)

// StringTable maps string addresses in the image to their decoded text.
type StringTable struct {
	text   map[uint32]string
	byText map[string][]uint32
}

func NewStringTable(entries map[uint32]string) *StringTable {
	this := &StringTable{
		text:   make(map[uint32]string, len(entries)),
		byText: make(map[string][]uint32),
	}
	for addr, text := range entries {
		this.text[addr] = text
		this.byText[text] = append(this.byText[text], addr)
	}
	for _, addrs := range this.byText {
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	}
	return this
}

// ParseStrings reads "addr: text" lines. Lines of any other shape are
// skipped.
func ParseStrings(r io.Reader) (*StringTable, error) {
	entries := make(map[uint32]string)
	var skipped int
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		m := reStringLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			skipped++
			continue
		}
		addr, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			skipped++
			continue
		}
		entries[uint32(addr)] = m[2]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan strings: %w", err)
	}
	if skipped > 0 {
		glog.V(2).Infof("Strings: skipped %d malformed lines", skipped)
	}
	return NewStringTable(entries), nil
}

func (t *StringTable) Len() int { return len(t.text) }

func (t *StringTable) Text(addr uint32) (string, bool) {
	s, ok := t.text[addr]
	return s, ok
}

// Lookup returns the addresses holding exactly text, ascending.
func (t *StringTable) Lookup(text string) []uint32 { return t.byText[text] }

// Addresses returns every string address in ascending order.
func (t *StringTable) Addresses() []uint32 {
	ret := make([]uint32, 0, len(t.text))
	for addr := range t.text {
		ret = append(ret, addr)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}
