package patch

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind selects where the bytes of an entry come from.
type Kind string

const (
	// KindObject takes a symbol from a compiled relocatable object.
	KindObject Kind = "c_obj"
	// KindAsm takes raw bytes assembled or extracted beforehand.
	KindAsm Kind = "asm_bin"
	// KindBlob takes raw bytes from any other source.
	KindBlob Kind = "blob"
)

func (k Kind) valid() bool {
	return k == KindObject || k == KindAsm || k == KindBlob
}

// Entry is one function-sized range to overwrite.
type Entry struct {
	Name    string
	Address uint32
	Size    uint32
	Kind    Kind

	Object string // object path for KindObject
	Symbol string // defaults to Name

	Blob     []byte // inline bytes, preferred over BlobPath
	BlobPath string
}

func (e *Entry) symbol() string {
	if e.Symbol != "" {
		return e.Symbol
	}
	return e.Name
}

func (e *Entry) path() string {
	if e.Kind == KindObject {
		return e.Object
	}
	return e.BlobPath
}

type manifestEntry struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Size    uint32 `json:"size"`
	Kind    Kind   `json:"kind"`
	Symbol  string `json:"symbol,omitempty"`
	Path    string `json:"path"`
}

// LoadManifest reads a JSON list of entries. Every invalid entry is
// reported; none is loaded when any is invalid.
func LoadManifest(r io.Reader) ([]Entry, error) {
	var raw []manifestEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	var (
		ret  = make([]Entry, 0, len(raw))
		errs *multierror.Error
	)
	for i, m := range raw {
		addr, err := syms.ParseAddr(m.Address)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("entry %d (%s): %w", i, m.Name, err))
			continue
		}
		if m.Size == 0 {
			errs = multierror.Append(errs, fmt.Errorf("entry %d (%s): zero size", i, m.Name))
			continue
		}
		if m.Kind == "" {
			m.Kind = KindBlob
		}
		if !m.Kind.valid() {
			errs = multierror.Append(errs, fmt.Errorf("entry %d (%s): unknown kind %q", i, m.Name, m.Kind))
			continue
		}
		e := Entry{Name: m.Name, Address: addr, Size: m.Size, Kind: m.Kind, Symbol: m.Symbol}
		if m.Kind == KindObject {
			e.Object = m.Path
		} else {
			e.BlobPath = m.Path
		}
		ret = append(ret, e)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return ret, nil
}

func WriteManifest(w io.Writer, entries []Entry) error {
	raw := make([]manifestEntry, len(entries))
	for i, e := range entries {
		raw[i] = manifestEntry{
			Name:    e.Name,
			Address: fmt.Sprintf("0x%08X", e.Address),
			Size:    e.Size,
			Kind:    e.Kind,
			Symbol:  e.Symbol,
			Path:    e.path(),
		}
	}
	return writeJSON(w, raw)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
