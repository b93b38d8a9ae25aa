package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/match"
	"github.com/vietanhduong/dolmatch/pkg/patch"
	"github.com/vietanhduong/dolmatch/pkg/syms"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
	"gopkg.in/yaml.v3"
)

type Evidence struct {
	// Extensions of source files to scan.
	Extensions    []string `yaml:"extensions"`
	MinLiteralLen int      `yaml:"min_literal_len"`
	// PathPrefixes are stripped from source paths found in strings and
	// in the debug info.
	PathPrefixes []string `yaml:"path_prefixes"`
	PathMarker   string   `yaml:"path_marker"`
	// DecodeCalls adds branch targets decoded from the image to the call
	// evidence when an image is given.
	DecodeCalls bool `yaml:"decode_calls"`
}

type Patch struct {
	Pad            string `yaml:"pad"`
	MatchDemangled bool   `yaml:"match_demangled"`
	Demangle       string `yaml:"demangle"`
}

// Config is the file configuration of every command. Command line flags
// take precedence over it.
type Config struct {
	Match    match.Config `yaml:"match"`
	Evidence Evidence     `yaml:"evidence"`
	Patch    Patch        `yaml:"patch"`
}

func Default() Config {
	ev := evidence.DefaultOptions()
	return Config{
		Match: match.DefaultConfig(),
		Evidence: Evidence{
			Extensions:    ev.Sources.Extensions,
			MinLiteralLen: ev.Sources.MinLiteralLen,
			PathPrefixes:  ev.Sources.PathPrefixes,
			PathMarker:    ev.PathMarker,
			DecodeCalls:   true,
		},
		Patch: Patch{
			Pad:      elf.PadError.String(),
			Demangle: string(syms.DemangleNone),
		},
	}
}

// Parse reads YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the config file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error
	if err := c.Match.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Evidence.MinLiteralLen < 1 {
		result = multierror.Append(result, fmt.Errorf("evidence.min_literal_len must be positive, got %d", c.Evidence.MinLiteralLen))
	}
	if len(c.Evidence.Extensions) == 0 {
		result = multierror.Append(result, errors.New("evidence.extensions must not be empty"))
	}
	if _, err := elf.ParsePadMode(c.Patch.Pad); err != nil {
		result = multierror.Append(result, fmt.Errorf("patch.pad: %w", err))
	}
	if _, err := syms.ParseDemangleType(c.Patch.Demangle); err != nil {
		result = multierror.Append(result, fmt.Errorf("patch.demangle: %w", err))
	}
	return result.ErrorOrNil()
}

// EvidenceOptions converts the evidence section. img may be nil.
func (c *Config) EvidenceOptions(img *dol.Image) evidence.Options {
	opts := evidence.Options{
		Sources: evidence.WalkOptions{
			Extensions:    c.Evidence.Extensions,
			MinLiteralLen: c.Evidence.MinLiteralLen,
			PathPrefixes:  c.Evidence.PathPrefixes,
		},
		PathMarker: c.Evidence.PathMarker,
	}
	if c.Evidence.DecodeCalls {
		opts.Image = img
	}
	return opts
}

func (c *Config) PatchOptions() (patch.Options, error) {
	pad, err := elf.ParsePadMode(c.Patch.Pad)
	if err != nil {
		return patch.Options{}, err
	}
	return patch.Options{Pad: pad, MatchDemangled: c.Patch.MatchDemangled}, nil
}

func (c *Config) ObjectOptions() (*elf.ObjectOptions, error) {
	dt, err := syms.ParseDemangleType(c.Patch.Demangle)
	if err != nil {
		return nil, err
	}
	return &elf.ObjectOptions{Demangle: dt}, nil
}
