package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/match"
	"github.com/vietanhduong/dolmatch/pkg/syms"
)

type matchOptions struct {
	paths       evidence.Paths
	image       string
	groundTruth string
	out         string
	provenance  string
	params      string
	diagnostics string
}

func newMatchCmd(global *globalOptions) *cobra.Command {
	opts := &matchOptions{}
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Name anonymous functions by correlating binary and source evidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.paths.Dump, "dump", "", "decompiler dump with one record per function")
	f.StringVar(&opts.paths.Strings, "strings", "", "string table, one \"address: text\" per line")
	f.StringVar(&opts.paths.Functions, "functions", "", "JSON function list with sizes and calls")
	f.StringVar(&opts.paths.Sources, "sources", "", "source tree to index")
	f.StringVar(&opts.paths.DebugInfo, "debug-info", "", "debug-info text dump")
	f.StringVar(&opts.paths.Listing, "listing", "", "compiler listing with source function sizes")
	f.StringVar(&opts.paths.Objects, "objects", "", "directory of compiled objects used for source sizes")
	f.StringVar(&opts.image, "image", "", "DOL image used to decode call targets")
	f.StringVar(&opts.groundTruth, "ground-truth", "", "JSON name map of already known functions")
	f.StringVar(&opts.out, "out", "-", "output name map")
	f.StringVar(&opts.provenance, "provenance", "", "output file for the per-record provenance")
	f.StringVar(&opts.params, "params", "", "output file for parameter names of matched functions")
	f.StringVar(&opts.diagnostics, "diagnostics", "", "output file for rejected candidates")
	return cmd
}

func runMatch(cmd *cobra.Command, global *globalOptions, opts *matchOptions) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	if opts.paths.Dump == "" && opts.paths.Functions == "" {
		return fmt.Errorf("one of --dump or --functions is required")
	}

	var img *dol.Image
	if opts.image != "" {
		if img, err = dol.Open(opts.image); err != nil {
			return err
		}
		defer img.Close()
	}

	set, err := evidence.Load(cmd.Context(), afero.NewOsFs(), opts.paths, cfg.EvidenceOptions(img))
	if err != nil {
		return fmt.Errorf("load evidence: %w", err)
	}

	var truth syms.NameMap
	if opts.groundTruth != "" {
		if truth, err = syms.LoadNameMap(opts.groundTruth); err != nil {
			return err
		}
	}

	res := match.NewEngine(cfg.Match).Run(set, truth)

	if err := writeFile(opts.out, res.WriteNameMap); err != nil {
		return err
	}
	if opts.provenance != "" {
		if err := writeFile(opts.provenance, res.WriteProvenance); err != nil {
			return err
		}
	}
	if opts.params != "" {
		err := writeFile(opts.params, func(w io.Writer) error { return res.WriteParams(w, set.Debug) })
		if err != nil {
			return err
		}
	}
	if opts.diagnostics != "" {
		if err := writeFile(opts.diagnostics, res.WriteDiagnostics); err != nil {
			return err
		}
	}
	for _, d := range res.Diagnostics {
		glog.V(1).Info(d)
	}

	printMatchSummary(res, len(set.Functions))
	return nil
}

func printMatchSummary(res *match.Result, total int) {
	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"Pass", "Strategy", "Proposed", "Committed", "Ambiguous"})
	var committed, ambiguous int
	for _, p := range res.Passes {
		table.Append([]string{
			strconv.Itoa(p.Pass),
			string(p.Strategy),
			strconv.Itoa(p.Proposed),
			strconv.Itoa(p.Committed),
			strconv.Itoa(p.Ambiguous),
		})
		committed += p.Committed
		ambiguous += p.Ambiguous
	}
	table.SetFooter([]string{"", fmt.Sprintf("%d/%d named", len(res.Records), total), "", strconv.Itoa(committed), strconv.Itoa(ambiguous)})
	table.Render()
}
