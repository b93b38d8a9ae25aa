package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/patch"
)

var errMismatch = errors.New("images differ")

type compareOptions struct {
	ref       string
	candidate string
	maxRuns   int
}

func newCompareCmd() *cobra.Command {
	opts := &compareOptions{}
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Report the byte ranges where a candidate image differs from the reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ref, "ref", "", "reference DOL image")
	f.StringVar(&opts.candidate, "candidate", "", "candidate DOL image")
	f.IntVar(&opts.maxRuns, "max-runs", 10, "differing runs listed per section, 0 lists all")
	cmd.MarkFlagRequired("ref")
	cmd.MarkFlagRequired("candidate")
	return cmd
}

func runCompare(opts *compareOptions) error {
	ref, err := dol.Open(opts.ref)
	if err != nil {
		return err
	}
	defer ref.Close()
	cand, err := dol.Open(opts.candidate)
	if err != nil {
		return err
	}
	defer cand.Close()

	d := patch.CompareImages(ref, cand)
	if d.RefLen != d.CandLen {
		fmt.Printf("length differs: reference %s, candidate %s\n",
			humanize.Comma(int64(d.RefLen)), humanize.Comma(int64(d.CandLen)))
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Section", "Offset", "Address", "Length"})
	for _, s := range d.Sections {
		runs := s.Runs
		if opts.maxRuns > 0 && len(runs) > opts.maxRuns {
			runs = runs[:opts.maxRuns]
		}
		for _, r := range runs {
			addr := ""
			if r.Address != 0 {
				addr = fmt.Sprintf("%08x", r.Address)
			}
			table.Append([]string{s.Section, fmt.Sprintf("0x%x", r.Offset), addr, strconv.Itoa(int(r.Length))})
		}
		if n := len(s.Runs) - len(runs); n > 0 {
			table.Append([]string{s.Section, fmt.Sprintf("... %d more runs", n), "", ""})
		}
	}
	table.SetFooter([]string{"", "", "mismatched bytes", humanize.Comma(int64(d.Mismatches))})
	table.Render()

	fmt.Println(status(d.Equal()))
	if !d.Equal() {
		return errMismatch
	}
	return nil
}
