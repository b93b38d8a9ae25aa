package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/patch"
)

type patchOptions struct {
	image       string
	manifest    string
	objectsRoot string
	out         string
	report      string
	pad         string
}

func newPatchCmd(global *globalOptions) *cobra.Command {
	opts := &patchOptions{}
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Write verified object and blob bytes into a copy of the reference image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.image, "image", "", "reference DOL image")
	f.StringVar(&opts.manifest, "manifest", "", "JSON patch manifest")
	f.StringVar(&opts.objectsRoot, "objects-root", "", "directory relative object and blob paths are resolved against")
	f.StringVar(&opts.out, "out", "", "patched image output")
	f.StringVar(&opts.report, "report", "", "JSON report output")
	f.StringVar(&opts.pad, "pad", "", "short symbol handling: error or zero (overrides the config)")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("out")
	return cmd
}

func runPatch(global *globalOptions, opts *patchOptions) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	if opts.pad != "" {
		cfg.Patch.Pad = opts.pad
	}
	patchOpts, err := cfg.PatchOptions()
	if err != nil {
		return err
	}
	objOpts, err := cfg.ObjectOptions()
	if err != nil {
		return err
	}

	img, err := dol.Open(opts.image)
	if err != nil {
		return err
	}
	defer img.Close()

	f, err := os.Open(opts.manifest)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	entries, err := patch.LoadManifest(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("manifest %s: %w", opts.manifest, err)
	}

	src := patch.NewFileSource(afero.NewOsFs(), opts.objectsRoot, objOpts)
	res, err := patch.Apply(img, entries, src, patchOpts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, res.Image.Data(), 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	glog.Infof("Wrote %s (%s)", opts.out, humanize.Bytes(uint64(res.Image.Len())))
	if opts.report != "" {
		if err := writeFile(opts.report, res.Report.Write); err != nil {
			return err
		}
	}

	printPatchReport(res.Report)
	return res.Err()
}

func printPatchReport(r *patch.Report) {
	kinds := make([]patch.Kind, 0, len(r.Kinds))
	for k := range r.Kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Entries", "Bytes"})
	for _, k := range kinds {
		st := r.Kinds[k]
		table.Append([]string{string(k), strconv.Itoa(st.Entries), humanize.Bytes(st.Bytes)})
	}
	table.SetFooter([]string{
		fmt.Sprintf("%d/%d patched", r.Patched, r.Total),
		fmt.Sprintf("%d skipped, %d errors", r.Skipped, r.Errors),
		humanize.Bytes(r.PatchedBytes),
	})
	table.Render()

	verdict := color.YellowString("DIFFERENT")
	if r.IdenticalToReference {
		verdict = color.GreenString("IDENTICAL")
	}
	fmt.Printf("output %s, reference %s: %s\n", r.OutDigest, r.RefDigest, verdict)
}
