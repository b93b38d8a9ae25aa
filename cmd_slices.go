package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/patch"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

func newSlicesCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slices",
		Short: "Check image ranges against the code of compiled objects",
	}
	cmd.AddCommand(newSlicesVerifyCmd(global), newSlicesDiscoverCmd(global))
	return cmd
}

type slicesVerifyOptions struct {
	image       string
	slices      string
	objectsRoot string
}

func newSlicesVerifyCmd(global *globalOptions) *cobra.Command {
	opts := &slicesVerifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare every listed slice with its object symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlicesVerify(global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.image, "image", "", "reference DOL image")
	f.StringVar(&opts.slices, "slices", "", "JSON slice list")
	f.StringVar(&opts.objectsRoot, "objects-root", "", "directory relative object paths are resolved against")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("slices")
	return cmd
}

func runSlicesVerify(global *globalOptions, opts *slicesVerifyOptions) error {
	cfg, err := global.load()
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

	f, err := os.Open(opts.slices)
	if err != nil {
		return fmt.Errorf("open slices: %w", err)
	}
	slices, err := patch.LoadSlices(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("slices %s: %w", opts.slices, err)
	}

	src := patch.NewFileSource(afero.NewOsFs(), opts.objectsRoot, objOpts)
	results := patch.VerifySlices(img, slices, src)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Slice", "Address", "Size", "Status", "Detail"})
	var failed int
	for _, r := range results {
		detail := ""
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case !r.Match:
			detail = "words " + joinInts(r.MismatchWords, 8)
			if len(r.Functions) > 0 {
				detail += " in " + strings.Join(r.Functions, ",")
			}
			if n := len(r.Externals); n > 0 {
				detail += fmt.Sprintf(" (%d unlinked externals)", n)
			}
		}
		if r.Fallback {
			detail = strings.TrimSpace(color.YellowString("symbol missing, compared .text ") + detail)
		}
		if !r.Match {
			failed++
		}
		table.Append([]string{r.Name, fmt.Sprintf("%08x", r.Address), strconv.Itoa(int(r.Size)), status(r.Match), detail})
	}
	table.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d slices %s", failed, len(results), color.RedString("mismatched"))
	}
	fmt.Printf("all %d slices match\n", len(results))
	return nil
}

func joinInts(v []int, limit int) string {
	parts := make([]string, 0, min(len(v), limit)+1)
	for i, n := range v {
		if i == limit {
			parts = append(parts, fmt.Sprintf("(+%d)", len(v)-limit))
			break
		}
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, ",")
}

type slicesDiscoverOptions struct {
	image   string
	objects string
	out     string
}

func newSlicesDiscoverCmd(global *globalOptions) *cobra.Command {
	opts := &slicesDiscoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find objects whose code occurs exactly once in the image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlicesDiscover(global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.image, "image", "", "reference DOL image")
	f.StringVar(&opts.objects, "objects", "", "directory of compiled objects")
	f.StringVar(&opts.out, "out", "-", "JSON slice list output")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("objects")
	return cmd
}

func runSlicesDiscover(global *globalOptions, opts *slicesDiscoverOptions) error {
	cfg, err := global.load()
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

	fsys := afero.NewOsFs()
	src := patch.NewFileSource(fsys, "", objOpts)
	var objects []*elf.Object
	err = afero.Walk(fsys, opts.objects, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".o") {
			return nil
		}
		obj, err := src.Object(path)
		if err != nil {
			glog.Warningf("Skipping object %s: %v", path, err)
			return nil
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk objects %s: %w", opts.objects, err)
	}

	slices, skipped := patch.DiscoverSlices(img, objects)
	for _, s := range skipped {
		glog.V(1).Infof("Object %s found %d times", s.Object, s.Hits)
	}
	glog.Infof("Discovered %d slices from %d objects, %d skipped", len(slices), len(objects), len(skipped))
	return writeFile(opts.out, func(w io.Writer) error { return patch.WriteSlices(w, slices) })
}
