package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/vietanhduong/dolmatch/pkg/config"
)

type globalOptions struct {
	configPath string
}

func (o *globalOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.configPath != "" {
		glog.Infof("Loaded config from %s", o.configPath)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "dolmatch",
		Short:         "Recover function names in a DOL image and verify rebuilt code against it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its settings from the standard flag set.
			return flag.CommandLine.Parse(nil)
		},
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file with thresholds and input options")

	root.AddCommand(
		newMatchCmd(opts),
		newPatchCmd(opts),
		newCompareCmd(),
		newSlicesCmd(opts),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	glog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// writeFile creates path and hands it to write. An empty path writes to
// stdout.
func writeFile(path string, write func(w io.Writer) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	glog.Infof("Wrote %s", path)
	return nil
}

func status(ok bool) string {
	if ok {
		return color.GreenString("MATCH")
	}
	return color.RedString("MISMATCH")
}
