// Command example runs the whole pipeline on a tiny synthetic game: it names
// an anonymous function from its strings, then rebuilds the image from a
// compiled object and compares the result with the reference.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/vietanhduong/dolmatch/pkg/dol"
	"github.com/vietanhduong/dolmatch/pkg/evidence"
	"github.com/vietanhduong/dolmatch/pkg/match"
	"github.com/vietanhduong/dolmatch/pkg/patch"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

const (
	funcAddr = 0x80003100
	strAddr  = 0x80200000
)

const dump = `/* FUN_80003100 @ 80003100 */
void FUN_80003100(NuVec *a, NuVec *b)
{
  OSReport(s_NuVecAdd___null_vector_80200000);
  FUN_80003140(a);
}
/* FUN_80003140 @ 80003140 */
void FUN_80003140(NuVec *a)
{
}
`

const source = `#include "nu.h"

NuVec *NuVecAdd(NuVec *a, NuVec *b)
{
    assert("NuVecAdd : null vector");
    NuVecNeg(a);
    return a;
}

void NuVecNeg(NuVec *a)
{
}
`

// blr; nop; nop; nop
var code = []byte{
	0x4e, 0x80, 0x00, 0x20,
	0x60, 0x00, 0x00, 0x00,
	0x60, 0x00, 0x00, 0x00,
	0x60, 0x00, 0x00, 0x00,
}

func main() {
	var flip bool
	flag.BoolVar(&flip, "flip", false, "Corrupt the compiled object so the rebuilt image differs.")
	flag.Parse()
	defer glog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fsys := afero.NewMemMapFs()
	if err := writeInputs(fsys, flip); err != nil {
		glog.Errorf("Failed to write inputs: %v", err)
		os.Exit(1)
	}

	set, err := evidence.Load(ctx, fsys, evidence.Paths{
		Dump:    "/in/dump.c",
		Strings: "/in/strings.txt",
		Sources: "/src",
	}, evidence.DefaultOptions())
	if err != nil {
		glog.Errorf("Failed to load evidence: %v", err)
		os.Exit(1)
	}
	res := match.NewEngine(match.DefaultConfig()).Run(set, nil)
	for _, rec := range res.Records {
		fmt.Println(rec)
	}

	data, err := dol.NewBuilder().AddText(funcAddr, code).SetEntry(funcAddr).Bytes()
	if err != nil {
		glog.Errorf("Failed to build image: %v", err)
		os.Exit(1)
	}
	img, err := dol.Load(data)
	if err != nil {
		glog.Errorf("Failed to load image: %v", err)
		os.Exit(1)
	}

	var entries []patch.Entry
	for _, rec := range res.Records {
		if rec.Address != funcAddr {
			continue
		}
		entries = append(entries, patch.Entry{
			Name:    rec.Name,
			Address: rec.Address,
			Size:    uint32(len(code)),
			Kind:    patch.KindObject,
			Object:  "vec.o",
		})
	}
	out, err := patch.Apply(img, entries, patch.NewFileSource(fsys, "/build", nil), patch.Options{})
	if err != nil {
		glog.Errorf("Failed to patch: %v", err)
		os.Exit(1)
	}
	if err := out.Err(); err != nil {
		glog.Errorf("Some entries failed: %v", err)
	}
	fmt.Printf("patched %d/%d, identical to reference: %v\n",
		out.Report.Patched, out.Report.Total, out.Report.IdenticalToReference)

	d := patch.CompareImages(img, out.Image)
	for _, s := range d.Sections {
		for _, r := range s.Runs {
			fmt.Printf("%s: %d bytes differ at %08x\n", s.Section, r.Length, r.Address)
		}
	}
}

func writeInputs(fsys afero.Fs, flip bool) error {
	files := map[string]string{
		"/in/dump.c":      dump,
		"/in/strings.txt": fmt.Sprintf("%08x: NuVecAdd : null vector\n", strAddr),
		"/src/nu/nuvec.c": source,
	}
	for path, content := range files {
		if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
			return err
		}
	}

	compiled := append([]byte(nil), code...)
	if flip {
		compiled[4] ^= 0xff
	}
	b := elf.NewBuilder()
	text := b.AddSection(".text", compiled)
	b.AddFunc("NuVecAdd", text, 0, uint32(len(compiled)))
	return afero.WriteFile(fsys, "/build/vec.o", b.Bytes(), 0o644)
}
