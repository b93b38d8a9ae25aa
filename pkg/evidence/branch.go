package evidence

import (
	"encoding/binary"
	"fmt"

	"github.com/vietanhduong/dolmatch/pkg/dol"
	"golang.org/x/arch/ppc64/ppc64asm"
)

// DecodeCalls returns the targets of bl/bla instructions inside
// [addr, addr+size) of the image, in instruction order without duplicates.
// Words that do not decode are skipped.
func DecodeCalls(img *dol.Image, addr, size uint32) ([]uint32, error) {
	code, err := img.BytesAt(addr, size)
	if err != nil {
		return nil, fmt.Errorf("decode calls at %08x: %w", addr, err)
	}

	var ret []uint32
	seen := make(map[uint32]bool)
	for pc := 0; pc+4 <= len(code); {
		inst, err := ppc64asm.Decode(code[pc:], binary.BigEndian)
		step := 4
		if err == nil && inst.Len > 0 {
			step = inst.Len
		}
		if err == nil {
			var target uint32
			var ok bool
			switch inst.Op {
			case ppc64asm.BL:
				if rel, isRel := inst.Args[0].(ppc64asm.PCRel); isRel {
					target, ok = addr+uint32(pc)+uint32(int32(rel)), true
				}
			case ppc64asm.BLA:
				if abs, isAbs := inst.Args[0].(ppc64asm.Label); isAbs {
					target, ok = uint32(abs), true
				}
			}
			if ok && target != addr && !seen[target] {
				seen[target] = true
				ret = append(ret, target)
			}
		}
		pc += step
	}
	return ret, nil
}
