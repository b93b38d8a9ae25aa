package dol

import (
	"errors"
	"fmt"
)

var ErrOutOfBounds = errors.New("out of image bounds")

type FormatError struct {
	Off int64
	Msg string
	Val any
}

func (e *FormatError) Error() string {
	msg := e.Msg
	if e.Val != nil {
		msg += fmt.Sprintf(" '%v'", e.Val)
	}
	return fmt.Sprintf("dol: %s in header at byte %#x", msg, e.Off)
}

// RangeError reports an address range that does not fit inside one section.
type RangeError struct {
	Addr   uint32
	Size   uint32
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range 0x%08x+%#x: %s", e.Addr, e.Size, e.Reason)
}
