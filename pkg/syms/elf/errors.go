package elf

import "fmt"

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
	return fmt.Sprintf("elf: %s in record at byte %#x", msg, e.Off)
}

type SymbolError struct {
	Name   string
	Reason string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("symbol %s: %s", e.Name, e.Reason)
}
