package dol

import "fmt"

type builderSection struct {
	addr uint32
	data []byte
}

// Builder assembles a DOL image from section payloads. Section data is laid
// out after the header in text-then-data order, aligned to 0x20.
type Builder struct {
	text    []builderSection
	data    []builderSection
	entry   uint32
	bssAddr uint32
	bssSize uint32
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) AddText(addr uint32, data []byte) *Builder {
	b.text = append(b.text, builderSection{addr, data})
	return b
}

func (b *Builder) AddData(addr uint32, data []byte) *Builder {
	b.data = append(b.data, builderSection{addr, data})
	return b
}

func (b *Builder) SetEntry(addr uint32) *Builder {
	b.entry = addr
	return b
}

func (b *Builder) SetBSS(addr, size uint32) *Builder {
	b.bssAddr, b.bssSize = addr, size
	return b
}

func (b *Builder) Bytes() ([]byte, error) {
	if len(b.text) > NumText {
		return nil, fmt.Errorf("too many text sections: %d > %d", len(b.text), NumText)
	}
	if len(b.data) > NumData {
		return nil, fmt.Errorf("too many data sections: %d > %d", len(b.data), NumData)
	}

	buf := make([]byte, HeaderSize)
	place := func(s builderSection, offs, addrs, sizes, i int) {
		for len(buf)%0x20 != 0 {
			buf = append(buf, 0)
		}
		be.PutUint32(buf[offs+4*i:], uint32(len(buf)))
		be.PutUint32(buf[addrs+4*i:], s.addr)
		be.PutUint32(buf[sizes+4*i:], uint32(len(s.data)))
		buf = append(buf, s.data...)
	}
	for i, s := range b.text {
		place(s, offTextOffsets, offTextAddrs, offTextSizes, i)
	}
	for i, s := range b.data {
		place(s, offDataOffsets, offDataAddrs, offDataSizes, i)
	}
	be.PutUint32(buf[offBSSAddr:], b.bssAddr)
	be.PutUint32(buf[offBSSSize:], b.bssSize)
	be.PutUint32(buf[offEntry:], b.entry)
	return buf, nil
}
