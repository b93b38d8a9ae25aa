package dol

import (
	"errors"
	"fmt"
)

var errWriterDone = errors.New("writer already produced its image")

// Writer accumulates patches over a private copy of an image buffer.
type Writer struct {
	src  *Image
	data []byte
}

func (im *Image) NewWriter() *Writer {
	data := make([]byte, len(im.data))
	copy(data, im.data)
	return &Writer{src: im, data: data}
}

// WriteAt copies p into the buffer at file offset off. Writes never change
// the buffer length.
func (w *Writer) WriteAt(off uint32, p []byte) error {
	if w.data == nil {
		return errWriterDone
	}
	if uint64(off)+uint64(len(p)) > uint64(len(w.data)) {
		return fmt.Errorf("write %#x+%#x: %w", off, len(p), ErrOutOfBounds)
	}
	copy(w.data[off:], p)
	return nil
}

// Bytes returns the current buffer contents.
func (w *Writer) Bytes() []byte { return w.data }

// Image hands the buffer over to a new image sharing the source's layout.
// The writer cannot be used afterwards.
func (w *Writer) Image() *Image {
	im := &Image{
		Entry:    w.src.Entry,
		BSSAddr:  w.src.BSSAddr,
		BSSSize:  w.src.BSSSize,
		sections: w.src.sections,
		index:    w.src.index,
		data:     w.data,
	}
	w.data = nil
	return im
}
