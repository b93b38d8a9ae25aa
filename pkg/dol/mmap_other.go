//go:build !unix

package dol

import (
	"fmt"
	"os"
)

func Open(fpath string) (*Image, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, fmt.Errorf("open dol %s: %w", fpath, err)
	}
	im, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", fpath, err)
	}
	return im, nil
}
