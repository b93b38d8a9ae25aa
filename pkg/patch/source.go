package patch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/vietanhduong/dolmatch/pkg/syms/elf"
)

// Source provides the bytes referenced by entries and slices.
type Source interface {
	Object(path string) (*elf.Object, error)
	Blob(path string) ([]byte, error)
}

// FileSource reads objects and blobs below a root directory. Objects are
// parsed once and cached.
type FileSource struct {
	fs   afero.Fs
	root string
	opts *elf.ObjectOptions

	mu      sync.Mutex
	objects map[string]*elf.Object
}

func NewFileSource(fsys afero.Fs, root string, opts *elf.ObjectOptions) *FileSource {
	return &FileSource{
		fs:      fsys,
		root:    root,
		opts:    opts,
		objects: make(map[string]*elf.Object),
	}
}

func (s *FileSource) resolve(path string) string {
	if filepath.IsAbs(path) || s.root == "" {
		return path
	}
	return filepath.Join(s.root, path)
}

func (s *FileSource) Object(path string) (*elf.Object, error) {
	full := s.resolve(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[full]; ok {
		return obj, nil
	}
	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	obj, err := elf.LoadNamed(data, full, s.opts)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("Loaded object %s (%d symbols)", full, len(obj.Symbols()))
	s.objects[full] = obj
	return obj, nil
}

func (s *FileSource) Blob(path string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}
