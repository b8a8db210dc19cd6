package moduleloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SourceReader reads the source text of a module at a canonical path.
// A path that does not exist or names a directory yields an error wrapping
// ErrModuleNotFound.
type SourceReader interface {
	ReadSource(path string) ([]byte, error)
}

// FileReader reads modules from the operating system filesystem
type FileReader struct{}

// ReadSource implements SourceReader
func (FileReader) ReadSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModuleNotFound, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, nil
}

// FSReader reads modules from an fs.FS. Canonical paths are mapped onto the
// filesystem by dropping the volume name and the leading separator, so the
// root of FS stands for the filesystem root.
type FSReader struct {
	FS fs.FS
}

// ReadSource implements SourceReader
func (r FSReader) ReadSource(path string) ([]byte, error) {
	name := fsName(path)

	info, err := fs.Stat(r.FS, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModuleNotFound, path)
	}

	content, err := fs.ReadFile(r.FS, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, nil
}

func fsName(path string) string {
	name := filepath.ToSlash(strings.TrimPrefix(path, filepath.VolumeName(path)))
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "."
	}
	return name
}
