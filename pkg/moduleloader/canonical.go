package moduleloader

import (
	"fmt"
	"os"
	"path/filepath"
)

// Canonicalize computes the absolute, normalized path of specifier.
//
// Relative specifiers are joined onto baseDir. An empty baseDir means the
// base is absent, in which case the working directory reported by getwd is
// used; a nil getwd falls back to os.Getwd. A relative base is anchored at the
// filesystem root. An absolute specifier ignores the base. An empty specifier
// canonicalizes to the base directory itself.
//
// The result has "." and ".." segments resolved, uses the platform separator
// and has no trailing separator unless it is the root.
func Canonicalize(specifier, baseDir string, getwd func() (string, error)) (string, error) {
	base := baseDir
	if base == "" {
		if getwd == nil {
			getwd = os.Getwd
		}
		wd, err := getwd()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrCanonicalize, err)
		}
		if wd == "" {
			return "", fmt.Errorf("%w: empty working directory", ErrCanonicalize)
		}
		base = wd
	}

	if filepath.IsAbs(specifier) {
		return filepath.Clean(specifier), nil
	}

	if !filepath.IsAbs(base) {
		base = string(filepath.Separator) + base
	}

	return filepath.Join(base, specifier), nil
}

// DirectoryEnd returns the offset just past the last path separator in path,
// or 0 when path contains no separator. path[:DirectoryEnd(path)] is the
// directory prefix including its trailing separator.
func DirectoryEnd(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if os.IsPathSeparator(path[i]) {
			return i + 1
		}
	}
	return 0
}
