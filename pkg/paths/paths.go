// Package paths resolves data locations against a list of candidate root
// directories, so the same relative path can live under different mounts.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoPath is returned when no root yields an existing path
var ErrNoPath = errors.New("no valid path found")

// normalize converts Windows separators so paths recorded on either OS resolve
func normalize(p string) string {
	return filepath.Clean(filepath.FromSlash(strings.ReplaceAll(p, `\`, "/")))
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// FindFullPath returns the first existing root/relativePath, searching roots
// in order. relativePath is returned as-is when it already exists.
func FindFullPath(roots []string, relativePath string) (string, error) {
	rel := normalize(relativePath)
	if exists(rel) {
		return rel, nil
	}

	for _, root := range roots {
		full := filepath.Join(normalize(root), rel)
		if exists(full) {
			return full, nil
		}
	}

	return "", fmt.Errorf("%w (from %v) for %s", ErrNoPath, roots, relativePath)
}

// FindRootDirectory returns the first root that is an ancestor of fullPath
func FindRootDirectory(roots []string, fullPath string) (string, error) {
	full := normalize(fullPath)
	if !exists(full) {
		return "", fmt.Errorf("%s does not exist: %w", fullPath, os.ErrNotExist)
	}

	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}

	for _, root := range roots {
		r, err := filepath.Abs(normalize(root))
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(r, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return normalize(root), nil
	}

	return "", fmt.Errorf("%w: no root directory (from %v) for %s", ErrNoPath, roots, fullPath)
}
