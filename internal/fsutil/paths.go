package fsutil

import (
	"path/filepath"
	"strings"
)

// ToPosix converts a native path to forward-slash form for serialization.
func ToPosix(path string) string {
	return filepath.ToSlash(path)
}

// JoinPosix joins a native root with a POSIX relative path, converting the
// relative part to native separators.
func JoinPosix(root, relPosix string) string {
	return filepath.Join(root, filepath.FromSlash(relPosix))
}

// RelPosix returns path relative to root in POSIX form. When path is not
// under root it is returned unchanged (POSIX-converted).
func RelPosix(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// ValidPosixRelPath reports whether relpath is a well-formed relative POSIX
// path: non-empty, not absolute, and free of empty, ".", and ".." segments.
func ValidPosixRelPath(relpath string) bool {
	if relpath == "" || strings.HasPrefix(relpath, "/") {
		return false
	}
	for _, seg := range strings.Split(relpath, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
