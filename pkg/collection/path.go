package collection

import "strings"

// ValidCollectionPath reports whether path is a well-formed collection
// path: a
// collection path is non-empty, does not begin with "/", contains no "//"
// runs, and uses only [a-zA-Z0-9/.+].
func ValidCollectionPath(path string) bool {
	if path == "" {
		return false
	}
	if strings.HasPrefix(path, "/") {
		return false
	}
	if strings.Contains(path, "//") {
		return false
	}
	for _, r := range path {
		if !validPathRune(r) {
			return false
		}
	}
	return true
}

// ValidItemPath additionally requires at least one "/" (i.e. a parent
// collection segment).
func ValidItemPath(path string) bool {
	return ValidCollectionPath(path) && strings.Contains(path, "/")
}

func validPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '/' || r == '.' || r == '+':
		return true
	default:
		return false
	}
}

// SplitParentChild splits a path into its parent path and final segment.
// ok is false if path has no parent segment (a top-level name).
func SplitParentChild(path string) (parent, child string, ok bool) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path, false
	}
	return path[:idx], path[idx+1:], true
}
