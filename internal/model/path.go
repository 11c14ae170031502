package model

import (
	"regexp"
	"strings"
)

// pathPattern matches the rooted path grammar of spec.md §3: no component
// may start with '.', no trailing slash, no empty segments.
var pathPattern = regexp.MustCompile(`^/[^/.][^/]*(/[^/.][^/]*)*$`)

// ValidatePath reports whether p is a syntactically valid bhdir path (not
// counting an optional leading folder prefix, stripped by SplitFolder first).
func ValidatePath(p string) bool {
	return pathPattern.MatchString(p)
}

// SplitFolder splits an address of the form "<folder>:/sub/path" into its
// folder name and root-relative path. Addresses without a "name:" prefix
// use the root folder, denoted by an empty folder name, per spec.md §4.2.
func SplitFolder(addr string) (folder, path string) {
	if i := strings.IndexByte(addr, ':'); i >= 0 && strings.HasPrefix(addr[i+1:], "/") {
		return addr[:i], addr[i+1:]
	}
	return "", addr
}

// Segments splits a validated path into its components, e.g. "/a/b/c" ->
// ["a", "b", "c"].
func Segments(p string) []string {
	if p == "/" || p == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// Parent returns the parent path of p ("/a/b/c" -> "/a/b"; "/a" -> "/").
func Parent(p string) string {
	segs := Segments(p)
	if len(segs) <= 1 {
		return "/"
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/")
}

// Leaf returns the final path component of p ("/a/b/c" -> "c").
func Leaf(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Join mirrors path.Join but never collapses the bhdir grammar's leading
// slash.
func Join(base string, segs ...string) string {
	if len(segs) == 0 {
		return base
	}
	if base == "/" {
		return "/" + strings.Join(segs, "/")
	}
	return base + "/" + strings.Join(segs, "/")
}
