// Package pathutil checks names that end up as paths inside an fs.FS.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// ValidTemplateName reports whether name can be looked up as <name>.html in
// a template source: relative, slash separated, no empty or dot segments.
func ValidTemplateName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	if strings.ContainsAny(name, "\\\x00") || strings.Contains(name, "//") {
		return false
	}
	return !HasDotSegments(name)
}
