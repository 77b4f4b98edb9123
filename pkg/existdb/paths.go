package existdb

import (
	"fmt"
	gopath "path"
	"strings"
)

// ManglePath returns the canonical relative form of a collection or document
// path: leading slashes are stripped and the result is cleaned. The empty
// path and "/" both map to ".", the marker for the collection itself.
func ManglePath(path string) string {
	return gopath.Clean(strings.TrimLeft(path, "/"))
}

// ValidateFilename checks that filename is a single, non-empty path segment.
// The raw input is judged, not a cleaned form: a name like "a/../b" still
// embeds separators and would address a nested collection when stored.
func ValidateFilename(filename string) error {
	if filename == "" || filename == "." || filename == ".." || strings.Contains(filename, "/") {
		return &ConfigError{Reason: fmt.Sprintf("invalid filename: %q", filename)}
	}
	return nil
}
