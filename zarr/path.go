package zarr

import (
	"fmt"
	"strings"
)

// Path is a normalized logical path within a store.
// To ensure consistent behaviour across different storage systems,
// logical paths are normalized as follows:
// * Replace all backward slash characters ("\") with forward slash characters ("/")
// * Strip any leading "/" characters
// * Strip any trailing "/" characters
// * Collapse any sequence of more than one "/" character into a single "/" character
type Path []string

func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, `\`, "/")
	var p Path
	for _, el := range strings.Split(posix, "/") {
		if el == "" {
			continue
		}
		if el == "." || el == ".." {
			return nil, fmt.Errorf("invalid path %q: relative elements are not allowed", posix)
		}
		p = append(p, el)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join returns a new path with elems appended. Elements may themselves
// contain separators. p is never modified.
func (p Path) Join(elems ...string) Path {
	out := make(Path, len(p), len(p)+len(elems))
	copy(out, p)
	for _, el := range elems {
		for _, part := range strings.Split(strings.ReplaceAll(el, `\`, "/"), "/") {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Base is the last element of the path, or "" for the root
func (p Path) Base() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent is the path with the last element removed
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}
