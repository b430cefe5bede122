// pkg/jsondoc/path.go
//
// A minimal JSONPath-like language: "$" is the document root, ".name"
// descends into an object key, "[n]" descends into an array index.
// Segments chain freely, e.g. "$.items[0].tags[2]". Object ancestors
// are created on demand by Set; array indices are never auto-grown
// except an exact append at index == len(array).
package jsondoc

import (
	"fmt"
	"strconv"
	"strings"
)

type segmentKind int

const (
	segKey segmentKind = iota
	segIndex
)

type pathSegment struct {
	kind  segmentKind
	key   string
	index int
}

// parsePath parses a path string into its segments. "$" alone parses
// to zero segments (the whole document).
func parsePath(path string) ([]pathSegment, error) {
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("jsondoc: path must start with $: %q", path)
	}
	rest := path[1:]
	var segments []pathSegment

	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end == -1 {
				end = len(rest)
			}
			key := rest[:end]
			if key == "" {
				return nil, fmt.Errorf("jsondoc: empty key segment in path %q", path)
			}
			segments = append(segments, pathSegment{kind: segKey, key: key})
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end == -1 {
				return nil, fmt.Errorf("jsondoc: unterminated index segment in path %q", path)
			}
			idxStr := rest[1:end]
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("jsondoc: invalid array index %q in path %q", idxStr, path)
			}
			segments = append(segments, pathSegment{kind: segIndex, index: idx})
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("jsondoc: unexpected character %q in path %q", rest[0], path)
		}
	}
	return segments, nil
}
