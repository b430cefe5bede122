// pkg/jsondoc/tree.go
//
// Path operations over a decoded document tree (map[string]any /
// []any / scalars), applied before re-encoding. Object ancestors are
// created on demand; array indices must already exist, except an
// exact append at index == len(array).
package jsondoc

import "fmt"

func getAtPath(container any, segments []pathSegment) (any, bool) {
	if len(segments) == 0 {
		return container, true
	}
	seg := segments[0]
	switch seg.kind {
	case segKey:
		m, ok := container.(map[string]any)
		if !ok {
			return nil, false
		}
		child, ok := m[seg.key]
		if !ok {
			return nil, false
		}
		return getAtPath(child, segments[1:])
	case segIndex:
		arr, ok := container.([]any)
		if !ok || seg.index >= len(arr) {
			return nil, false
		}
		return getAtPath(arr[seg.index], segments[1:])
	default:
		return nil, false
	}
}

func setAtPath(container any, segments []pathSegment, value any) (any, error) {
	if len(segments) == 0 {
		return value, nil
	}
	seg := segments[0]
	switch seg.kind {
	case segKey:
		m, ok := container.(map[string]any)
		if !ok {
			if container != nil {
				return nil, fmt.Errorf("jsondoc: cannot descend into key %q: not an object", seg.key)
			}
			m = make(map[string]any)
		}
		child := m[seg.key]
		newChild, err := setAtPath(child, segments[1:], value)
		if err != nil {
			return nil, err
		}
		m[seg.key] = newChild
		return m, nil
	case segIndex:
		arr, ok := container.([]any)
		if !ok {
			return nil, fmt.Errorf("jsondoc: cannot descend into index %d: not an array", seg.index)
		}
		if seg.index == len(arr) {
			if len(segments) > 1 {
				return nil, fmt.Errorf("jsondoc: index %d does not exist yet, cannot descend further", seg.index)
			}
			return append(arr, value), nil
		}
		if seg.index > len(arr) {
			return nil, fmt.Errorf("jsondoc: array index %d out of range (length %d)", seg.index, len(arr))
		}
		newChild, err := setAtPath(arr[seg.index], segments[1:], value)
		if err != nil {
			return nil, err
		}
		arr[seg.index] = newChild
		return arr, nil
	default:
		return nil, fmt.Errorf("jsondoc: unknown path segment kind")
	}
}

// deleteAtPath removes the value at segments from container, returning
// the updated container and whether anything was removed. Deleting
// from an array splices the element out, shifting later elements down.
func deleteAtPath(container any, segments []pathSegment) (any, bool, error) {
	if len(segments) == 0 {
		return nil, false, fmt.Errorf("jsondoc: cannot delete the document root, use Destroy")
	}
	seg := segments[0]
	if len(segments) == 1 {
		switch seg.kind {
		case segKey:
			m, ok := container.(map[string]any)
			if !ok {
				return container, false, nil
			}
			if _, ok := m[seg.key]; !ok {
				return container, false, nil
			}
			delete(m, seg.key)
			return m, true, nil
		case segIndex:
			arr, ok := container.([]any)
			if !ok || seg.index >= len(arr) {
				return container, false, nil
			}
			out := append(arr[:seg.index:seg.index], arr[seg.index+1:]...)
			return out, true, nil
		}
		return container, false, nil
	}

	switch seg.kind {
	case segKey:
		m, ok := container.(map[string]any)
		if !ok {
			return container, false, nil
		}
		child, ok := m[seg.key]
		if !ok {
			return container, false, nil
		}
		newChild, removed, err := deleteAtPath(child, segments[1:])
		if err != nil {
			return nil, false, err
		}
		m[seg.key] = newChild
		return m, removed, nil
	case segIndex:
		arr, ok := container.([]any)
		if !ok || seg.index >= len(arr) {
			return container, false, nil
		}
		newChild, removed, err := deleteAtPath(arr[seg.index], segments[1:])
		if err != nil {
			return nil, false, err
		}
		arr[seg.index] = newChild
		return arr, removed, nil
	default:
		return container, false, nil
	}
}
