// Package jsonpath resolves dot/bracket path expressions against
// decoded JSON values. Lookups report found/not-found instead of
// erroring: a missing key, a key applied to an array, or an index out
// of bounds all mean not-found. A null value is found; existence is
// independent of value.
package jsonpath

import (
	"strconv"
	"strings"
)

// Segment is a single step of a parsed path.
type Segment interface {
	isSegment()
}

type KeySegment struct {
	Key string
}

func (KeySegment) isSegment() {}

type IndexSegment struct {
	Index int
}

func (IndexSegment) isSegment() {}

// Parse splits a path into segments. Supported forms:
//
//	"name"                -> [key(name)]
//	"user.email"          -> [key(user), key(email)]
//	"items[0].id"         -> [key(items), index(0), key(id)]
//	"[0].field"           -> [index(0), key(field)]  (root-level array)
//
// A bracket pair without a numeric index is kept as literal key text,
// which then simply fails to resolve against an array.
func Parse(path string) []Segment {
	if path == "" {
		return nil
	}

	var segments []Segment
	current := strings.Builder{}

	flushKey := func() {
		if current.Len() > 0 {
			segments = append(segments, KeySegment{Key: current.String()})
			current.Reset()
		}
	}

	i := 0
	for i < len(path) {
		ch := path[i]

		switch ch {
		case '.':
			flushKey()
			i++

		case '[':
			flushKey()
			closeIdx := strings.Index(path[i:], "]")
			if closeIdx == -1 {
				current.WriteString(path[i:])
				i = len(path)
				break
			}

			indexStr := path[i+1 : i+closeIdx]
			idx, err := strconv.Atoi(indexStr)
			if err != nil {
				current.WriteByte(ch)
				i++
				break
			}

			segments = append(segments, IndexSegment{Index: idx})
			i += closeIdx + 1

		case ']':
			i++

		default:
			current.WriteByte(ch)
			i++
		}
	}

	flushKey()
	return segments
}

// Resolve walks path against value. The empty path denotes the whole
// value and always resolves.
func Resolve(value any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return value, true
	}
	return resolveSegments(value, Parse(path))
}

func resolveSegments(value any, segments []Segment) (any, bool) {
	current := value
	for _, seg := range segments {
		switch s := seg.(type) {
		case KeySegment:
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			val, exists := m[s.Key]
			if !exists {
				return nil, false
			}
			current = val

		case IndexSegment:
			arr, ok := current.([]any)
			if !ok {
				return nil, false
			}
			if s.Index < 0 || s.Index >= len(arr) {
				return nil, false
			}
			current = arr[s.Index]
		}
	}
	return current, true
}

// TolerantMatch reports a value located by scanning the nearest
// enclosing array instead of trusting the indexed position.
type TolerantMatch struct {
	Value         any
	FoundIndex    int
	ExpectedIndex int
}

// ResolveTolerant re-runs the lookup with the array-order tolerance
// policy: the last index segment of the path selects an array whose
// every element is scanned, and the first element whose remainder path
// resolves to a value accepted by match wins. Returns false when the
// path has no index segment, the enclosing array cannot be resolved,
// or no element matches.
func ResolveTolerant(value any, path string, match func(any) bool) (TolerantMatch, bool) {
	segments := Parse(strings.TrimSpace(path))

	last := -1
	for i, seg := range segments {
		if _, ok := seg.(IndexSegment); ok {
			last = i
		}
	}
	if last == -1 {
		return TolerantMatch{}, false
	}

	enclosing, ok := resolveSegments(value, segments[:last])
	if !ok {
		return TolerantMatch{}, false
	}
	arr, ok := enclosing.([]any)
	if !ok {
		return TolerantMatch{}, false
	}

	expected := segments[last].(IndexSegment).Index
	remainder := segments[last+1:]

	for i, elem := range arr {
		candidate, found := resolveSegments(elem, remainder)
		if !found {
			continue
		}
		if match(candidate) {
			return TolerantMatch{
				Value:         candidate,
				FoundIndex:    i,
				ExpectedIndex: expected,
			}, true
		}
	}
	return TolerantMatch{}, false
}
