package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is a point's JSON object, decoded into Go's generic representation
// (map[string]interface{}/[]interface{}/json.Number/string/bool/nil). Field
// indices attach to dotted paths into this structure (spec.md §3).
type Payload map[string]interface{}

// Clone returns a deep-enough copy for copy-on-write semantics: map and
// slice containers are duplicated, scalar leaves are shared (they are
// immutable once unmarshalled).
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// ParsePayload decodes a JSON object into a Payload.
func ParsePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// pathSegment is one dotted-path component: a field name, optionally
// followed by "[]" meaning "flatten across every element of this array".
type pathSegment struct {
	field     string
	array     bool // field is expected to hold an array; descend into each element
	arrayIdx  int  // explicit index, e.g. "tags[2]"; -1 means no explicit index (either "tags[]" or bare "tags")
	hasArrIdx bool
}

// parsePath splits a dotted path like "a.b[].c" or "a.b[2].c" into segments.
func parsePath(path string) []pathSegment {
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		seg := pathSegment{arrayIdx: -1}
		if i := strings.IndexByte(part, '['); i >= 0 {
			seg.field = part[:i]
			inner := part[i+1 : strings.IndexByte(part, ']')]
			if inner == "" {
				seg.array = true
			} else if n, err := strconv.Atoi(inner); err == nil {
				seg.array = true
				seg.arrayIdx = n
				seg.hasArrIdx = true
			}
		} else {
			seg.field = part
		}
		segs = append(segs, seg)
	}
	return segs
}

// GetPath resolves a dotted path against the payload, returning every
// matching leaf value. A "[]" segment without an index fans out across all
// array elements (so "a.b[].c" returns one value per element of a.b that
// has a field c); an indexed segment ("a.b[2].c") resolves to at most one.
func GetPath(p Payload, path string) []interface{} {
	if p == nil {
		return nil
	}
	segs := parsePath(path)
	values := []interface{}{map[string]interface{}(p)}
	for _, seg := range segs {
		var next []interface{}
		for _, v := range values {
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			fv, ok := m[seg.field]
			if !ok {
				continue
			}
			if seg.array {
				arr, ok := fv.([]interface{})
				if !ok {
					continue
				}
				if seg.hasArrIdx {
					if seg.arrayIdx >= 0 && seg.arrayIdx < len(arr) {
						next = append(next, arr[seg.arrayIdx])
					}
				} else {
					next = append(next, arr...)
				}
			} else {
				next = append(next, fv)
			}
		}
		values = next
		if len(values) == 0 {
			return nil
		}
	}
	return values
}
