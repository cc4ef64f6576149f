package refs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Ref is a parsed reference expression: $id followed by path segments.
type Ref struct {
	NodeID   string
	Segments []Segment
	Raw      string
}

// Segment is one step of a reference path: a field access, a bounds-checked
// index, or a wildcard projection.
type Segment struct {
	Field    string
	Index    int
	IsIndex  bool
	Wildcard bool
}

// IsRef reports whether a value is a reference expression: a string matching
// the reference grammar in full.
func IsRef(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	_, err := Parse(s)
	return err == nil
}

// Parse parses a reference expression. The whole string must match
// `"$" id ( "." ident | "[" (int | "*") "]" )*`; anything else is a literal
// and Parse returns an error.
func Parse(s string) (*Ref, error) {
	if len(s) < 2 || s[0] != '$' {
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "not a reference: %q", s)
	}

	i := 1
	start := i
	for i < len(s) && isIdentChar(s[i], i == start) {
		i++
	}
	if i == start {
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "reference %q has no node id", s)
	}

	ref := &Ref{NodeID: s[start:i], Raw: s}

	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			fs := i
			for i < len(s) && isIdentChar(s[i], i == fs) {
				i++
			}
			if i == fs {
				return nil, schema.NewErrorf(schema.ErrCodeResolution, "reference %q has empty field segment", s)
			}
			ref.Segments = append(ref.Segments, Segment{Field: s[fs:i]})

		case '[':
			close := strings.IndexByte(s[i:], ']')
			if close < 0 {
				return nil, schema.NewErrorf(schema.ErrCodeResolution, "reference %q has unterminated index", s)
			}
			inner := s[i+1 : i+close]
			if inner == "*" {
				ref.Segments = append(ref.Segments, Segment{Wildcard: true})
			} else {
				idx, err := strconv.Atoi(inner)
				if err != nil {
					return nil, schema.NewErrorf(schema.ErrCodeResolution, "reference %q has invalid index %q", s, inner)
				}
				ref.Segments = append(ref.Segments, Segment{Index: idx, IsIndex: true})
			}
			i += close + 1

		default:
			return nil, schema.NewErrorf(schema.ErrCodeResolution, "reference %q has trailing characters at %q", s, s[i:])
		}
	}

	return ref, nil
}

func isIdentChar(c byte, first bool) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

// Resolve evaluates a parsed reference against the store. Failures (unknown
// id, missing field, index out of range, wildcard on non-sequence) return a
// RESOLUTION_ERROR. The result is deep-copied.
func (r *Ref) Resolve(store *Store) (any, error) {
	output, ok := store.Get(r.NodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "reference %s: node %q has no output", r.Raw, r.NodeID)
	}
	if len(r.Segments) == 0 {
		return deepCopyMap(output), nil
	}
	v, err := r.eval(any(output), r.Segments)
	if err != nil {
		return nil, err
	}
	return deepCopyAny(v), nil
}

func (r *Ref) eval(value any, segs []Segment) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	rest := segs[1:]

	switch {
	case seg.Wildcard:
		seq, ok := value.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"reference %s: wildcard applied to non-sequence (%T)", r.Raw, value)
		}
		// Each [*] flat-maps one level: projections from a nested wildcard
		// are spliced into this sequence rather than nested.
		nested := containsWildcard(rest)
		out := make([]any, 0, len(seq))
		for _, elem := range seq {
			v, err := r.eval(elem, rest)
			if err != nil {
				return nil, err
			}
			if nested {
				inner, ok := v.([]any)
				if !ok {
					return nil, schema.NewErrorf(schema.ErrCodeResolution,
						"reference %s: nested wildcard produced non-sequence (%T)", r.Raw, v)
				}
				out = append(out, inner...)
			} else {
				out = append(out, v)
			}
		}
		return out, nil

	case seg.IsIndex:
		seq, ok := value.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"reference %s: index applied to non-sequence (%T)", r.Raw, value)
		}
		if seg.Index < 0 || seg.Index >= len(seq) {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"reference %s: index %d out of range (len %d)", r.Raw, seg.Index, len(seq))
		}
		return r.eval(seq[seg.Index], rest)

	default:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"reference %s: field %q accessed on non-mapping (%T)", r.Raw, seg.Field, value)
		}
		v, ok := m[seg.Field]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"reference %s: field %q not found", r.Raw, seg.Field)
		}
		return r.eval(v, rest)
	}
}

func containsWildcard(segs []Segment) bool {
	for _, s := range segs {
		if s.Wildcard {
			return true
		}
	}
	return false
}

// ResolveValue resolves one parameter value: reference strings are evaluated,
// mappings and sequences are resolved recursively, literals pass through. The
// returned value shares no structure with the store.
func ResolveValue(value any, store *Store) (any, error) {
	switch v := value.(type) {
	case string:
		ref, err := Parse(v)
		if err != nil {
			return v, nil // literal
		}
		return ref.Resolve(store)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			r, err := ResolveValue(elem, store)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			r, err := ResolveValue(elem, store)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveParams materializes a node's parameter frame: every value is
// resolved via ResolveValue and deep-copied so later store mutation (retries
// upstream) cannot race.
func ResolveParams(params map[string]any, store *Store) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, value := range params {
		r, err := ResolveValue(value, store)
		if err != nil {
			return nil, err
		}
		out[name] = deepCopyAny(r)
	}
	return out, nil
}

// CollectRefs walks a parameter set and returns the distinct node ids
// referenced anywhere inside it. Used by the validator for reference
// soundness and implicit edge inference.
func CollectRefs(params map[string]any) []string {
	seen := make(map[string]bool)
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if ref, err := Parse(t); err == nil {
				seen[ref.NodeID] = true
			}
		case map[string]any:
			for _, e := range t {
				walk(e)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	for _, v := range params {
		walk(v)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
