// internal/rules/fieldpath.go
package rules

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/tripwire/internal/types"
	"github.com/sugawarayuuta/sonnet"
)

/*
 * Response path expressions for webhook conditions.
 *
 * Expressions use dots for object keys and brackets for array indices or
 * quoted keys: `data.prices[0].usd`, `result["last-trade"].price`. A leading
 * `$` root marker is accepted and ignored.
 *
 * Resolution walks the decoded body one segment at a time. A numeric dotted
 * segment (`items.0`) indexes arrays as well, so both spellings behave the
 * same. Any segment that cannot be followed (missing key, index out of
 * range, stepping into a scalar or null) yields ErrPathResolution; there is
 * no partial result.
 */

// MaxPathDepth bounds expression length to keep resolution cheap.
const MaxPathDepth = 32

// PathSegment is one component of a path expression.
type PathSegment struct {
	Key     string // object key (also tried as index on arrays when numeric)
	Index   int    // array index when IsIndex
	IsIndex bool   // disambiguates Index=0 from unset
}

func (s PathSegment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// ParsePath compiles a dot/bracket expression into segments.
func ParsePath(expr string) ([]PathSegment, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")
	if expr == "" {
		return nil, nil
	}

	var segs []PathSegment
	var key strings.Builder
	flush := func() {
		if key.Len() > 0 {
			segs = append(segs, PathSegment{Key: key.String()})
			key.Reset()
		}
	}

	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated '[' at offset %d in %q", i, expr)
			}
			inner := strings.TrimSpace(expr[i+1 : i+end])
			seg, err := bracketSegment(inner)
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, expr)
			}
			segs = append(segs, seg)
			i += end
		case ']':
			return nil, fmt.Errorf("unexpected ']' at offset %d in %q", i, expr)
		default:
			key.WriteByte(c)
		}
	}
	flush()

	if len(segs) > MaxPathDepth {
		return nil, fmt.Errorf("path %q exceeds maximum depth %d", expr, MaxPathDepth)
	}
	return segs, nil
}

func bracketSegment(inner string) (PathSegment, error) {
	if n := len(inner); n >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[n-1] == inner[0] {
		return PathSegment{Key: inner[1 : n-1]}, nil
	}
	idx, err := strconv.Atoi(inner)
	if err != nil || idx < 0 {
		return PathSegment{}, fmt.Errorf("invalid index %q", inner)
	}
	return PathSegment{Index: idx, IsIndex: true}, nil
}

// Resolve follows path through decoded JSON data.
// Returns an error wrapping types.ErrPathResolution when any segment is missing.
func Resolve(path []PathSegment, data any) (any, error) {
	current := data
	for i, seg := range path {
		next, ok := step(current, seg)
		if !ok {
			return nil, fmt.Errorf("%w: segment %d (%s) of %s", types.ErrPathResolution, i, seg, formatPath(path))
		}
		current = next
	}
	return current, nil
}

// ResolveJSON decodes body and resolves the expression against it.
func ResolveJSON(expr string, body []byte) (any, error) {
	path, err := ParsePath(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPathResolution, err)
	}
	// Numbers stay literal so large integers compare exactly.
	dec := sonnet.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode response body: trailing data after JSON value")
	}
	return Resolve(path, decoded)
}

func step(current any, seg PathSegment) (any, bool) {
	switch v := current.(type) {
	case map[string]any:
		key := seg.Key
		if seg.IsIndex {
			key = strconv.Itoa(seg.Index)
		}
		val, ok := v[key]
		return val, ok
	case []any:
		idx := seg.Index
		if !seg.IsIndex {
			n, err := strconv.Atoi(seg.Key)
			if err != nil {
				return nil, false
			}
			idx = n
		}
		if idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	default:
		// null or scalar with path remaining
		return nil, false
	}
}

func formatPath(path []PathSegment) string {
	var b strings.Builder
	for i, seg := range path {
		if i > 0 && !seg.IsIndex {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}
