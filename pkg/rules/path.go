package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Context is an evaluation context encoded once so that many expressions
// can be evaluated against it. It is safe for concurrent use.
type Context struct {
	raw []byte
}

// NewContext encodes data for path resolution. data is typically a
// map[string]any but any JSON-encodable value is accepted.
func NewContext(data any) (*Context, error) {
	if data == nil {
		return &Context{raw: []byte("{}")}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	return &Context{raw: raw}, nil
}

// Resolve returns the value at the dotted path, or nil if the path is
// missing or explicitly null. Array elements are addressed by index
// ("items.0.sku").
func (c *Context) Resolve(path string) any {
	if c == nil || path == "" {
		return nil
	}
	res := gjson.GetBytes(c.raw, escapePath(path))
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	return res.Value()
}

// ResolveNumber returns the value at path as a number. JSON numbers and
// numeric strings are accepted; anything else reports ok=false.
func (c *Context) ResolveNumber(path string) (float64, bool) {
	if c == nil || path == "" {
		return 0, false
	}
	res := gjson.GetBytes(c.raw, escapePath(path))
	switch res.Type {
	case gjson.Number:
		return res.Num, true
	case gjson.String:
		s := strings.TrimSpace(res.Str)
		if !isPlainNumber(s) {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// escapePath escapes gjson metacharacters in every path segment so that a
// dotted path is always interpreted literally.
func escapePath(path string) string {
	if !strings.ContainsAny(path, `*?#|@\!=<>%`) {
		return path
	}
	var b strings.Builder
	b.Grow(len(path) + 8)
	for _, r := range path {
		switch r {
		case '*', '?', '#', '|', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isPlainNumber reports whether s is a decimal number such as "12",
// "-3.5" or "1e3". Hex, "Inf" and "NaN" are rejected.
func isPlainNumber(s string) bool {
	if s == "" {
		return false
	}
	digits := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r == '-' || r == '+':
			if i != 0 && s[i-1] != 'e' && s[i-1] != 'E' {
				return false
			}
		case r == '.', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return digits
}
