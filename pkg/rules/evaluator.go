package rules

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Expr is a parsed rule expression.
type Expr struct {
	root any
}

// Parse decodes a JSON expression and checks its structure.
func Parse(data []byte) (Expr, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return Expr{}, &ExprError{Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return FromValue(root)
}

// FromValue builds an expression from an already decoded JSON or YAML
// value. Maps with non-string keys are converted where possible.
func FromValue(v any) (Expr, error) {
	root, err := normalize(v, "")
	if err != nil {
		return Expr{}, err
	}
	if err := checkStructure(root, ""); err != nil {
		return Expr{}, err
	}
	return Expr{root: root}, nil
}

// Raw returns the decoded expression tree.
func (e Expr) Raw() any {
	return e.root
}

// MarshalJSON encodes the expression tree.
func (e Expr) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.root)
}

// Eval evaluates the expression against data.
func (e Expr) Eval(data map[string]any) (bool, error) {
	return Evaluate(e.root, data)
}

// Evaluate evaluates expr against data. expr may be an Expr or a decoded
// expression tree.
func Evaluate(expr any, data map[string]any) (bool, error) {
	c, err := NewContext(data)
	if err != nil {
		return false, err
	}
	return c.Eval(expr)
}

// Eval evaluates expr against the context.
func (c *Context) Eval(expr any) (bool, error) {
	switch e := expr.(type) {
	case Expr:
		expr = e.root
	case *Expr:
		if e == nil {
			return false, &ExprError{Message: "nil expression"}
		}
		expr = e.root
	default:
		n, err := normalize(expr, "")
		if err != nil {
			return false, err
		}
		expr = n
	}
	return c.evalBool(expr, "")
}

// evalBool evaluates a node in boolean position.
func (c *Context) evalBool(node any, path string) (bool, error) {
	m, ok := node.(map[string]any)
	if !ok {
		if _, isList := node.([]any); isList {
			return false, &ExprError{Path: displayPath(path), Message: "list is not a boolean expression"}
		}
		return truthy(node), nil
	}

	op, args, err := splitNode(m, path)
	if err != nil {
		return false, err
	}
	here := joinPath(path, op)

	switch op {
	case OpAnd:
		children, err := operandList(args, here, op)
		if err != nil {
			return false, err
		}
		for i, child := range children {
			ok, err := c.evalBool(child, indexPath(here, i))
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		children, err := operandList(args, here, op)
		if err != nil {
			return false, err
		}
		for i, child := range children {
			ok, err := c.evalBool(child, indexPath(here, i))
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot, OpNotWord:
		child := args
		if list, ok := args.([]any); ok {
			if len(list) != 1 {
				return false, &ExprError{Path: here, Operator: op, Message: fmt.Sprintf("expects 1 operand, got %d", len(list))}
			}
			child = list[0]
		}
		ok, err := c.evalBool(child, indexPath(here, 0))
		if err != nil {
			return false, err
		}
		return !ok, nil

	case OpVar:
		v, err := c.value(m, path)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}

	compare, known := comparisons[op]
	if !known {
		return false, nil
	}

	operands, err := operandList(args, here, op)
	if err != nil {
		return false, err
	}
	if len(operands) != 2 {
		return false, &ExprError{Path: here, Operator: op, Message: fmt.Sprintf("expects 2 operands, got %d", len(operands))}
	}
	left, err := c.value(operands[0], indexPath(here, 0))
	if err != nil {
		return false, err
	}
	right, err := c.value(operands[1], indexPath(here, 1))
	if err != nil {
		return false, err
	}
	return compare(left, right), nil
}

// value resolves a node in operand position.
func (c *Context) value(node any, path string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if raw, ok := n[OpVar]; ok && len(n) == 1 {
			name, err := varName(raw, joinPath(path, OpVar))
			if err != nil {
				return nil, err
			}
			return c.Resolve(name), nil
		}
		return c.evalBool(n, path)

	case []any:
		out := make([]any, len(n))
		for i, elem := range n {
			v, err := c.value(elem, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	default:
		return node, nil
	}
}

// splitNode returns the single operator of a node and its arguments.
func splitNode(m map[string]any, path string) (string, any, error) {
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", nil, &ExprError{
			Path:    displayPath(path),
			Message: fmt.Sprintf("node must have exactly one operator, got %d %v", len(m), keys),
		}
	}
	for op, args := range m {
		return op, args, nil
	}
	return "", nil, nil
}

func operandList(args any, path, op string) ([]any, error) {
	list, ok := args.([]any)
	if !ok {
		return nil, &ExprError{Path: path, Operator: op, Message: fmt.Sprintf("operands must be a list, got %T", args)}
	}
	return list, nil
}

// varName accepts {"var": "a.b"} and {"var": ["a.b"]}.
func varName(raw any, path string) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []any:
		if len(v) == 1 {
			if s, ok := v[0].(string); ok {
				return s, nil
			}
		}
	}
	return "", &ExprError{Path: path, Operator: OpVar, Message: fmt.Sprintf("variable name must be a string, got %v", raw)}
}

// normalize converts YAML-decoded trees (map[any]any, []map[string]any)
// into the JSON shapes the evaluator walks.
func normalize(v any, path string) (any, error) {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			nv, err := normalize(val, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			ks, ok := k.(string)
			if !ok {
				return nil, &ExprError{Path: displayPath(path), Message: fmt.Sprintf("operator key must be a string, got %T", k)}
			}
			nv, err := normalize(val, joinPath(path, ks))
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, elem := range n {
			nv, err := normalize(elem, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(n))
		for i, elem := range n {
			nv, err := normalize(elem, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

func joinPath(path, op string) string {
	if path == "" {
		return op
	}
	return path + "." + op
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
