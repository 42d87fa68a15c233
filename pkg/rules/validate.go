package rules

import (
	"fmt"
	"sort"
)

// Validate walks expr and reports every structural problem and every
// unknown operator. A nil result means the expression is well formed and
// uses only recognised operators.
func Validate(expr any) []error {
	if e, ok := expr.(Expr); ok {
		expr = e.root
	}
	root, err := normalize(expr, "")
	if err != nil {
		return []error{err}
	}

	var problems []error
	walk(root, "", true, func(err error) {
		problems = append(problems, err)
	})
	return problems
}

// UnknownOperators returns the distinct unknown operators used in expr.
func UnknownOperators(expr any) []string {
	seen := make(map[string]struct{})
	for _, err := range Validate(expr) {
		if u, ok := err.(*UnknownOperatorError); ok {
			seen[u.Operator] = struct{}{}
		}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// checkStructure returns the first structural error in the tree. Unknown
// operators are not structural errors.
func checkStructure(root any, path string) error {
	var first error
	walk(root, path, true, func(err error) {
		if _, unknown := err.(*UnknownOperatorError); unknown {
			return
		}
		if first == nil {
			first = err
		}
	})
	return first
}

// walk visits every node. boolean is true when the node sits in boolean
// position, where a bare list is not allowed.
func walk(node any, path string, boolean bool, report func(error)) {
	switch n := node.(type) {
	case map[string]any:
		walkNode(n, path, report)
	case []any:
		if boolean {
			report(&ExprError{Path: displayPath(path), Message: "list is not a boolean expression"})
			return
		}
		for i, elem := range n {
			walk(elem, indexPath(path, i), false, report)
		}
	}
}

func walkNode(m map[string]any, path string, report func(error)) {
	op, args, err := splitNode(m, path)
	if err != nil {
		report(err)
		return
	}
	here := joinPath(path, op)

	switch op {
	case OpVar:
		if _, err := varName(args, here); err != nil {
			report(err)
		}
		return

	case OpAnd, OpOr:
		children, err := operandList(args, here, op)
		if err != nil {
			report(err)
			return
		}
		for i, child := range children {
			walk(child, indexPath(here, i), true, report)
		}
		return

	case OpNot, OpNotWord:
		child := args
		if list, ok := args.([]any); ok {
			if len(list) != 1 {
				report(&ExprError{Path: here, Operator: op, Message: fmt.Sprintf("expects 1 operand, got %d", len(list))})
				return
			}
			child = list[0]
		}
		walk(child, indexPath(here, 0), true, report)
		return
	}

	if _, known := comparisons[op]; !known {
		report(&UnknownOperatorError{Path: here, Operator: op})
		return
	}

	operands, err := operandList(args, here, op)
	if err != nil {
		report(err)
		return
	}
	if len(operands) != 2 {
		report(&ExprError{Path: here, Operator: op, Message: fmt.Sprintf("expects 2 operands, got %d", len(operands))})
		return
	}
	for i, operand := range operands {
		walk(operand, indexPath(here, i), false, report)
	}
}
