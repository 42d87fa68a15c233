// Package rules evaluates compliance rule expressions against a step's
// evaluation context.
//
// A rule expression is a small boolean tree encoded as JSON (or the
// equivalent YAML). Each node is an object with exactly one operator key
// whose value is the list of operands:
//
//	{"and": [
//	    {">=": [{"var": "amount"}, 100]},
//	    {"==": [{"var": "country"}, "US"]}
//	]}
//
// # Operators
//
//   - and, or: all / any child is true
//   - ==, !=, >, >=, <, <=: binary comparison of resolved operands
//   - !, not: negation of a single child
//   - in: membership of the first operand in a list (or substring of a string)
//   - starts_with: literal string prefix
//
// A {"var": "a.b.c"} operand is a dotted path resolved against the context.
// A missing path resolves to null, and every comparison involving null is
// false. Evaluation never panics on missing data.
//
// # Unknown operators
//
// A node whose operator is not recognised evaluates to false instead of
// returning an error. Rule authors can detect this with Validate, which
// reports unknown operators alongside structural errors.
//
// # Usage
//
//	expr, err := rules.Parse([]byte(`{">": [{"var": "order.total"}, 5000]}`))
//	if err != nil {
//	    return err
//	}
//	violated, err := rules.Evaluate(expr, map[string]any{
//	    "order": map[string]any{"total": 7200},
//	})
//
// The evaluator is a pure recursive walk with no loops or external calls.
// It terminates on any finite acyclic tree.
package rules
