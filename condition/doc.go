// Package condition evaluates JSON-logic style condition trees against an
// input record.
//
// The operator set is closed. An object whose only key is an operator is an
// operation; any other object is literal data and is returned untouched, so
// nested records can appear inside a condition. This is intentional.
//
// Evaluation fails closed: a tree that does not validate, or that errors
// while being applied, never matches. EvaluateDetailed keeps the error so
// callers can tell a failure apart from a plain non-match.
package condition
