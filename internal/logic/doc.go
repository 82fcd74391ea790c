// Package logic implements the tri-state boolean trees that describe when a
// firmware is vulnerable, fixed or not affected.
//
// A tree combines references to atomic tests (by UUID, optionally negated
// with a leading "!") using TRUE, FALSE, AND, OR, NAND, NOR and NOT. Every
// node evaluates to True, False or Unknown. Connectives short-circuit on a
// decisive child; otherwise any Unknown child makes the result Unknown.
//
// Trees are read from catalog JSON:
//
//	{"testType": "AND", "subtests": ["6f1c...", "!9a2b...",
//	    {"testType": "NOT", "subtests": "c4d5..."}]}
//
// An Evaluator caches every resolved reference for its lifetime and is
// meant to be owned by a single worker goroutine.
package logic
