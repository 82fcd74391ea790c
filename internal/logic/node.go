package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Op is the connective of a logic node.
type Op string

const (
	OpTrue  Op = "TRUE"
	OpFalse Op = "FALSE"
	OpAnd   Op = "AND"
	OpOr    Op = "OR"
	OpNand  Op = "NAND"
	OpNor   Op = "NOR"
	OpNot   Op = "NOT"
	// OpRef marks a reference to an atomic test. It has no JSON form of
	// its own: references are bare UUID strings.
	OpRef Op = "REF"
)

// NegationPrefix marks a negated reference.
const NegationPrefix = "!"

// Node is one node of a vulnerability logic tree.
type Node struct {
	Op       Op
	Children []*Node
	// Ref and Negated are set for OpRef nodes.
	Ref     string
	Negated bool
}

// Ref returns a reference node; a leading "!" negates it.
func Ref(s string) *Node {
	if strings.HasPrefix(s, NegationPrefix) {
		return &Node{Op: OpRef, Ref: strings.TrimPrefix(s, NegationPrefix), Negated: true}
	}
	return &Node{Op: OpRef, Ref: s}
}

// Const returns a TRUE or FALSE node.
func Const(b bool) *Node {
	if b {
		return &Node{Op: OpTrue}
	}
	return &Node{Op: OpFalse}
}

// And, Or, Nand, Nor and Not build connective nodes.
func And(children ...*Node) *Node  { return &Node{Op: OpAnd, Children: children} }
func Or(children ...*Node) *Node   { return &Node{Op: OpOr, Children: children} }
func Nand(children ...*Node) *Node { return &Node{Op: OpNand, Children: children} }
func Nor(children ...*Node) *Node  { return &Node{Op: OpNor, Children: children} }
func Not(child *Node) *Node        { return &Node{Op: OpNot, Children: []*Node{child}} }

type nodeJSON struct {
	TestType string          `json:"testType"`
	Subtests json.RawMessage `json:"subtests,omitempty"`
}

// UnmarshalJSON accepts a UUID string or a {"testType", "subtests"} object.
// NOT takes its operand either directly or as a one-element list.
func (n *Node) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = *Ref(s)
		return nil
	}

	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("logic node: %w", err)
	}

	node := Node{Op: Op(raw.TestType)}
	subtests := bytes.TrimSpace(raw.Subtests)
	if len(subtests) > 0 && !bytes.Equal(subtests, []byte("null")) {
		if subtests[0] == '[' {
			if err := json.Unmarshal(subtests, &node.Children); err != nil {
				return fmt.Errorf("logic node %s: %w", raw.TestType, err)
			}
		} else {
			child := new(Node)
			if err := json.Unmarshal(subtests, child); err != nil {
				return fmt.Errorf("logic node %s: %w", raw.TestType, err)
			}
			node.Children = []*Node{child}
		}
	}

	*n = node
	return nil
}

// MarshalJSON writes the form UnmarshalJSON reads.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch n.Op {
	case OpRef:
		ref := n.Ref
		if n.Negated {
			ref = NegationPrefix + ref
		}
		return json.Marshal(ref)
	case OpTrue, OpFalse:
		return json.Marshal(struct {
			TestType string `json:"testType"`
		}{string(n.Op)})
	case OpNot:
		var child *Node
		if len(n.Children) > 0 {
			child = n.Children[0]
		}
		return json.Marshal(struct {
			TestType string `json:"testType"`
			Subtests *Node  `json:"subtests"`
		}{string(n.Op), child})
	default:
		children := n.Children
		if children == nil {
			children = []*Node{}
		}
		return json.Marshal(struct {
			TestType string  `json:"testType"`
			Subtests []*Node `json:"subtests"`
		}{string(n.Op), children})
	}
}

// References returns every atomic test UUID the tree refers to, in
// first-seen order.
func (n *Node) References() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Node, int)
	walk = func(node *Node, depth int) {
		if node == nil || depth > DefaultMaxDepth {
			return
		}
		if node.Op == OpRef {
			if !seen[node.Ref] {
				seen[node.Ref] = true
				out = append(out, node.Ref)
			}
			return
		}
		for _, c := range node.Children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return out
}

// String renders the tree in a compact prefix form for logs.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Op {
	case OpRef:
		if n.Negated {
			return NegationPrefix + n.Ref
		}
		return n.Ref
	case OpTrue, OpFalse:
		return string(n.Op)
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", n.Op, strings.Join(parts, ", "))
}
