package logic

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allValues = []Value{Unknown, False, True}

func konst(v Value) *Node {
	switch v {
	case True:
		return Const(true)
	case False:
		return Const(false)
	default:
		return Ref("unknown")
	}
}

// mapResolver answers from a map; missing ids are Unknown.
type mapResolver struct {
	values map[string]Value
	calls  map[string]int
}

func (m *mapResolver) Resolve(ctx context.Context, id string) Value {
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[id]++
	return m.values[id]
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(&mapResolver{})
}

func TestEvaluate_TwoValuedEquivalence(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()
	bools := []bool{false, true}

	for _, a := range bools {
		for _, b := range bools {
			na, nb := Const(a), Const(b)
			assert.Equal(t, FromBool(a && b), e.Evaluate(ctx, And(na, nb)))
			assert.Equal(t, FromBool(a || b), e.Evaluate(ctx, Or(na, nb)))
			assert.Equal(t, FromBool(!(a && b)), e.Evaluate(ctx, Nand(na, nb)))
			assert.Equal(t, FromBool(!(a || b)), e.Evaluate(ctx, Nor(na, nb)))
		}
		assert.Equal(t, FromBool(!a), e.Evaluate(ctx, Not(Const(a))))
	}
}

func TestEvaluate_DeMorgan(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()

	for _, a := range allValues {
		for _, b := range allValues {
			na, nb := konst(a), konst(b)
			assert.Equal(t,
				e.Evaluate(ctx, Nand(na, nb)),
				e.Evaluate(ctx, Or(Not(na), Not(nb))),
				"NAND(%v,%v)", a, b)
			assert.Equal(t,
				e.Evaluate(ctx, Nor(na, nb)),
				e.Evaluate(ctx, And(Not(na), Not(nb))),
				"NOR(%v,%v)", a, b)
		}
	}
}

func TestEvaluate_EmptyConnectives(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()

	assert.Equal(t, True, e.Evaluate(ctx, And()))
	assert.Equal(t, False, e.Evaluate(ctx, Or()))
	assert.Equal(t, False, e.Evaluate(ctx, Nand()))
	assert.Equal(t, True, e.Evaluate(ctx, Nor()))
}

func TestEvaluate_Unknown(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()
	u := Ref("missing")

	tests := []struct {
		name string
		node *Node
		want Value
	}{
		{"AND with unknown", And(Const(true), u), Unknown},
		{"AND decisive false after unknown", And(u, Const(false)), False},
		{"OR with unknown", Or(Const(false), u), Unknown},
		{"OR decisive true after unknown", Or(u, Const(true)), True},
		{"NAND decisive", Nand(u, Const(false)), True},
		{"NOR decisive", Nor(u, Const(true)), False},
		{"NOT unknown", Not(u), Unknown},
		{"negated unknown reference", Ref("!missing"), Unknown},
		{"nil tree", nil, Unknown},
		{"unknown op", &Node{Op: "XOR", Children: []*Node{Const(true)}}, Unknown},
		{"missing op", &Node{}, Unknown},
		{"NOT without operand", &Node{Op: OpNot}, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(ctx, tt.node))
		})
	}
}

func TestEvaluate_ReferencesAndCache(t *testing.T) {
	r := &mapResolver{values: map[string]Value{"a": True, "b": False}}
	e := NewEvaluator(r)
	ctx := context.Background()

	assert.Equal(t, True, e.Evaluate(ctx, Ref("a")))
	assert.Equal(t, False, e.Evaluate(ctx, Ref("!a")))
	assert.Equal(t, True, e.Evaluate(ctx, Ref("!b")))
	assert.Equal(t, True, e.Evaluate(ctx, And(Ref("a"), Ref("!b"), Ref("a"))))

	assert.Equal(t, 1, r.calls["a"], "resolved once, then cached")
	assert.Equal(t, 1, r.calls["b"])
	assert.Equal(t, 2, e.Cache().Len())

	hits, misses := e.Cache().Stats()
	assert.Equal(t, 2, misses)
	assert.Equal(t, 4, hits)
}

func TestEvaluate_ShortCircuitSkipsResolver(t *testing.T) {
	r := &mapResolver{values: map[string]Value{"x": True}}
	e := NewEvaluator(r)

	assert.Equal(t, False, e.Evaluate(context.Background(), And(Const(false), Ref("x"))))
	assert.Zero(t, r.calls["x"])
}

func TestEvaluate_DepthLimit(t *testing.T) {
	deep := Const(true)
	for i := 0; i < 10; i++ {
		deep = Not(Not(deep))
	}

	assert.Equal(t, True, NewEvaluator(nil).Evaluate(context.Background(), deep))
	assert.Equal(t, Unknown, NewEvaluator(nil, WithMaxDepth(5)).Evaluate(context.Background(), deep))
}

func TestNode_UnmarshalJSON(t *testing.T) {
	doc := `{
		"testType": "AND",
		"subtests": [
			"11111111-1111-1111-1111-111111111111",
			"!22222222-2222-2222-2222-222222222222",
			{"testType": "NOT", "subtests": "33333333-3333-3333-3333-333333333333"},
			{"testType": "NOT", "subtests": [{"testType": "FALSE"}]},
			{"testType": "OR", "subtests": []}
		]
	}`

	var n Node
	require.NoError(t, json.Unmarshal([]byte(doc), &n))

	assert.Equal(t, OpAnd, n.Op)
	require.Len(t, n.Children, 5)
	assert.Equal(t, &Node{Op: OpRef, Ref: "11111111-1111-1111-1111-111111111111"}, n.Children[0])
	assert.Equal(t, &Node{Op: OpRef, Ref: "22222222-2222-2222-2222-222222222222", Negated: true}, n.Children[1])
	assert.Equal(t, OpNot, n.Children[2].Op)
	require.Len(t, n.Children[2].Children, 1)
	assert.Equal(t, "33333333-3333-3333-3333-333333333333", n.Children[2].Children[0].Ref)
	assert.Equal(t, OpFalse, n.Children[3].Children[0].Op)
	assert.Empty(t, n.Children[4].Children)

	assert.Equal(t, []string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
		"33333333-3333-3333-3333-333333333333",
	}, n.References())

	r := &mapResolver{values: map[string]Value{
		"11111111-1111-1111-1111-111111111111": True,
		"22222222-2222-2222-2222-222222222222": False,
		"33333333-3333-3333-3333-333333333333": False,
	}}
	// AND(T, !F, NOT F, NOT FALSE, OR()) = AND(T, T, T, T, F)
	assert.Equal(t, False, NewEvaluator(r).Evaluate(context.Background(), &n))
}

func TestNode_JSONRoundTrip(t *testing.T) {
	tree := Or(Ref("!a"), Not(Ref("b")), Nand(Const(true)), Nor())

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, tree.String(), back.String())
	assert.Equal(t, "OR(!a, NOT(b), NAND(TRUE), NOR())", back.String())
}

func TestNode_UnmarshalJSON_Errors(t *testing.T) {
	for _, doc := range []string{`42`, `{"testType": "AND", "subtests": [42]}`, `{"testType": 1}`} {
		var n Node
		err := json.NewDecoder(strings.NewReader(doc)).Decode(&n)
		assert.Error(t, err, doc)
	}
}
