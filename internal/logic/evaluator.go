package logic

import (
	"context"

	"go.uber.org/zap"
)

// DefaultMaxDepth bounds recursion for trees loaded from untrusted catalogs.
const DefaultMaxDepth = 64

// Resolver evaluates the atomic test behind a reference.
type Resolver interface {
	Resolve(ctx context.Context, id string) Value
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id string) Value

func (f ResolverFunc) Resolve(ctx context.Context, id string) Value {
	return f(ctx, id)
}

// Cache holds resolved atomic test values for the lifetime of an
// Evaluator. It is not safe for concurrent use.
type Cache struct {
	values map[string]Value
	hits   int
	misses int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{values: make(map[string]Value)}
}

// Get returns the cached value for id.
func (c *Cache) Get(id string) (Value, bool) {
	v, ok := c.values[id]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores v for id.
func (c *Cache) Put(id string, v Value) {
	c.values[id] = v
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.values)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

// Evaluator evaluates logic trees. One Evaluator belongs to one goroutine.
type Evaluator struct {
	resolver Resolver
	cache    *Cache
	maxDepth int
	logger   *zap.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(depth int) EvaluatorOption {
	return func(e *Evaluator) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCache shares an existing cache.
func WithCache(c *Cache) EvaluatorOption {
	return func(e *Evaluator) {
		if c != nil {
			e.cache = c
		}
	}
}

// NewEvaluator creates an Evaluator that resolves references through r.
func NewEvaluator(r Resolver, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		resolver: r,
		cache:    NewCache(),
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache returns the evaluator's reference cache.
func (e *Evaluator) Cache() *Cache {
	return e.cache
}

// Evaluate returns the tri-state value of n. A nil tree is Unknown.
func (e *Evaluator) Evaluate(ctx context.Context, n *Node) Value {
	return e.eval(ctx, n, 0)
}

// Reference resolves one atomic test by id, consulting the cache first.
// Negation is applied after the cache so "x" and "!x" share an entry.
func (e *Evaluator) Reference(ctx context.Context, id string, negated bool) Value {
	v, ok := e.cache.Get(id)
	if !ok {
		if e.resolver == nil {
			v = Unknown
		} else {
			v = e.resolver.Resolve(ctx, id)
		}
		e.cache.Put(id, v)
	}
	if negated {
		return v.Not()
	}
	return v
}

func (e *Evaluator) eval(ctx context.Context, n *Node, depth int) Value {
	if n == nil {
		return Unknown
	}
	if depth > e.maxDepth {
		e.logger.Warn("logic tree exceeds depth limit",
			zap.Int("max_depth", e.maxDepth))
		return Unknown
	}

	switch n.Op {
	case OpRef:
		return e.Reference(ctx, n.Ref, n.Negated)
	case OpTrue:
		return True
	case OpFalse:
		return False
	case OpAnd:
		return e.and(ctx, n.Children, depth)
	case OpNand:
		return e.and(ctx, n.Children, depth).Not()
	case OpOr:
		return e.or(ctx, n.Children, depth)
	case OpNor:
		return e.or(ctx, n.Children, depth).Not()
	case OpNot:
		if len(n.Children) != 1 {
			e.logger.Warn("NOT node needs exactly one operand",
				zap.Int("operands", len(n.Children)))
			return Unknown
		}
		return e.eval(ctx, n.Children[0], depth+1).Not()
	case "":
		e.logger.Warn("logic node without testType")
		return Unknown
	default:
		e.logger.Warn("unknown logic node type", zap.String("type", string(n.Op)))
		return Unknown
	}
}

// and returns False as soon as a child is False, even after Unknown siblings.
func (e *Evaluator) and(ctx context.Context, children []*Node, depth int) Value {
	result := True
	for _, c := range children {
		switch e.eval(ctx, c, depth+1) {
		case False:
			return False
		case Unknown:
			result = Unknown
		}
	}
	return result
}

func (e *Evaluator) or(ctx context.Context, children []*Node, depth int) Value {
	result := False
	for _, c := range children {
		switch e.eval(ctx, c, depth+1) {
		case True:
			return True
		case Unknown:
			result = Unknown
		}
	}
	return result
}
