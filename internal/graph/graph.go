// Package graph defines the property-graph store contract consumed by the
// resolver: session/transaction scoping with an access-mode hint, node and
// relationship records, and a small structural query surface (filtered
// listings, step-wise traversal, counts, degree).
//
// Two adapters implement the contract: memgraph (in-memory, snapshot
// transactions) and sqlgraph (sqlite-backed).
package graph

import (
	"context"
	"errors"
)

// Node labels used by the content model.
const (
	LabelLeaf = "Leaf"
	LabelStem = "Stem"
	LabelPost = "Post"
	LabelTag  = "Tag"
	LabelRoot = "Root"
)

// Relationship types connecting the entities.
const (
	RelGrow   = "GROW"   // Stem -> Leaf
	RelExtend = "EXTEND" // Leaf -> Stem
	RelHas    = "HAS"    // Post -> Stem
	RelTag    = "TAG"    // Tag -> Stem
)

// ErrNoNode is returned by identity and single-property lookups that match
// nothing. Adapters must return it verbatim so callers can errors.Is it.
var ErrNoNode = errors.New("graph: no such node")

// ErrConstraint is returned (possibly wrapped) when a write violates a
// uniqueness constraint.
var ErrConstraint = errors.New("graph: unique constraint violated")

// AccessMode hints whether a session will only read.
type AccessMode int

const (
	ModeRead AccessMode = iota
	ModeWrite
)

// Node is a raw stored node: generated identity, primary label, property bag.
type Node struct {
	ID    int64
	Label string
	Props map[string]any
}

// Rel is a directed relationship between two nodes.
type Rel struct {
	ID   int64
	Type string
	From int64
	To   int64
}

// Direction of a traversal step relative to the current node.
type Direction int

const (
	Out Direction = iota // follow relationships leaving the node
	In                   // follow relationships arriving at the node
)

// Step describes one hop of a traversal: follow relationships of Type in
// Direction, landing on nodes with Label (empty Label matches any).
type Step struct {
	Rel   string
	Dir   Direction
	Label string
}

// NodeFilter narrows a node listing. All conditions are conjunctive.
// String match values are always bound as parameters by adapters, never
// interpolated into query text.
type NodeFilter struct {
	// Equals requires property equality.
	Equals map[string]any
	// LessThan / GreaterThan require an integer property strictly below/above
	// the given bound.
	LessThan    map[string]int64
	GreaterThan map[string]int64
	// ContainsFold requires a case-insensitive substring match on a string
	// property.
	ContainsFold map[string]string
	// Structural edge conditions on the candidate node.
	WithInbound     []string
	WithoutInbound  []string
	WithOutbound    []string
	WithoutOutbound []string
}

// ListOptions bounds and orders a listing. A zero Limit means unbounded.
// OrderBy names an integer property; Descending flips the default ascending
// order. Ties are broken by node identity ascending.
type ListOptions struct {
	Filter     NodeFilter
	OrderBy    string
	Descending bool
	Limit      int
}

// Reader is the read surface shared by auto-commit sessions and transactions.
type Reader interface {
	// NodeByID resolves a node by identity; ErrNoNode when absent.
	NodeByID(ctx context.Context, id int64) (*Node, error)
	// FindNode matches a single node by label and one property value;
	// ErrNoNode when absent.
	FindNode(ctx context.Context, label, prop string, value any) (*Node, error)
	// ListNodes returns nodes with the given label, filtered, ordered, bounded.
	ListNodes(ctx context.Context, label string, opts ListOptions) ([]*Node, error)
	// Traverse walks steps from the start node and returns the nodes reached
	// by the final step, filtered/ordered/bounded like ListNodes.
	Traverse(ctx context.Context, start int64, steps []Step, opts ListOptions) ([]*Node, error)
	// CountNodes reports how many nodes match label and filter.
	CountNodes(ctx context.Context, label string, filter NodeFilter) (int64, error)
	// CountTraverse reports how many nodes the traversal reaches.
	CountTraverse(ctx context.Context, start int64, steps []Step) (int64, error)
	// Degree reports total adjacency: relationships of every type touching
	// the node, in either direction.
	Degree(ctx context.Context, id int64) (int64, error)
}

// Writer is the mutation surface, available only inside a transaction.
type Writer interface {
	CreateNode(ctx context.Context, label string, props map[string]any) (*Node, error)
	// MergeNode matches a node by label and one property, creating it with
	// props when absent. The match property must be present in props.
	MergeNode(ctx context.Context, label, prop string, value any, props map[string]any) (*Node, error)
	CreateRel(ctx context.Context, relType string, from, to int64) (*Rel, error)
	// SetProps merges props into an existing node's property bag.
	SetProps(ctx context.Context, id int64, props map[string]any) error
}

// Tx is an atomic unit of graph mutation. Rollback after Commit is a no-op.
type Tx interface {
	Reader
	Writer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Session scopes store access to one logical operation. Sessions are not
// safe for concurrent use and must be closed on every exit path.
type Session interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Store is the process-wide graph database handle.
type Store interface {
	Session(ctx context.Context, mode AccessMode) (Session, error)
	// EnsureUnique installs (idempotently) a uniqueness constraint on one
	// property of one label.
	EnsureUnique(ctx context.Context, label, prop string) error
	Close() error
}

// PropInt64 narrows a stored numeric property to int64. Adapters may store
// numbers as int, int64 or float64 depending on their codec.
func PropInt64(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// PropString returns a string property or "".
func PropString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// PropBool returns a boolean property or false.
func PropBool(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}
