// Package memgraph is an in-memory implementation of the graph store
// contract. Transactions work on a copy-on-write snapshot that is swapped in
// atomically on commit, so a rolled-back transaction leaves no trace. A
// single-writer lock serializes transactions; reads run concurrently against
// the committed state.
package memgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/canopy-notes/canopy/internal/graph"
)

type uniqueKey struct {
	label string
	prop  string
}

// state is one immutable-after-publish version of the graph.
type state struct {
	nodes map[int64]*graph.Node
	rels  map[int64]*graph.Rel
}

func newState() *state {
	return &state{
		nodes: make(map[int64]*graph.Node),
		rels:  make(map[int64]*graph.Rel),
	}
}

func (s *state) clone() *state {
	c := &state{
		nodes: make(map[int64]*graph.Node, len(s.nodes)),
		rels:  make(map[int64]*graph.Rel, len(s.rels)),
	}
	for id, n := range s.nodes {
		props := make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			props[k] = v
		}
		c.nodes[id] = &graph.Node{ID: n.ID, Label: n.Label, Props: props}
	}
	for id, r := range s.rels {
		cp := *r
		c.rels[id] = &cp
	}
	return c
}

// DB is an in-memory graph store.
type DB struct {
	mu          sync.RWMutex // guards st, counters, constraints
	writerMu    sync.Mutex   // serializes transactions
	st          *state
	nextNodeID  int64
	nextRelID   int64
	constraints map[uniqueKey]struct{}
}

// Open creates an empty in-memory store.
func Open() *DB {
	return &DB{
		st:          newState(),
		constraints: make(map[uniqueKey]struct{}),
	}
}

// Close releases nothing; it exists to satisfy the contract.
func (db *DB) Close() error { return nil }

// EnsureUnique registers a uniqueness constraint, validating existing data.
func (db *DB) EnsureUnique(_ context.Context, label, prop string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	seen := make(map[any]struct{})
	for _, n := range db.st.nodes {
		if n.Label != label {
			continue
		}
		v, ok := n.Props[prop]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: %s.%s", graph.ErrConstraint, label, prop)
		}
		seen[v] = struct{}{}
	}
	db.constraints[uniqueKey{label, prop}] = struct{}{}
	return nil
}

// Session opens a store session with the given access mode.
func (db *DB) Session(_ context.Context, mode graph.AccessMode) (graph.Session, error) {
	return &session{db: db, mode: mode}, nil
}

type session struct {
	db     *DB
	mode   graph.AccessMode
	closed bool
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (s *session) Begin(_ context.Context) (graph.Tx, error) {
	if s.closed {
		return nil, fmt.Errorf("memgraph: session closed")
	}
	if s.mode != graph.ModeWrite {
		return nil, fmt.Errorf("memgraph: transaction requires a write session")
	}
	s.db.writerMu.Lock()
	s.db.mu.RLock()
	snap := s.db.st.clone()
	s.db.mu.RUnlock()
	return &tx{db: s.db, st: snap}, nil
}

// Committed-state reads.

func (s *session) view() *state {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.st
}

func (s *session) NodeByID(_ context.Context, id int64) (*graph.Node, error) {
	return nodeByID(s.view(), id)
}

func (s *session) FindNode(_ context.Context, label, prop string, value any) (*graph.Node, error) {
	return findNode(s.view(), label, prop, value)
}

func (s *session) ListNodes(_ context.Context, label string, opts graph.ListOptions) ([]*graph.Node, error) {
	return listNodes(s.view(), label, opts), nil
}

func (s *session) Traverse(_ context.Context, start int64, steps []graph.Step, opts graph.ListOptions) ([]*graph.Node, error) {
	return traverse(s.view(), start, steps, opts), nil
}

func (s *session) CountNodes(_ context.Context, label string, filter graph.NodeFilter) (int64, error) {
	return int64(len(listNodes(s.view(), label, graph.ListOptions{Filter: filter}))), nil
}

func (s *session) CountTraverse(_ context.Context, start int64, steps []graph.Step) (int64, error) {
	return int64(len(traverse(s.view(), start, steps, graph.ListOptions{}))), nil
}

func (s *session) Degree(_ context.Context, id int64) (int64, error) {
	return degree(s.view(), id), nil
}

// tx mutates a private snapshot until commit.
type tx struct {
	db   *DB
	st   *state
	done bool
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("memgraph: transaction already finished")
	}
	t.done = true
	t.db.mu.Lock()
	t.db.st = t.st
	t.db.mu.Unlock()
	t.db.writerMu.Unlock()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.writerMu.Unlock()
	return nil
}

func (t *tx) checkUnique(label string, props map[string]any, selfID int64) error {
	t.db.mu.RLock()
	defer t.db.mu.RUnlock()
	for key := range t.db.constraints {
		if key.label != label {
			continue
		}
		v, ok := props[key.prop]
		if !ok {
			continue
		}
		for _, n := range t.st.nodes {
			if n.ID != selfID && n.Label == label && n.Props[key.prop] == v {
				return fmt.Errorf("%w: %s.%s", graph.ErrConstraint, label, key.prop)
			}
		}
	}
	return nil
}

func (t *tx) CreateNode(_ context.Context, label string, props map[string]any) (*graph.Node, error) {
	if err := t.checkUnique(label, props, 0); err != nil {
		return nil, err
	}
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	t.db.mu.Lock()
	t.db.nextNodeID++
	id := t.db.nextNodeID
	t.db.mu.Unlock()
	n := &graph.Node{ID: id, Label: label, Props: cp}
	t.st.nodes[id] = n
	return n, nil
}

func (t *tx) MergeNode(ctx context.Context, label, prop string, value any, props map[string]any) (*graph.Node, error) {
	if n, err := findNode(t.st, label, prop, value); err == nil {
		return n, nil
	} else if err != graph.ErrNoNode {
		return nil, err
	}
	return t.CreateNode(ctx, label, props)
}

func (t *tx) CreateRel(_ context.Context, relType string, from, to int64) (*graph.Rel, error) {
	if _, ok := t.st.nodes[from]; !ok {
		return nil, fmt.Errorf("create rel %s: from %d: %w", relType, from, graph.ErrNoNode)
	}
	if _, ok := t.st.nodes[to]; !ok {
		return nil, fmt.Errorf("create rel %s: to %d: %w", relType, to, graph.ErrNoNode)
	}
	t.db.mu.Lock()
	t.db.nextRelID++
	id := t.db.nextRelID
	t.db.mu.Unlock()
	r := &graph.Rel{ID: id, Type: relType, From: from, To: to}
	t.st.rels[id] = r
	return r, nil
}

func (t *tx) SetProps(_ context.Context, id int64, props map[string]any) error {
	n, ok := t.st.nodes[id]
	if !ok {
		return graph.ErrNoNode
	}
	merged := make(map[string]any, len(n.Props)+len(props))
	for k, v := range n.Props {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	if err := t.checkUnique(n.Label, merged, id); err != nil {
		return err
	}
	n.Props = merged
	return nil
}

// Snapshot reads inside the transaction.

func (t *tx) NodeByID(_ context.Context, id int64) (*graph.Node, error) {
	return nodeByID(t.st, id)
}

func (t *tx) FindNode(_ context.Context, label, prop string, value any) (*graph.Node, error) {
	return findNode(t.st, label, prop, value)
}

func (t *tx) ListNodes(_ context.Context, label string, opts graph.ListOptions) ([]*graph.Node, error) {
	return listNodes(t.st, label, opts), nil
}

func (t *tx) Traverse(_ context.Context, start int64, steps []graph.Step, opts graph.ListOptions) ([]*graph.Node, error) {
	return traverse(t.st, start, steps, opts), nil
}

func (t *tx) CountNodes(_ context.Context, label string, filter graph.NodeFilter) (int64, error) {
	return int64(len(listNodes(t.st, label, graph.ListOptions{Filter: filter}))), nil
}

func (t *tx) CountTraverse(_ context.Context, start int64, steps []graph.Step) (int64, error) {
	return int64(len(traverse(t.st, start, steps, graph.ListOptions{}))), nil
}

func (t *tx) Degree(_ context.Context, id int64) (int64, error) {
	return degree(t.st, id), nil
}

// Shared state queries.

func nodeByID(st *state, id int64) (*graph.Node, error) {
	n, ok := st.nodes[id]
	if !ok {
		return nil, graph.ErrNoNode
	}
	return n, nil
}

func findNode(st *state, label, prop string, value any) (*graph.Node, error) {
	var found *graph.Node
	for _, n := range st.nodes {
		if n.Label == label && propEqual(n.Props[prop], value) {
			if found == nil || n.ID < found.ID {
				found = n
			}
		}
	}
	if found == nil {
		return nil, graph.ErrNoNode
	}
	return found, nil
}

func listNodes(st *state, label string, opts graph.ListOptions) []*graph.Node {
	var out []*graph.Node
	for _, n := range st.nodes {
		if n.Label == label && matches(st, n, opts.Filter) {
			out = append(out, n)
		}
	}
	return finish(out, opts)
}

func traverse(st *state, start int64, steps []graph.Step, opts graph.ListOptions) []*graph.Node {
	frontier := []int64{start}
	if _, ok := st.nodes[start]; !ok {
		return nil
	}
	for _, step := range steps {
		var next []int64
		for _, id := range frontier {
			for _, r := range st.rels {
				if r.Type != step.Rel {
					continue
				}
				var target int64
				switch {
				case step.Dir == graph.Out && r.From == id:
					target = r.To
				case step.Dir == graph.In && r.To == id:
					target = r.From
				default:
					continue
				}
				if step.Label != "" {
					if n, ok := st.nodes[target]; !ok || n.Label != step.Label {
						continue
					}
				}
				next = append(next, target)
			}
		}
		frontier = next
	}
	seen := make(map[int64]struct{}, len(frontier))
	var out []*graph.Node
	for _, id := range frontier {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if n, ok := st.nodes[id]; ok && matches(st, n, opts.Filter) {
			out = append(out, n)
		}
	}
	return finish(out, opts)
}

func finish(nodes []*graph.Node, opts graph.ListOptions) []*graph.Node {
	sort.Slice(nodes, func(i, j int) bool {
		if opts.OrderBy != "" {
			a := graph.PropInt64(nodes[i].Props, opts.OrderBy)
			b := graph.PropInt64(nodes[j].Props, opts.OrderBy)
			if a != b {
				if opts.Descending {
					return a > b
				}
				return a < b
			}
		}
		return nodes[i].ID < nodes[j].ID
	})
	if opts.Limit > 0 && len(nodes) > opts.Limit {
		nodes = nodes[:opts.Limit]
	}
	return nodes
}

func matches(st *state, n *graph.Node, f graph.NodeFilter) bool {
	for k, v := range f.Equals {
		if !propEqual(n.Props[k], v) {
			return false
		}
	}
	for k, bound := range f.LessThan {
		if graph.PropInt64(n.Props, k) >= bound {
			return false
		}
	}
	for k, bound := range f.GreaterThan {
		if graph.PropInt64(n.Props, k) <= bound {
			return false
		}
	}
	for k, sub := range f.ContainsFold {
		s := graph.PropString(n.Props, k)
		if !strings.Contains(strings.ToLower(s), strings.ToLower(sub)) {
			return false
		}
	}
	for _, rel := range f.WithInbound {
		if !hasEdge(st, n.ID, rel, graph.In) {
			return false
		}
	}
	for _, rel := range f.WithoutInbound {
		if hasEdge(st, n.ID, rel, graph.In) {
			return false
		}
	}
	for _, rel := range f.WithOutbound {
		if !hasEdge(st, n.ID, rel, graph.Out) {
			return false
		}
	}
	for _, rel := range f.WithoutOutbound {
		if hasEdge(st, n.ID, rel, graph.Out) {
			return false
		}
	}
	return true
}

func hasEdge(st *state, id int64, relType string, dir graph.Direction) bool {
	for _, r := range st.rels {
		if r.Type != relType {
			continue
		}
		if dir == graph.In && r.To == id {
			return true
		}
		if dir == graph.Out && r.From == id {
			return true
		}
	}
	return false
}

func degree(st *state, id int64) int64 {
	var d int64
	for _, r := range st.rels {
		if r.From == id || r.To == id {
			d++
		}
	}
	return d
}

// propEqual compares property values loosely across integer widths, matching
// how adapters round-trip numerics.
func propEqual(a, b any) bool {
	ai, aok := asInt64(a)
	bi, bok := asInt64(b)
	if aok && bok {
		return ai == bi
	}
	return a == b
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
