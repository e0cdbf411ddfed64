// Package resolver is the query and mutation engine of the content graph. It
// owns all graph-store sessions: every public operation acquires one session
// (read mode for queries, write mode for mutations), executes its traversals,
// and releases the session on every exit path. Entities returned to callers
// carry deferred relationship fields whose closures call back into the
// resolver, each performing its own round trip when evaluated.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/canopy-notes/canopy/internal/apperr"
	"github.com/canopy-notes/canopy/internal/graph"
	"github.com/canopy-notes/canopy/internal/model"
	"github.com/canopy-notes/canopy/internal/parse"
)

// DefaultLimit bounds listings when the caller does not supply a limit.
const DefaultLimit = 30

// Resolver executes graph traversals against a Store.
type Resolver struct {
	store graph.Store
	now   func() time.Time
}

// New builds a Resolver on top of a graph store.
func New(store graph.Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// byCreation orders listings by creation timestamp ascending; identity breaks
// ties, so repeated calls see the same order.
func byCreation(limit int) graph.ListOptions {
	return graph.ListOptions{OrderBy: parse.PropCreatedAt, Limit: limit}
}

func orLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// read runs fn inside a read-mode session.
func (r *Resolver) read(ctx context.Context, fn func(s graph.Session) error) error {
	s, err := r.store.Session(ctx, graph.ModeRead)
	if err != nil {
		return apperr.Storef("open read session", err)
	}
	defer s.Close()
	return fn(s)
}

func notFoundOrStore(op string, err error) error {
	if errors.Is(err, graph.ErrNoNode) {
		return apperr.NotFoundf("%s", op)
	}
	return apperr.Storef(op, err)
}

// NodeByID resolves any node by graph identity, dispatching on its label.
func (r *Resolver) NodeByID(ctx context.Context, id int64) (model.StoredNode, error) {
	var out model.StoredNode
	err := r.read(ctx, func(s graph.Session) error {
		n, err := s.NodeByID(ctx, id)
		if err != nil {
			return notFoundOrStore(fmt.Sprintf("node %d", id), err)
		}
		switch n.Label {
		case graph.LabelLeaf:
			out = r.toLeaf(n)
		case graph.LabelStem:
			out = r.toStem(n)
		case graph.LabelPost:
			out = r.toPost(n)
		case graph.LabelTag:
			d, err := s.Degree(ctx, n.ID)
			if err != nil {
				return apperr.Storef("tag degree", err)
			}
			out = parse.Tag(n, d)
		default:
			out = &model.Unknown{ID: n.ID}
		}
		return nil
	})
	return out, err
}

// Stem resolves one stem by identity.
func (r *Resolver) Stem(ctx context.Context, id int64) (*model.Stem, error) {
	var out *model.Stem
	err := r.read(ctx, func(s graph.Session) error {
		n, err := s.NodeByID(ctx, id)
		if err != nil {
			return notFoundOrStore(fmt.Sprintf("stem %d", id), err)
		}
		if n.Label != graph.LabelStem {
			return apperr.NotFoundf("node %d is not a stem", id)
		}
		out = r.toStem(n)
		return nil
	})
	return out, err
}

// StemsOfPost lists the stems of a post, oldest first.
func (r *Resolver) StemsOfPost(ctx context.Context, postID int64) ([]*model.Stem, error) {
	return r.traverseStems(ctx, postID, []graph.Step{
		{Rel: graph.RelHas, Dir: graph.Out, Label: graph.LabelStem},
	})
}

// LeavesOfPost lists the leaves grown by any stem of a post, oldest first.
func (r *Resolver) LeavesOfPost(ctx context.Context, postID int64) ([]*model.Leaf, error) {
	return r.traverseLeaves(ctx, postID, []graph.Step{
		{Rel: graph.RelHas, Dir: graph.Out, Label: graph.LabelStem},
		{Rel: graph.RelGrow, Dir: graph.Out, Label: graph.LabelLeaf},
	})
}

// TagsOfStem lists the tags attached to a stem, each carrying its
// total-degree popularity count.
func (r *Resolver) TagsOfStem(ctx context.Context, stemID int64) ([]*model.Tag, error) {
	var out []*model.Tag
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.Traverse(ctx, stemID, []graph.Step{
			{Rel: graph.RelTag, Dir: graph.In, Label: graph.LabelTag},
		}, graph.ListOptions{})
		if err != nil {
			return apperr.Storef("tags of stem", err)
		}
		for _, n := range nodes {
			d, err := s.Degree(ctx, n.ID)
			if err != nil {
				return apperr.Storef("tag degree", err)
			}
			out = append(out, parse.Tag(n, d))
		}
		return nil
	})
	return out, err
}

// OriginOfStem resolves the leaf a stem extends; nil for top-level stems.
func (r *Resolver) OriginOfStem(ctx context.Context, stemID int64) (*model.Leaf, error) {
	var out *model.Leaf
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.Traverse(ctx, stemID, []graph.Step{
			{Rel: graph.RelExtend, Dir: graph.In, Label: graph.LabelLeaf},
		}, graph.ListOptions{Limit: 1})
		if err != nil {
			return apperr.Storef("origin of stem", err)
		}
		if len(nodes) > 0 {
			out = r.toLeaf(nodes[0])
		}
		return nil
	})
	return out, err
}

// LeavesOfStem lists the leaves a stem grew, oldest first.
func (r *Resolver) LeavesOfStem(ctx context.Context, stemID int64) ([]*model.Leaf, error) {
	return r.traverseLeaves(ctx, stemID, []graph.Step{
		{Rel: graph.RelGrow, Dir: graph.Out, Label: graph.LabelLeaf},
	})
}

// OriginOfLeaf resolves the stem that grew a leaf. Every leaf is created by
// exactly one GROW edge, so a missing origin is a not-found failure.
func (r *Resolver) OriginOfLeaf(ctx context.Context, leafID int64) (*model.Stem, error) {
	var out *model.Stem
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.Traverse(ctx, leafID, []graph.Step{
			{Rel: graph.RelGrow, Dir: graph.In, Label: graph.LabelStem},
		}, graph.ListOptions{Limit: 1})
		if err != nil {
			return apperr.Storef("origin of leaf", err)
		}
		if len(nodes) == 0 {
			return apperr.NotFoundf("origin stem of leaf %d", leafID)
		}
		out = r.toStem(nodes[0])
		return nil
	})
	return out, err
}

// StemsOfLeaf lists the stems extending a leaf, oldest first.
func (r *Resolver) StemsOfLeaf(ctx context.Context, leafID int64) ([]*model.Stem, error) {
	return r.traverseStems(ctx, leafID, []graph.Step{
		{Rel: graph.RelExtend, Dir: graph.Out, Label: graph.LabelStem},
	})
}

// Classification predicates. Flowering is an independent axis; seed and fruit
// split the top-level stems by whether they grew leaves.
func FlowersFilter() graph.NodeFilter {
	return graph.NodeFilter{Equals: map[string]any{parse.PropFlowering: true}}
}

func SeedsFilter() graph.NodeFilter {
	return graph.NodeFilter{
		WithoutInbound: []string{graph.RelExtend},
		WithOutbound:   []string{graph.RelGrow},
	}
}

func FruitsFilter() graph.NodeFilter {
	return graph.NodeFilter{
		WithoutInbound:  []string{graph.RelExtend},
		WithoutOutbound: []string{graph.RelGrow},
	}
}

// Stems lists stems oldest first, bounded by limit.
func (r *Resolver) Stems(ctx context.Context, limit int) ([]*model.Stem, error) {
	return r.listStems(ctx, limit, graph.NodeFilter{})
}

// Flowers lists stems with the flowering flag set.
func (r *Resolver) Flowers(ctx context.Context, limit int) ([]*model.Stem, error) {
	return r.listStems(ctx, limit, FlowersFilter())
}

// Seeds lists top-level stems that grew at least one leaf.
func (r *Resolver) Seeds(ctx context.Context, limit int) ([]*model.Stem, error) {
	return r.listStems(ctx, limit, SeedsFilter())
}

// Fruits lists top-level stems that grew no leaves.
func (r *Resolver) Fruits(ctx context.Context, limit int) ([]*model.Stem, error) {
	return r.listStems(ctx, limit, FruitsFilter())
}

// Leaves lists leaves oldest first, bounded by limit.
func (r *Resolver) Leaves(ctx context.Context, limit int) ([]*model.Leaf, error) {
	var out []*model.Leaf
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.ListNodes(ctx, graph.LabelLeaf, byCreation(orLimit(limit)))
		if err != nil {
			return apperr.Storef("list leaves", err)
		}
		for _, n := range nodes {
			out = append(out, r.toLeaf(n))
		}
		return nil
	})
	return out, err
}

// Posts lists day buckets, newest day first, with optional day-range bounds.
func (r *Resolver) Posts(ctx context.Context, opts model.PostsOptions) ([]*model.Post, error) {
	filter := graph.NodeFilter{}
	if opts.EarlierThan != nil {
		filter.LessThan = map[string]int64{parse.PropDay: *opts.EarlierThan}
	}
	if opts.LaterThan != nil {
		filter.GreaterThan = map[string]int64{parse.PropDay: *opts.LaterThan}
	}
	var out []*model.Post
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.ListNodes(ctx, graph.LabelPost, graph.ListOptions{
			Filter:     filter,
			OrderBy:    parse.PropDay,
			Descending: true,
			Limit:      orLimit(opts.Limit),
		})
		if err != nil {
			return apperr.Storef("list posts", err)
		}
		for _, n := range nodes {
			out = append(out, r.toPost(n))
		}
		return nil
	})
	return out, err
}

// PostByDay resolves the day bucket for one day index; (nil, nil) when the
// day has no post.
func (r *Resolver) PostByDay(ctx context.Context, day int64) (*model.Post, error) {
	var out *model.Post
	err := r.read(ctx, func(s graph.Session) error {
		n, err := s.FindNode(ctx, graph.LabelPost, parse.PropDay, day)
		if errors.Is(err, graph.ErrNoNode) {
			return nil
		}
		if err != nil {
			return apperr.Storef("post by day", err)
		}
		out = r.toPost(n)
		return nil
	})
	return out, err
}

// MatchedLeaves searches leaves whose title contains the substring,
// case-insensitively. An empty substring yields an empty result without
// touching the store.
func (r *Resolver) MatchedLeaves(ctx context.Context, matching string) ([]*model.Leaf, error) {
	if matching == "" {
		return nil, nil
	}
	var out []*model.Leaf
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.ListNodes(ctx, graph.LabelLeaf, graph.ListOptions{
			Filter: graph.NodeFilter{ContainsFold: map[string]string{parse.PropTitle: matching}},
		})
		if err != nil {
			return apperr.Storef("matched leaves", err)
		}
		for _, n := range nodes {
			out = append(out, r.toLeaf(n))
		}
		return nil
	})
	return out, err
}

// MatchedTags searches tags by name substring, case-insensitively, with the
// same empty-input short-circuit as MatchedLeaves.
func (r *Resolver) MatchedTags(ctx context.Context, matching string) ([]*model.Tag, error) {
	if matching == "" {
		return nil, nil
	}
	var out []*model.Tag
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.ListNodes(ctx, graph.LabelTag, graph.ListOptions{
			Filter: graph.NodeFilter{ContainsFold: map[string]string{parse.PropName: matching}},
		})
		if err != nil {
			return apperr.Storef("matched tags", err)
		}
		for _, n := range nodes {
			d, err := s.Degree(ctx, n.ID)
			if err != nil {
				return apperr.Storef("tag degree", err)
			}
			out = append(out, parse.Tag(n, d))
		}
		return nil
	})
	return out, err
}

// Tags lists tags by descending popularity. Popularity is the tag node's
// total adjacency degree across all relationship types, not only TAG edges;
// ties break by identity ascending (creation order) so the order is stable
// across repeated calls.
func (r *Resolver) Tags(ctx context.Context, limit int) ([]*model.Tag, error) {
	var out []*model.Tag
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.ListNodes(ctx, graph.LabelTag, graph.ListOptions{})
		if err != nil {
			return apperr.Storef("list tags", err)
		}
		for _, n := range nodes {
			d, err := s.Degree(ctx, n.ID)
			if err != nil {
				return apperr.Storef("tag degree", err)
			}
			out = append(out, parse.Tag(n, d))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	if l := orLimit(limit); len(out) > l {
		out = out[:l]
	}
	return out, nil
}

// Count helpers backing the deferred TotalCount fields.

// CountStems counts all stems matching a classification filter.
func (r *Resolver) CountStems(ctx context.Context, filter graph.NodeFilter) (int64, error) {
	return r.countNodes(ctx, graph.LabelStem, filter)
}

// CountLeaves counts all leaves.
func (r *Resolver) CountLeaves(ctx context.Context) (int64, error) {
	return r.countNodes(ctx, graph.LabelLeaf, graph.NodeFilter{})
}

func (r *Resolver) countNodes(ctx context.Context, label string, filter graph.NodeFilter) (int64, error) {
	var count int64
	err := r.read(ctx, func(s graph.Session) error {
		var err error
		count, err = s.CountNodes(ctx, label, filter)
		if err != nil {
			return apperr.Storef("count nodes", err)
		}
		return nil
	})
	return count, err
}

func (r *Resolver) countTraverse(ctx context.Context, start int64, steps []graph.Step) (int64, error) {
	var count int64
	err := r.read(ctx, func(s graph.Session) error {
		var err error
		count, err = s.CountTraverse(ctx, start, steps)
		if err != nil {
			return apperr.Storef("count traverse", err)
		}
		return nil
	})
	return count, err
}

func (r *Resolver) listStems(ctx context.Context, limit int, filter graph.NodeFilter) ([]*model.Stem, error) {
	var out []*model.Stem
	err := r.read(ctx, func(s graph.Session) error {
		opts := byCreation(orLimit(limit))
		opts.Filter = filter
		nodes, err := s.ListNodes(ctx, graph.LabelStem, opts)
		if err != nil {
			return apperr.Storef("list stems", err)
		}
		for _, n := range nodes {
			out = append(out, r.toStem(n))
		}
		return nil
	})
	return out, err
}

func (r *Resolver) traverseStems(ctx context.Context, start int64, steps []graph.Step) ([]*model.Stem, error) {
	var out []*model.Stem
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.Traverse(ctx, start, steps, byCreation(0))
		if err != nil {
			return apperr.Storef("traverse stems", err)
		}
		for _, n := range nodes {
			out = append(out, r.toStem(n))
		}
		return nil
	})
	return out, err
}

func (r *Resolver) traverseLeaves(ctx context.Context, start int64, steps []graph.Step) ([]*model.Leaf, error) {
	var out []*model.Leaf
	err := r.read(ctx, func(s graph.Session) error {
		nodes, err := s.Traverse(ctx, start, steps, byCreation(0))
		if err != nil {
			return apperr.Storef("traverse leaves", err)
		}
		for _, n := range nodes {
			out = append(out, r.toLeaf(n))
		}
		return nil
	})
	return out, err
}

// Entity construction: parse converts the scalars, the resolver attaches the
// deferred relationship fields.

func (r *Resolver) toStem(n *graph.Node) *model.Stem {
	s := parse.Stem(n)
	id := s.ID
	s.Tags = func(ctx context.Context) ([]*model.Tag, error) {
		return r.TagsOfStem(ctx, id)
	}
	s.OriginLeaf = func(ctx context.Context) (*model.Leaf, error) {
		return r.OriginOfStem(ctx, id)
	}
	s.Leaves = model.Connection[*model.Leaf]{
		Nodes: func(ctx context.Context) ([]*model.Leaf, error) {
			return r.LeavesOfStem(ctx, id)
		},
		TotalCount: func(ctx context.Context) (int64, error) {
			return r.countTraverse(ctx, id, []graph.Step{
				{Rel: graph.RelGrow, Dir: graph.Out, Label: graph.LabelLeaf},
			})
		},
	}
	return s
}

func (r *Resolver) toLeaf(n *graph.Node) *model.Leaf {
	l := parse.Leaf(n)
	id := l.ID
	l.OriginStem = func(ctx context.Context) (*model.Stem, error) {
		return r.OriginOfLeaf(ctx, id)
	}
	l.Stems = model.Connection[*model.Stem]{
		Nodes: func(ctx context.Context) ([]*model.Stem, error) {
			return r.StemsOfLeaf(ctx, id)
		},
		TotalCount: func(ctx context.Context) (int64, error) {
			return r.countTraverse(ctx, id, []graph.Step{
				{Rel: graph.RelExtend, Dir: graph.Out, Label: graph.LabelStem},
			})
		},
	}
	return l
}

func (r *Resolver) toPost(n *graph.Node) *model.Post {
	p := parse.Post(n)
	id := p.ID
	p.Stems = model.Connection[*model.Stem]{
		Nodes: func(ctx context.Context) ([]*model.Stem, error) {
			return r.StemsOfPost(ctx, id)
		},
		TotalCount: func(ctx context.Context) (int64, error) {
			return r.countTraverse(ctx, id, []graph.Step{
				{Rel: graph.RelHas, Dir: graph.Out, Label: graph.LabelStem},
			})
		},
	}
	p.Leaves = model.Connection[*model.Leaf]{
		Nodes: func(ctx context.Context) ([]*model.Leaf, error) {
			return r.LeavesOfPost(ctx, id)
		},
		TotalCount: func(ctx context.Context) (int64, error) {
			return r.countTraverse(ctx, id, []graph.Step{
				{Rel: graph.RelHas, Dir: graph.Out, Label: graph.LabelStem},
				{Rel: graph.RelGrow, Dir: graph.Out, Label: graph.LabelLeaf},
			})
		},
	}
	return p
}
