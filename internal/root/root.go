// Package root composes the resolver into the operation set consumed by the
// transport boundary: node lookup, post and panel reads, substring searches,
// tag listings, and the createStem mutation. It also owns the bootstrap
// contract that prepares a fresh store.
package root

import (
	"context"

	"github.com/google/uuid"

	"github.com/canopy-notes/canopy/internal/apperr"
	"github.com/canopy-notes/canopy/internal/graph"
	"github.com/canopy-notes/canopy/internal/model"
	"github.com/canopy-notes/canopy/internal/resolver"
)

// SchemaVersion is stored on the bootstrap sentinel node.
const SchemaVersion = "1"

// Root is the composition facade over the resolver.
type Root struct {
	store graph.Store
	r     *resolver.Resolver
}

// New wires a Root over a graph store.
func New(store graph.Store) *Root {
	return &Root{store: store, r: resolver.New(store)}
}

// Resolver exposes the underlying query engine.
func (rt *Root) Resolver() *resolver.Resolver { return rt.r }

// Node resolves any stored node by identity.
func (rt *Root) Node(ctx context.Context, id int64) (model.StoredNode, error) {
	return rt.r.NodeByID(ctx, id)
}

// Post resolves the day bucket for a day index; nil when the day is empty.
func (rt *Root) Post(ctx context.Context, day int64) (*model.Post, error) {
	return rt.r.PostByDay(ctx, day)
}

// Posts lists day buckets, newest first.
func (rt *Root) Posts(ctx context.Context, opts model.PostsOptions) ([]*model.Post, error) {
	return rt.r.Posts(ctx, opts)
}

// MatchedLeaves searches leaves by title substring.
func (rt *Root) MatchedLeaves(ctx context.Context, matching string) ([]*model.Leaf, error) {
	return rt.r.MatchedLeaves(ctx, matching)
}

// MatchedTags searches tags by name substring.
func (rt *Root) MatchedTags(ctx context.Context, matching string) ([]*model.Tag, error) {
	return rt.r.MatchedTags(ctx, matching)
}

// Tags lists tags by descending popularity.
func (rt *Root) Tags(ctx context.Context, limit int) ([]*model.Tag, error) {
	return rt.r.Tags(ctx, limit)
}

// CreateStem runs the transactional stem-creation protocol.
func (rt *Root) CreateStem(ctx context.Context, in model.CreateStemInput) (*model.Stem, error) {
	return rt.r.CreateStem(ctx, in)
}

// Panel bundles the aggregate listings behind deferred accessors. Nothing is
// queried until a field is evaluated.
func (rt *Root) Panel() model.Panel {
	r := rt.r
	return model.Panel{
		Posts: r.Posts,
		Stems: model.Listing[*model.Stem]{
			Nodes:      r.Stems,
			TotalCount: func(ctx context.Context) (int64, error) { return r.CountStems(ctx, graph.NodeFilter{}) },
		},
		Flowers: model.Listing[*model.Stem]{
			Nodes:      r.Flowers,
			TotalCount: func(ctx context.Context) (int64, error) { return r.CountStems(ctx, resolver.FlowersFilter()) },
		},
		Seeds: model.Listing[*model.Stem]{
			Nodes:      r.Seeds,
			TotalCount: func(ctx context.Context) (int64, error) { return r.CountStems(ctx, resolver.SeedsFilter()) },
		},
		Fruits: model.Listing[*model.Stem]{
			Nodes:      r.Fruits,
			TotalCount: func(ctx context.Context) (int64, error) { return r.CountStems(ctx, resolver.FruitsFilter()) },
		},
		Leaves: model.Listing[*model.Leaf]{
			Nodes:      r.Leaves,
			TotalCount: func(ctx context.Context) (int64, error) { return r.CountLeaves(ctx) },
		},
	}
}

// Bootstrap prepares a fresh store: when the sentinel root record is absent
// it installs the uniqueness constraints and creates the sentinel. Idempotent
// and safe to run on every process start.
func (rt *Root) Bootstrap(ctx context.Context) error {
	s, err := rt.store.Session(ctx, graph.ModeWrite)
	if err != nil {
		return apperr.Storef("open bootstrap session", err)
	}
	defer s.Close()

	existing, err := s.ListNodes(ctx, graph.LabelRoot, graph.ListOptions{Limit: 1})
	if err != nil {
		return apperr.Storef("check sentinel", err)
	}
	if len(existing) > 0 {
		return nil
	}

	if err := rt.store.EnsureUnique(ctx, graph.LabelTag, "name"); err != nil {
		return apperr.Storef("constraint Tag.name", err)
	}
	if err := rt.store.EnsureUnique(ctx, graph.LabelPost, "day"); err != nil {
		return apperr.Storef("constraint Post.day", err)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return apperr.Storef("begin bootstrap transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.CreateNode(ctx, graph.LabelRoot, map[string]any{
		"version":  SchemaVersion,
		"instance": uuid.NewString(),
	}); err != nil {
		return apperr.Storef("create sentinel", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storef("commit bootstrap", err)
	}
	return nil
}
