package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-notes/canopy/internal/apperr"
	"github.com/canopy-notes/canopy/internal/graph"
	"github.com/canopy-notes/canopy/internal/model"
	"github.com/canopy-notes/canopy/internal/parse"
)

// CreateStem executes the multi-step stem-creation protocol as one atomic
// transaction:
//
//  1. scan the body for new-leaf requests ([label](@leaf) with no id)
//  2. create the Stem, merge the day's Post, link HAS
//  3. merge each Tag by name, link TAG
//  4. create each requested Leaf, link GROW, capture generated ids
//  5. rewrite body markers to @leaf:<id>
//  6. when extending: link the parent Leaf with EXTEND and inherit its title
//  7. persist the final body and title on the Stem
//
// Any failure after the transaction begins rolls back everything; no partial
// stem, post, tag, leaf or edge state is ever observable. The returned stem
// is re-fetched through a fresh read session so it reflects exactly what was
// committed.
func (r *Resolver) CreateStem(ctx context.Context, in model.CreateStemInput) (*model.Stem, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	day := model.DayOf(now)
	if in.Day != nil {
		day = *in.Day
	}
	leafTitles := parse.LeafRefs(in.Body)

	s, err := r.store.Session(ctx, graph.ModeWrite)
	if err != nil {
		return nil, apperr.Storef("open write session", err)
	}
	defer s.Close()

	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, apperr.Storef("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort on failure path

	stem, err := tx.CreateNode(ctx, graph.LabelStem, map[string]any{
		parse.PropFlowering: in.Flowering,
		parse.PropCreatedAt: now.UnixMilli(),
	})
	if err != nil {
		return nil, apperr.Storef("create stem", err)
	}

	post, err := tx.MergeNode(ctx, graph.LabelPost, parse.PropDay, day, map[string]any{
		parse.PropDay: day,
	})
	if err != nil {
		return nil, apperr.Storef("merge post", err)
	}
	if _, err := tx.CreateRel(ctx, graph.RelHas, post.ID, stem.ID); err != nil {
		return nil, apperr.Storef("link post", err)
	}

	for _, name := range in.Tags {
		tag, err := tx.MergeNode(ctx, graph.LabelTag, parse.PropName, name, map[string]any{
			parse.PropName: name,
		})
		if err != nil {
			return nil, apperr.Storef(fmt.Sprintf("merge tag %q", name), err)
		}
		if _, err := tx.CreateRel(ctx, graph.RelTag, tag.ID, stem.ID); err != nil {
			return nil, apperr.Storef(fmt.Sprintf("link tag %q", name), err)
		}
	}

	leafIDs := make(map[string]int64, len(leafTitles))
	for _, title := range leafTitles {
		leaf, err := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{
			parse.PropTitle:     title,
			parse.PropCreatedAt: now.UnixMilli(),
		})
		if err != nil {
			return nil, apperr.Storef(fmt.Sprintf("create leaf %q", title), err)
		}
		if _, err := tx.CreateRel(ctx, graph.RelGrow, stem.ID, leaf.ID); err != nil {
			return nil, apperr.Storef(fmt.Sprintf("link leaf %q", title), err)
		}
		leafIDs[title] = leaf.ID
	}

	body := parse.RewriteLeafRefs(in.Body, leafIDs)

	title := in.Title
	if in.ParentID != nil {
		parent, err := tx.NodeByID(ctx, *in.ParentID)
		if errors.Is(err, graph.ErrNoNode) {
			return nil, apperr.NotFoundf("parent leaf %d", *in.ParentID)
		}
		if err != nil {
			return nil, apperr.Storef("resolve parent leaf", err)
		}
		if parent.Label != graph.LabelLeaf {
			return nil, apperr.NotFoundf("node %d is not a leaf", *in.ParentID)
		}
		if _, err := tx.CreateRel(ctx, graph.RelExtend, parent.ID, stem.ID); err != nil {
			return nil, apperr.Storef("link parent leaf", err)
		}
		title = graph.PropString(parent.Props, parse.PropTitle)
	}

	if err := tx.SetProps(ctx, stem.ID, map[string]any{
		parse.PropBody:  body,
		parse.PropTitle: title,
	}); err != nil {
		return nil, apperr.Storef("set stem properties", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storef("commit", err)
	}

	return r.Stem(ctx, stem.ID)
}
