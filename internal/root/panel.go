package root

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/canopy-notes/canopy/internal/model"
)

// PanelSnapshot is a fully evaluated panel, safe to serialize.
type PanelSnapshot struct {
	Posts   []PostSummary  `json:"posts"`
	Stems   ListingSummary `json:"stems"`
	Flowers ListingSummary `json:"flowers"`
	Seeds   ListingSummary `json:"seeds"`
	Fruits  ListingSummary `json:"fruits"`
	Leaves  ListingSummary `json:"leaves"`
}

// PostSummary is one day bucket with its stem count.
type PostSummary struct {
	ID        int64 `json:"id"`
	Day       int64 `json:"day"`
	StemCount int64 `json:"stem_count"`
}

// ListingSummary is one bounded listing plus its unbounded total.
type ListingSummary struct {
	TotalCount int64    `json:"total_count"`
	Titles     []string `json:"titles"`
}

// MaterializePanel evaluates every panel listing concurrently and returns a
// plain snapshot. Consumers that need only a subset should use Panel instead
// and evaluate just the fields they touch.
func (rt *Root) MaterializePanel(ctx context.Context, limit int) (*PanelSnapshot, error) {
	panel := rt.Panel()
	snap := &PanelSnapshot{}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		posts, err := panel.Posts(gCtx, model.PostsOptions{Limit: limit})
		if err != nil {
			return err
		}
		for _, p := range posts {
			count, err := p.Stems.TotalCount(gCtx)
			if err != nil {
				return err
			}
			snap.Posts = append(snap.Posts, PostSummary{ID: p.ID, Day: p.Day, StemCount: count})
		}
		return nil
	})

	stemListings := []struct {
		listing model.Listing[*model.Stem]
		dst     *ListingSummary
	}{
		{panel.Stems, &snap.Stems},
		{panel.Flowers, &snap.Flowers},
		{panel.Seeds, &snap.Seeds},
		{panel.Fruits, &snap.Fruits},
	}
	for _, sl := range stemListings {
		g.Go(func() error {
			stems, err := sl.listing.Nodes(gCtx, limit)
			if err != nil {
				return err
			}
			total, err := sl.listing.TotalCount(gCtx)
			if err != nil {
				return err
			}
			sl.dst.TotalCount = total
			for _, s := range stems {
				sl.dst.Titles = append(sl.dst.Titles, s.Title)
			}
			return nil
		})
	}

	g.Go(func() error {
		leaves, err := panel.Leaves.Nodes(gCtx, limit)
		if err != nil {
			return err
		}
		total, err := panel.Leaves.TotalCount(gCtx)
		if err != nil {
			return err
		}
		snap.Leaves.TotalCount = total
		for _, l := range leaves {
			snap.Leaves.Titles = append(snap.Leaves.Titles, l.Title)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
