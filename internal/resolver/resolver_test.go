package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-notes/canopy/internal/apperr"
	"github.com/canopy-notes/canopy/internal/graph"
	"github.com/canopy-notes/canopy/internal/graph/memgraph"
	"github.com/canopy-notes/canopy/internal/model"
)

// testResolver returns a resolver over a fresh in-memory store with a
// deterministic clock: every call to now advances one second within the same
// UTC day.
func testResolver(t *testing.T) (*Resolver, *memgraph.DB) {
	t.Helper()
	db := memgraph.Open()
	r := New(db)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick int64
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return r, db
}

func mustCreateStem(t *testing.T, r *Resolver, in model.CreateStemInput) *model.Stem {
	t.Helper()
	s, err := r.CreateStem(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateStem: %v", err)
	}
	return s
}

// failStore fails every session acquisition, proving an operation never
// touched the store.
type failStore struct{}

func (failStore) Session(context.Context, graph.AccessMode) (graph.Session, error) {
	return nil, errors.New("store touched")
}
func (failStore) EnsureUnique(context.Context, string, string) error { return nil }
func (failStore) Close() error                                       { return nil }

func TestMatchedSearches_EmptyInputShortCircuits(t *testing.T) {
	r := New(failStore{})

	leaves, err := r.MatchedLeaves(context.Background(), "")
	if err != nil || leaves != nil {
		t.Errorf("MatchedLeaves(\"\") = %v, %v; want nil, nil", leaves, err)
	}
	tags, err := r.MatchedTags(context.Background(), "")
	if err != nil || tags != nil {
		t.Errorf("MatchedTags(\"\") = %v, %v; want nil, nil", tags, err)
	}
}

func TestStems_OrderedByCreationAndBounded(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	first := mustCreateStem(t, r, model.CreateStemInput{Title: "first", Body: "a"})
	second := mustCreateStem(t, r, model.CreateStemInput{Title: "second", Body: "b"})
	third := mustCreateStem(t, r, model.CreateStemInput{Title: "third", Body: "c"})

	stems, err := r.Stems(ctx, 0)
	if err != nil {
		t.Fatalf("Stems: %v", err)
	}
	if len(stems) != 3 {
		t.Fatalf("len = %d, want 3", len(stems))
	}
	for i, want := range []int64{first.ID, second.ID, third.ID} {
		if stems[i].ID != want {
			t.Errorf("stems[%d].ID = %d, want %d", i, stems[i].ID, want)
		}
	}

	bounded, err := r.Stems(ctx, 2)
	if err != nil {
		t.Fatalf("Stems: %v", err)
	}
	if len(bounded) != 2 || bounded[0].ID != first.ID {
		t.Errorf("bounded = %v", bounded)
	}
}

func TestClassificationPartition(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	seed := mustCreateStem(t, r, model.CreateStemInput{Title: "seed", Body: "grows [Sprout](@leaf)"})
	fruit := mustCreateStem(t, r, model.CreateStemInput{Title: "fruit", Body: "nothing grows"})
	flowerFruit := mustCreateStem(t, r, model.CreateStemInput{Title: "flower", Flowering: true, Body: "x"})

	leaves, err := r.LeavesOfStem(ctx, seed.ID)
	if err != nil || len(leaves) != 1 {
		t.Fatalf("LeavesOfStem = %v, %v", leaves, err)
	}
	extender := mustCreateStem(t, r, model.CreateStemInput{ParentID: &leaves[0].ID, Body: "continues"})

	ids := func(stems []*model.Stem) map[int64]bool {
		set := make(map[int64]bool, len(stems))
		for _, s := range stems {
			set[s.ID] = true
		}
		return set
	}

	seeds, _ := r.Seeds(ctx, 0)
	fruits, _ := r.Fruits(ctx, 0)
	flowers, _ := r.Flowers(ctx, 0)

	if !ids(seeds)[seed.ID] || len(seeds) != 1 {
		t.Errorf("seeds = %v", ids(seeds))
	}
	// Top-level stems that grew nothing are fruits; the flowering axis is
	// independent, so flowerFruit shows up in both listings.
	if !ids(fruits)[fruit.ID] || !ids(fruits)[flowerFruit.ID] || len(fruits) != 2 {
		t.Errorf("fruits = %v", ids(fruits))
	}
	if !ids(flowers)[flowerFruit.ID] || len(flowers) != 1 {
		t.Errorf("flowers = %v", ids(flowers))
	}
	// The extender carries an inbound EXTEND edge: neither seed nor fruit.
	if ids(seeds)[extender.ID] || ids(fruits)[extender.ID] {
		t.Errorf("extender %d classified as seed or fruit", extender.ID)
	}
}

func TestTags_OrderedByTotalDegree(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	// Popularity is deliberately the tag node's *total* adjacency degree
	// across all relationship types, not a count of TAG edges only.
	mustCreateStem(t, r, model.CreateStemInput{Title: "a", Tags: []string{"busy", "quiet"}, Body: "x"})
	mustCreateStem(t, r, model.CreateStemInput{Title: "b", Tags: []string{"busy"}, Body: "y"})
	mustCreateStem(t, r, model.CreateStemInput{Title: "c", Tags: []string{"lonely"}, Body: "z"})

	tags, err := r.Tags(ctx, 0)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 3 {
		t.Fatalf("len = %d, want 3", len(tags))
	}
	if tags[0].Name != "busy" || tags[0].Count != 2 {
		t.Errorf("tags[0] = %+v", tags[0])
	}
	// quiet and lonely tie at degree 1; creation order (identity) breaks it.
	if tags[1].Name != "quiet" || tags[2].Name != "lonely" {
		t.Errorf("tie order = %s, %s", tags[1].Name, tags[2].Name)
	}

	// Repeated calls with no writes in between see the same order.
	again, err := r.Tags(ctx, 0)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	for i := range tags {
		if again[i].ID != tags[i].ID {
			t.Fatalf("order changed between calls: %v vs %v", tags, again)
		}
	}

	top, err := r.Tags(ctx, 1)
	if err != nil || len(top) != 1 || top[0].Name != "busy" {
		t.Errorf("Tags(1) = %v, %v", top, err)
	}
}

func TestPosts_DayRangeAndOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	for _, day := range []int64{100, 200, 300} {
		d := day
		mustCreateStem(t, r, model.CreateStemInput{Title: "t", Day: &d, Body: "b"})
	}

	posts, err := r.Posts(ctx, model.PostsOptions{})
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(posts) != 3 || posts[0].Day != 300 || posts[2].Day != 100 {
		t.Errorf("posts order = %v", posts)
	}

	earlier := int64(300)
	later := int64(100)
	ranged, err := r.Posts(ctx, model.PostsOptions{EarlierThan: &earlier, LaterThan: &later})
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Day != 200 {
		t.Errorf("ranged = %v", ranged)
	}
}

func TestPostByDay_NilWhenAbsent(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	p, err := r.PostByDay(ctx, 12345)
	if err != nil {
		t.Fatalf("PostByDay: %v", err)
	}
	if p != nil {
		t.Errorf("post = %+v, want nil", p)
	}
}

func TestMatchedLeaves_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	mustCreateStem(t, r, model.CreateStemInput{Title: "t", Body: "about [Deep Roots](@leaf) and [Canopy](@leaf)"})

	got, err := r.MatchedLeaves(ctx, "rOOts")
	if err != nil {
		t.Fatalf("MatchedLeaves: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Deep Roots" {
		t.Errorf("matched = %v", got)
	}
}

func TestNodeByID_DispatchAndNotFound(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	stem := mustCreateStem(t, r, model.CreateStemInput{Title: "t", Tags: []string{"go"}, Body: "[Leafy](@leaf)"})

	n, err := r.NodeByID(ctx, stem.ID)
	if err != nil {
		t.Fatalf("NodeByID: %v", err)
	}
	if n.NodeKind() != model.KindStem {
		t.Errorf("kind = %q, want stem", n.NodeKind())
	}

	leaves, _ := r.LeavesOfStem(ctx, stem.ID)
	n, err = r.NodeByID(ctx, leaves[0].ID)
	if err != nil || n.NodeKind() != model.KindLeaf {
		t.Errorf("leaf dispatch = %v, %v", n, err)
	}

	tags, _ := r.TagsOfStem(ctx, stem.ID)
	n, err = r.NodeByID(ctx, tags[0].ID)
	if err != nil || n.NodeKind() != model.KindTag {
		t.Errorf("tag dispatch = %v, %v", n, err)
	}
	if tag := n.(*model.Tag); tag.Count != 1 {
		t.Errorf("tag count = %d, want 1", tag.Count)
	}

	if _, err := r.NodeByID(ctx, 99999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing node: err = %v, want ErrNotFound", err)
	}
}

func TestLazyConnections_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := testResolver(t)

	stem := mustCreateStem(t, r, model.CreateStemInput{Title: "origin", Body: "[A](@leaf) then [B](@leaf)"})

	count, err := stem.Leaves.TotalCount(ctx)
	if err != nil || count != 2 {
		t.Fatalf("Leaves.TotalCount = %d, %v", count, err)
	}
	leaves, err := stem.Leaves.Nodes(ctx)
	if err != nil || len(leaves) != 2 {
		t.Fatalf("Leaves.Nodes = %v, %v", leaves, err)
	}

	// The leaf's deferred origin resolves back to the stem that grew it.
	origin, err := leaves[0].OriginStem(ctx)
	if err != nil {
		t.Fatalf("OriginStem: %v", err)
	}
	if origin.ID != stem.ID {
		t.Errorf("origin = %d, want %d", origin.ID, stem.ID)
	}

	// Top-level stem: no origin leaf.
	ol, err := stem.OriginLeaf(ctx)
	if err != nil || ol != nil {
		t.Errorf("OriginLeaf = %v, %v; want nil, nil", ol, err)
	}

	// Post connections reach both stems and grown leaves.
	posts, err := r.Posts(ctx, model.PostsOptions{})
	if err != nil || len(posts) != 1 {
		t.Fatalf("Posts = %v, %v", posts, err)
	}
	stemCount, err := posts[0].Stems.TotalCount(ctx)
	if err != nil || stemCount != 1 {
		t.Errorf("post stems = %d, %v", stemCount, err)
	}
	postLeaves, err := posts[0].Leaves.Nodes(ctx)
	if err != nil || len(postLeaves) != 2 {
		t.Errorf("post leaves = %v, %v", postLeaves, err)
	}
}

func TestOriginOfLeaf_NotFoundForOrphan(t *testing.T) {
	ctx := context.Background()
	r, db := testResolver(t)

	// An orphan leaf cannot happen through createStem; build one directly.
	s, err := db.Session(ctx, graph.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	orphan, err := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{"title": "orphan"})
	if err != nil {
		t.Fatal(err)
	}
	tx.Commit(ctx)
	s.Close()

	if _, err := r.OriginOfLeaf(ctx, orphan.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
