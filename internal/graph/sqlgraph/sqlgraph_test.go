package sqlgraph

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/canopy-notes/canopy/internal/graph"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "canopy-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTx(t *testing.T, db *DB) (graph.Session, graph.Tx) {
	t.Helper()
	ctx := context.Background()
	s, err := db.Session(ctx, graph.ModeWrite)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return s, tx
}

func TestCreateAndReadBack(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	s, tx := seedTx(t, db)
	n, err := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{"title": "a", "created_at": int64(5)})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	s.Close()

	rs, _ := db.Session(ctx, graph.ModeRead)
	defer rs.Close()
	got, err := rs.NodeByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("NodeByID: %v", err)
	}
	if got.Props["title"] != "a" {
		t.Errorf("title = %v", got.Props["title"])
	}
	// JSON round trip hands numerics back as float64; narrowing must hold.
	if graph.PropInt64(got.Props, "created_at") != 5 {
		t.Errorf("created_at = %v", got.Props["created_at"])
	}
}

func TestRollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	s, tx := seedTx(t, db)
	a, _ := tx.CreateNode(ctx, graph.LabelStem, map[string]any{"created_at": int64(1)})
	b, _ := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{"created_at": int64(2)})
	if _, err := tx.CreateRel(ctx, graph.RelGrow, a.ID, b.ID); err != nil {
		t.Fatalf("CreateRel: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	s.Close()

	rs, _ := db.Session(ctx, graph.ModeRead)
	defer rs.Close()
	for _, label := range []string{graph.LabelStem, graph.LabelLeaf} {
		count, err := rs.CountNodes(ctx, label, graph.NodeFilter{})
		if err != nil {
			t.Fatalf("CountNodes: %v", err)
		}
		if count != 0 {
			t.Errorf("%s count = %d after rollback", label, count)
		}
	}
}

func TestUniquePartialIndex(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if err := db.EnsureUnique(ctx, graph.LabelTag, "name"); err != nil {
		t.Fatalf("EnsureUnique: %v", err)
	}

	s, tx := seedTx(t, db)
	if _, err := tx.CreateNode(ctx, graph.LabelTag, map[string]any{"name": "go"}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if _, err := tx.CreateNode(ctx, graph.LabelTag, map[string]any{"name": "go"}); !errors.Is(err, graph.ErrConstraint) {
		t.Errorf("duplicate tag: err = %v, want ErrConstraint", err)
	}
	tx.Rollback(ctx)
	s.Close()

	// The constraint is per label: another label may reuse the value.
	s2, tx2 := seedTx(t, db)
	defer s2.Close()
	if _, err := tx2.CreateNode(ctx, graph.LabelLeaf, map[string]any{"name": "go"}); err != nil {
		t.Errorf("leaf with same name: %v", err)
	}
	tx2.Rollback(ctx)
}

func TestListFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	s, tx := seedTx(t, db)
	for i, day := range []int64{30, 10, 20} {
		if _, err := tx.CreateNode(ctx, graph.LabelPost, map[string]any{"day": day, "n": int64(i)}); err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	}
	tx.Commit(ctx)
	s.Close()

	rs, _ := db.Session(ctx, graph.ModeRead)
	defer rs.Close()

	posts, err := rs.ListNodes(ctx, graph.LabelPost, graph.ListOptions{
		Filter:     graph.NodeFilter{LessThan: map[string]int64{"day": 25}},
		OrderBy:    "day",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(posts) != 1 || graph.PropInt64(posts[0].Props, "day") != 20 {
		t.Errorf("posts = %v", posts)
	}
}

func TestSubstringSearchIsBound(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	s, tx := seedTx(t, db)
	if _, err := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{"title": "Wild % _ Things"}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	tx.Commit(ctx)
	s.Close()

	rs, _ := db.Session(ctx, graph.ModeRead)
	defer rs.Close()

	// Metacharacters and quote-ish input are data, not pattern or SQL text.
	for _, probe := range []string{"wild %", `" OR 1=1 --`} {
		got, err := rs.ListNodes(ctx, graph.LabelLeaf, graph.ListOptions{
			Filter: graph.NodeFilter{ContainsFold: map[string]string{"title": probe}},
		})
		if err != nil {
			t.Fatalf("ListNodes(%q): %v", probe, err)
		}
		want := 0
		if probe == "wild %" {
			want = 1
		}
		if len(got) != want {
			t.Errorf("ListNodes(%q) = %d rows, want %d", probe, len(got), want)
		}
	}
}

func TestTraverseTwoHops(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	s, tx := seedTx(t, db)
	post, _ := tx.CreateNode(ctx, graph.LabelPost, map[string]any{"day": int64(1)})
	stem, _ := tx.CreateNode(ctx, graph.LabelStem, map[string]any{"created_at": int64(1)})
	leafA, _ := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{"created_at": int64(2)})
	leafB, _ := tx.CreateNode(ctx, graph.LabelLeaf, map[string]any{"created_at": int64(1)})
	tx.CreateRel(ctx, graph.RelHas, post.ID, stem.ID)
	tx.CreateRel(ctx, graph.RelGrow, stem.ID, leafA.ID)
	tx.CreateRel(ctx, graph.RelGrow, stem.ID, leafB.ID)
	tx.Commit(ctx)
	s.Close()

	rs, _ := db.Session(ctx, graph.ModeRead)
	defer rs.Close()

	steps := []graph.Step{
		{Rel: graph.RelHas, Dir: graph.Out, Label: graph.LabelStem},
		{Rel: graph.RelGrow, Dir: graph.Out, Label: graph.LabelLeaf},
	}
	leaves, err := rs.Traverse(ctx, post.ID, steps, graph.ListOptions{OrderBy: "created_at"})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(leaves) != 2 || leaves[0].ID != leafB.ID || leaves[1].ID != leafA.ID {
		t.Errorf("leaves = %v", leaves)
	}

	count, err := rs.CountTraverse(ctx, post.ID, steps)
	if err != nil {
		t.Fatalf("CountTraverse: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestDegreeCountsBothDirections(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	s, tx := seedTx(t, db)
	tag, _ := tx.CreateNode(ctx, graph.LabelTag, map[string]any{"name": "go"})
	s1, _ := tx.CreateNode(ctx, graph.LabelStem, map[string]any{})
	s2, _ := tx.CreateNode(ctx, graph.LabelStem, map[string]any{})
	tx.CreateRel(ctx, graph.RelTag, tag.ID, s1.ID)
	tx.CreateRel(ctx, graph.RelTag, tag.ID, s2.ID)
	tx.CreateRel(ctx, graph.RelHas, s1.ID, tag.ID) // any type counts
	tx.Commit(ctx)
	s.Close()

	rs, _ := db.Session(ctx, graph.ModeRead)
	defer rs.Close()
	d, err := rs.Degree(ctx, tag.ID)
	if err != nil {
		t.Fatalf("Degree: %v", err)
	}
	if d != 3 {
		t.Errorf("degree = %d, want 3", d)
	}
}
