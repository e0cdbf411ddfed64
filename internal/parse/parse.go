// Package parse holds the pure, side-effect-free half of the content model:
// conversion of raw graph nodes into typed entities, and scanning/rewriting
// of inline leaf references embedded in stem bodies.
//
// Relationship fields are not populated here; the resolver attaches them
// after conversion.
package parse

import (
	"regexp"
	"strconv"
	"time"

	"github.com/canopy-notes/canopy/internal/graph"
	"github.com/canopy-notes/canopy/internal/model"
)

// Property keys of the stored nodes.
const (
	PropCreatedAt = "created_at" // unix milliseconds
	PropFlowering = "flowering"
	PropTitle     = "title"
	PropBody      = "body"
	PropDay       = "day"
	PropName      = "name"
)

// leafRefRe matches an inline leaf reference: [label](@leaf) requests a new
// leaf, [label](@leaf "id") points at an existing one. Already-resolved
// references ([label](@leaf:123)) deliberately do not match.
var leafRefRe = regexp.MustCompile(`\[([^\[\]]+)\]\(\s*@leaf(?:\s+"([^"]*)")?\s*\)`)

// LeafRefs returns the labels of new-leaf requests found in body,
// deduplicated, in order of first appearance. References carrying an
// existing id are skipped.
func LeafRefs(body string) []string {
	matches := leafRefRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		label, existing := m[1], m[2]
		if existing != "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// RewriteLeafRefs splices generated identities back into body: every
// unresolved [label](@leaf) whose label appears in ids becomes
// [label](@leaf:<id>). References with an existing id, and labels without a
// mapping, are left untouched. Identical labels share one identity.
func RewriteLeafRefs(body string, ids map[string]int64) string {
	if len(ids) == 0 {
		return body
	}
	return leafRefRe.ReplaceAllStringFunc(body, func(ref string) string {
		m := leafRefRe.FindStringSubmatch(ref)
		label, existing := m[1], m[2]
		if existing != "" {
			return ref
		}
		id, ok := ids[label]
		if !ok {
			return ref
		}
		return "[" + label + "](@leaf:" + strconv.FormatInt(id, 10) + ")"
	})
}

// Leaf converts a raw Leaf node.
func Leaf(n *graph.Node) *model.Leaf {
	return &model.Leaf{
		ID:        n.ID,
		CreatedAt: createdAt(n),
		Title:     graph.PropString(n.Props, PropTitle),
	}
}

// Stem converts a raw Stem node.
func Stem(n *graph.Node) *model.Stem {
	return &model.Stem{
		ID:        n.ID,
		CreatedAt: createdAt(n),
		Flowering: graph.PropBool(n.Props, PropFlowering),
		Title:     graph.PropString(n.Props, PropTitle),
		Body:      graph.PropString(n.Props, PropBody),
	}
}

// Post converts a raw Post node.
func Post(n *graph.Node) *model.Post {
	return &model.Post{
		ID:  n.ID,
		Day: graph.PropInt64(n.Props, PropDay),
	}
}

// Tag converts a raw Tag node; count is the tag's total adjacency degree,
// supplied by the resolver.
func Tag(n *graph.Node, count int64) *model.Tag {
	return &model.Tag{
		ID:    n.ID,
		Name:  graph.PropString(n.Props, PropName),
		Count: count,
	}
}

func createdAt(n *graph.Node) time.Time {
	return time.UnixMilli(graph.PropInt64(n.Props, PropCreatedAt)).UTC()
}
