// Package model defines the domain entities of the content graph: Leaf, Stem,
// Post and Tag, plus the lazy connection fields through which relationship
// traversals are deferred until a consumer actually asks for them.
package model

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/canopy-notes/canopy/internal/apperr"
)

// Kind discriminates the stored node variants.
type Kind string

const (
	KindLeaf    Kind = "Leaf"
	KindStem    Kind = "Stem"
	KindPost    Kind = "Post"
	KindTag     Kind = "Tag"
	KindUnknown Kind = ""
)

// StoredNode is the typed union returned by identity lookups.
type StoredNode interface {
	NodeID() int64
	NodeKind() Kind
}

// Connection is a deferred one-to-many relationship field. Nodes and
// TotalCount each perform their own resolver round trip when invoked.
type Connection[T any] struct {
	Nodes      func(ctx context.Context) ([]T, error)
	TotalCount func(ctx context.Context) (int64, error)
}

// Leaf is an atomic note, grown by exactly one Stem.
type Leaf struct {
	ID        int64
	CreatedAt time.Time
	Title     string

	// OriginStem resolves the Stem this leaf grew from.
	OriginStem func(ctx context.Context) (*Stem, error)
	// Stems resolves the stems extending this leaf.
	Stems Connection[*Stem]
}

func (l *Leaf) NodeID() int64  { return l.ID }
func (l *Leaf) NodeKind() Kind { return KindLeaf }

// Stem is a dated entry belonging to one Post.
type Stem struct {
	ID        int64
	CreatedAt time.Time
	Flowering bool
	Title     string
	Body      string

	// Tags resolves the tags attached to this stem.
	Tags func(ctx context.Context) ([]*Tag, error)
	// OriginLeaf resolves the extended leaf; nil for top-level stems.
	OriginLeaf func(ctx context.Context) (*Leaf, error)
	// Leaves resolves the leaves grown by this stem.
	Leaves Connection[*Leaf]
}

func (s *Stem) NodeID() int64  { return s.ID }
func (s *Stem) NodeKind() Kind { return KindStem }

// Post buckets all stems of one day. Day is an integer day index: days since
// the Unix epoch, computed in UTC.
type Post struct {
	ID  int64
	Day int64

	Stems  Connection[*Stem]
	Leaves Connection[*Leaf]
}

func (p *Post) NodeID() int64  { return p.ID }
func (p *Post) NodeKind() Kind { return KindPost }

// Tag is a topic label. Count is its popularity: the total number of
// relationships of any type touching the tag node.
type Tag struct {
	ID    int64
	Name  string
	Count int64
}

func (t *Tag) NodeID() int64  { return t.ID }
func (t *Tag) NodeKind() Kind { return KindTag }

// Unknown carries only the identity of a node with an unrecognized label.
type Unknown struct {
	ID int64
}

func (u *Unknown) NodeID() int64  { return u.ID }
func (u *Unknown) NodeKind() Kind { return KindUnknown }

// DayOf converts a point in time to its day index, always in UTC.
func DayOf(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// PostsOptions filters and bounds a posts listing.
type PostsOptions struct {
	Limit       int
	EarlierThan *int64 // day index, exclusive
	LaterThan   *int64 // day index, exclusive
}

// CreateStemInput is the createStem mutation input. Exactly one of ParentID
// and Title must be supplied: extending stems inherit their title from the
// parent leaf, top-level stems are keyed by their own title.
type CreateStemInput struct {
	Day       *int64
	ParentID  *int64
	Title     string
	Flowering bool
	Tags      []string
	Body      string
}

// Validate enforces the exactly-one-of precondition before any store
// interaction.
func (in CreateStemInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.ParentID, validation.By(func(any) error {
			hasParent := in.ParentID != nil
			hasTitle := in.Title != ""
			if hasParent == hasTitle {
				return apperr.Validationf("exactly one of parentID and title must be supplied")
			}
			return nil
		})),
		validation.Field(&in.Tags, validation.Each(validation.Required)),
	)
	if err != nil {
		if _, ok := err.(validation.Errors); ok {
			return apperr.Validationf("%v", err)
		}
		return err
	}
	return nil
}

// Listing is a deferred bounded listing of stems or leaves, as exposed on the
// panel: Nodes accepts the caller's limit at evaluation time.
type Listing[T any] struct {
	Nodes      func(ctx context.Context, limit int) ([]T, error)
	TotalCount func(ctx context.Context) (int64, error)
}

// Panel bundles the aggregate read surface behind deferred accessors so a
// consumer touching only a subset pays only for what it requests.
type Panel struct {
	Posts   func(ctx context.Context, opts PostsOptions) ([]*Post, error)
	Stems   Listing[*Stem]
	Flowers Listing[*Stem]
	Seeds   Listing[*Stem]
	Fruits  Listing[*Stem]
	Leaves  Listing[*Leaf]
}
