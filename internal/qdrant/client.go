// Package qdrant adapts the Qdrant gRPC client to the document index and
// the interaction history.
package qdrant

import "context"

// Client is the part of Qdrant askd uses.
type Client interface {
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error)
	Health(ctx context.Context) error
	Close() error
}

// Point is a stored vector. ID must be a UUID. Payload values may be
// strings, booleans, integers, floats, string slices, []any or nested
// map[string]any.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit. Integer payload values come back as int64
// and floats as float64.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter keeps points satisfying every condition in Must.
type Filter struct {
	Must []Condition
}

// Condition constrains one payload field, either to a set of keywords or
// to a numeric range.
type Condition struct {
	Field string
	AnyOf []string
	Range *Range
}

// Range bounds a numeric payload field inclusively. Nil bounds are open.
type Range struct {
	Gte *float64
	Lte *float64
}

// EnsureCollection creates collection unless it exists.
func EnsureCollection(ctx context.Context, c Client, name string, vectorSize uint64) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil || exists {
		return err
	}
	return c.CreateCollection(ctx, name, vectorSize)
}
