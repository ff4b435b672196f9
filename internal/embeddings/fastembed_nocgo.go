//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrLocalUnavailable is returned by the fastembed provider in builds
// without cgo.
var ErrLocalUnavailable = errors.New("fastembed provider needs a cgo build; configure openai or gemini")

// FastEmbedProvider is unavailable without cgo.
type FastEmbedProvider struct{}

func NewFastEmbedProvider(LocalConfig) (*FastEmbedProvider, error) {
	return nil, ErrLocalUnavailable
}

func (*FastEmbedProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrLocalUnavailable
}

func (*FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrLocalUnavailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
