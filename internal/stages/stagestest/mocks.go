// Package stagestest provides testify mocks of the stage collaborators.
package stagestest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// MockUnderstander is a mock implementation of stages.Understander
type MockUnderstander struct {
	mock.Mock
}

func (m *MockUnderstander) Understand(ctx context.Context, query string) (conversation.Understanding, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(conversation.Understanding), args.Error(1)
}

// MockEmbedder is a mock implementation of stages.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockRetriever is a mock implementation of stages.Retriever
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Search(ctx context.Context, vector []float32, filters conversation.SearchFilters, limit int) ([]conversation.Candidate, error) {
	args := m.Called(ctx, vector, filters, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]conversation.Candidate), args.Error(1)
}

// MockGenerator is a mock implementation of stages.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Synthesize(ctx context.Context, query string, results []conversation.Candidate) (conversation.Answer, error) {
	args := m.Called(ctx, query, results)
	return args.Get(0).(conversation.Answer), args.Error(1)
}

// MockHistory is a mock implementation of stages.HistoryStore
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Append(ctx context.Context, rec conversation.HistoryRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockHistory) QueryStats(ctx context.Context, q conversation.StatsQuery) (conversation.TopicStats, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(conversation.TopicStats), args.Error(1)
}

func (m *MockHistory) PublishGap(ctx context.Context, s conversation.GapSuggestion) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// Mocks bundles one mock per collaborator.
type Mocks struct {
	Understander *MockUnderstander
	Embedder     *MockEmbedder
	Retriever    *MockRetriever
	Generator    *MockGenerator
	History      *MockHistory
}

// NewMocks returns fresh mocks.
func NewMocks() *Mocks {
	return &Mocks{
		Understander: &MockUnderstander{},
		Embedder:     &MockEmbedder{},
		Retriever:    &MockRetriever{},
		Generator:    &MockGenerator{},
		History:      &MockHistory{},
	}
}

// AssertExpectations asserts the expectations of every mock.
func (m *Mocks) AssertExpectations(t mock.TestingT) {
	m.Understander.AssertExpectations(t)
	m.Embedder.AssertExpectations(t)
	m.Retriever.AssertExpectations(t)
	m.Generator.AssertExpectations(t)
	m.History.AssertExpectations(t)
}
