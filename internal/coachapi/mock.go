package coachapi

import (
	"context"
	"sync"
)

// MockClient is a mock implementation of Client for testing.
// It records all calls and returns configured responses.
type MockClient struct {
	mu sync.Mutex

	// Configured responses
	GreetingResponse      string
	GreetingError         error
	HistoryResponse       []ChatMessage
	HistoryError          error
	MemoryHitsResponse    *MemoryHits
	MemoryHitsError       error
	MemoriesResponse      []Memory
	MemoriesError         error
	WeeklyReviewResponse  string
	WeeklyReviewError     error
	WeeklyReviewsResponse []WeeklyReview
	WeeklyReviewsError    error

	// Call tracking
	GreetingCalls      int
	HistoryCalls       int
	MemoryHitsCalls    int
	MemoriesCalls      int
	WeeklyReviewCalls  int
	WeeklyReviewsCalls []int
}

// NewMockClient creates a MockClient with empty responses.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Greeting returns the configured greeting.
func (m *MockClient) Greeting(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GreetingCalls++
	return m.GreetingResponse, m.GreetingError
}

// History returns the configured history.
func (m *MockClient) History(context.Context) ([]ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls++
	return m.HistoryResponse, m.HistoryError
}

// MemoryHits returns the configured hits.
func (m *MockClient) MemoryHits(context.Context) (*MemoryHits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MemoryHitsCalls++
	if m.MemoryHitsError != nil {
		return nil, m.MemoryHitsError
	}
	if m.MemoryHitsResponse == nil {
		return &MemoryHits{}, nil
	}
	return m.MemoryHitsResponse, nil
}

// Memories returns the configured memories.
func (m *MockClient) Memories(context.Context) ([]Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MemoriesCalls++
	return m.MemoriesResponse, m.MemoriesError
}

// GenerateWeeklyReview returns the configured review text.
func (m *MockClient) GenerateWeeklyReview(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WeeklyReviewCalls++
	return m.WeeklyReviewResponse, m.WeeklyReviewError
}

// WeeklyReviews returns the configured reviews.
func (m *MockClient) WeeklyReviews(_ context.Context, limit int) ([]WeeklyReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WeeklyReviewsCalls = append(m.WeeklyReviewsCalls, limit)
	return m.WeeklyReviewsResponse, m.WeeklyReviewsError
}

var _ Client = (*MockClient)(nil)
var _ Client = (*HTTPClient)(nil)
