// Package coachapi provides the REST operations of the coach backend that
// sit beside the agent run endpoint: greeting, chat history, memories and
// weekly reviews. It abstracts them behind interfaces so the chat loop can
// be tested with a mock.
package coachapi

import (
	"context"
	"time"
)

// ChatMessage is one entry of the stored chat history.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Reply is the body of greeting and weekly review responses.
type Reply struct {
	Response string `json:"response"`
}

// MemoryHits lists the memories the coach consulted for its last reply.
type MemoryHits struct {
	Hits      []string   `json:"hits"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Memory types.
const (
	MemoryDailySummary = "DAILY_SUMMARY"
	MemoryUserInsight  = "USER_INSIGHT"
	MemoryLongTerm     = "LONG_TERM_FACT"
)

// Memory is one stored coach memory.
type Memory struct {
	ID              int64    `json:"id"`
	Type            string   `json:"type"`
	Content         string   `json:"content"`
	ReferenceDate   *string  `json:"referenceDate"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	ImportanceScore *float64 `json:"importanceScore,omitempty"`
	ExpiresAt       *string  `json:"expiresAt,omitempty"`
	FormattedDate   string   `json:"formattedDate"`
}

// WeeklyReview is a stored weekly review.
type WeeklyReview struct {
	ID             int64    `json:"id"`
	TotalCompleted int      `json:"totalCompleted"`
	CurrentStreak  int      `json:"currentStreak"`
	BestStreak     int      `json:"bestStreak,omitempty"`
	Highlights     []string `json:"highlights"`
	Suggestion     string   `json:"suggestion"`
	CreatedAt      string   `json:"createdAt"`
	FormattedDate  string   `json:"formattedDate"`
}

// ConversationSource seeds a conversation.
type ConversationSource interface {
	// Greeting asks the coach for an opening message.
	Greeting(ctx context.Context) (string, error)

	// History returns the stored chat history, oldest first.
	History(ctx context.Context) ([]ChatMessage, error)
}

// MemoryReader exposes what the coach remembers.
type MemoryReader interface {
	// MemoryHits returns the memories used for the latest reply.
	MemoryHits(ctx context.Context) (*MemoryHits, error)

	// Memories returns all stored memories.
	Memories(ctx context.Context) ([]Memory, error)
}

// ReviewClient drives weekly reviews.
type ReviewClient interface {
	// GenerateWeeklyReview asks the coach to write this week's review.
	GenerateWeeklyReview(ctx context.Context) (string, error)

	// WeeklyReviews returns up to limit stored reviews, newest first.
	WeeklyReviews(ctx context.Context, limit int) ([]WeeklyReview, error)
}

// Client combines all coach REST operations.
type Client interface {
	ConversationSource
	MemoryReader
	ReviewClient
}
