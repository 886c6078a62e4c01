package mockagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/npratt/coachrun/internal/coachapi"
)

// DefaultAddr is where the mock agent listens by default, matching the
// default agent endpoint.
const DefaultAddr = "127.0.0.1:8080"

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

type runInput struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (in runInput) lastUserMessage() string {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(in.Messages[i].Role, "user") {
			return in.Messages[i].Content
		}
	}
	return ""
}

// Server is the mock agent HTTP server.
type Server struct {
	script *Script
	echo   *echo.Echo
	logger *slog.Logger

	mu       sync.Mutex
	failures map[int]int
	history  []coachapi.ChatMessage
	reviews  []coachapi.WeeklyReview
	runs     int
}

// New builds a Server for script. A nil script uses DefaultScript.
func New(script *Script, logger *slog.Logger) *Server {
	if script == nil {
		script = DefaultScript()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		script:   script,
		logger:   logger,
		failures: make(map[int]int),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("mock agent request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.POST("/agui/run", s.handleRun, s.requireToken)
	api := e.Group("/api/coach", s.requireToken)
	api.GET("/greeting", s.handleGreeting)
	api.GET("/history", s.handleHistory)
	api.GET("/memory-hits", s.handleMemoryHits)
	api.GET("/memories", s.handleMemories)
	api.POST("/weekly-review", s.handleWeeklyReview)
	api.GET("/weekly-reviews", s.handleWeeklyReviews)

	s.echo = e
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Runs reports how many run requests were served.
func (s *Server) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock agent listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("mock agent: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mock agent shutdown: %w", err)
	}
	s.logger.Info("mock agent stopped")
	return nil
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.script.Token == "" {
			return next(c)
		}
		if c.Request().Header.Get("Authorization") != "Bearer "+s.script.Token {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}

func (s *Server) handleRun(c echo.Context) error {
	var in runInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run input")
	}
	if in.ThreadID == "" {
		in.ThreadID = "thread-" + uuid.NewString()
	}
	if in.RunID == "" {
		in.RunID = "run-" + uuid.NewString()
	}
	input := in.lastUserMessage()

	idx, ok := s.script.Select(input)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no scenario matches")
	}
	sc := s.script.Scenarios[idx]

	s.mu.Lock()
	s.runs++
	fail := false
	if sc.Status != 0 && (sc.FailTimes == 0 || s.failures[idx] < sc.FailTimes) {
		s.failures[idx]++
		fail = true
	}
	s.mu.Unlock()

	if fail {
		s.logger.Info("mock agent failing run", "run_id", in.RunID, "status", sc.Status)
		return c.String(sc.Status, http.StatusText(sc.Status))
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for _, ev := range Events(sc, in.ThreadID, in.RunID, input) {
		if err := s.writeEvent(w, ev); err != nil {
			return nil
		}
		if err := pause(ctx, sc.Delay); err != nil {
			return nil
		}
	}
	if sc.Hang {
		<-ctx.Done()
		return nil
	}

	if sc.Error == "" {
		s.record(input, Reply(sc, input))
	}
	return nil
}

func (s *Server) writeEvent(w *echo.Response, ev map[string]any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) record(input, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	s.history = append(s.history,
		coachapi.ChatMessage{Role: "USER", Content: input, Timestamp: now},
		coachapi.ChatMessage{Role: "ASSISTANT", Content: reply, Timestamp: now},
	)
}

func (s *Server) handleGreeting(c echo.Context) error {
	if s.script.Greeting == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no greeting")
	}
	return c.JSON(http.StatusOK, coachapi.Reply{Response: s.script.Greeting})
}

func (s *Server) handleHistory(c echo.Context) error {
	s.mu.Lock()
	history := append([]coachapi.ChatMessage{}, s.history...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleMemoryHits(c echo.Context) error {
	now := time.Now().UTC()
	hits := append([]string{}, s.script.MemoryHits...)
	return c.JSON(http.StatusOK, coachapi.MemoryHits{Hits: hits, UpdatedAt: &now})
}

func (s *Server) handleMemories(c echo.Context) error {
	today := time.Now().UTC().Format(time.DateOnly)
	memories := make([]coachapi.Memory, 0, len(s.script.MemoryHits))
	for i, hit := range s.script.MemoryHits {
		memories = append(memories, coachapi.Memory{
			ID:            int64(i + 1),
			Type:          coachapi.MemoryLongTerm,
			Content:       hit,
			FormattedDate: today,
		})
	}
	return c.JSON(http.StatusOK, memories)
}

func (s *Server) handleWeeklyReview(c echo.Context) error {
	now := time.Now().UTC()

	s.mu.Lock()
	exchanges := len(s.history) / 2
	text := fmt.Sprintf("This week you checked in %d times. Keep the next step small.", exchanges)
	s.reviews = append(s.reviews, coachapi.WeeklyReview{
		ID:             int64(len(s.reviews) + 1),
		TotalCompleted: exchanges,
		CurrentStreak:  exchanges,
		Highlights:     []string{fmt.Sprintf("%d check-ins", exchanges)},
		Suggestion:     "Keep the next step small.",
		CreatedAt:      now.Format(time.RFC3339),
		FormattedDate:  now.Format(time.DateOnly),
	})
	s.mu.Unlock()

	return c.JSON(http.StatusOK, coachapi.Reply{Response: text})
}

// handleWeeklyReviews lists stored reviews, newest first.
func (s *Server) handleWeeklyReviews(c echo.Context) error {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = coachapi.DefaultWeeklyReviewLimit
	}

	s.mu.Lock()
	reviews := make([]coachapi.WeeklyReview, 0, min(limit, len(s.reviews)))
	for i := len(s.reviews) - 1; i >= 0 && len(reviews) < limit; i-- {
		reviews = append(reviews, s.reviews[i])
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, reviews)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
