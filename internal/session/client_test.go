package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/httpkit"
	"github.com/npratt/coachrun/internal/runerr"
	"github.com/npratt/coachrun/internal/testutil"
)

func TestClient_TextRun(t *testing.T) {
	srv := testutil.NewAgentServer(t, testutil.NewTextRun("thread-1", "run-1", "Good morning"))
	router := events.NewRouter(100)
	defer router.Close()
	sub := router.Subscribe()

	c := New(srv.RunURL(),
		WithRouter(router),
		WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithBearerToken("tok"))),
	)
	c.Transcript().AppendUser("hi")

	result, err := c.Run(context.Background(), agentrun.RunOptions{RunID: "run-1", ThreadID: "thread-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.NewMessages) != 1 || result.NewMessages[0].Content != "Good morning" {
		t.Errorf("expected assembled reply, got %+v", result.NewMessages)
	}
	if result.RunID != "run-1" {
		t.Errorf("expected run-1, got %q", result.RunID)
	}

	runs := srv.Runs()
	if len(runs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(runs))
	}
	h := runs[0].Header
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", h.Get("Authorization"))
	}
	if h.Get("Accept") != "text/event-stream" {
		t.Errorf("expected SSE accept header, got %q", h.Get("Accept"))
	}
	body := runs[0].Body
	if body["runId"] != "run-1" || body["threadId"] != "thread-1" {
		t.Errorf("unexpected ids in body: %v", body)
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
		t.Errorf("expected user message in body, got %v", body["messages"])
	}
	for _, key := range []string{"tools", "context", "state", "forwardedProps"} {
		if body[key] == nil {
			t.Errorf("expected %s to be present and non-null", key)
		}
	}

	router.Close()
	collected := collectEvents(sub, 100*time.Millisecond)
	if len(collected) == 0 || collected[0].Type() != events.EventRunStarted {
		t.Fatalf("expected events published starting with RUN_STARTED, got %d", len(collected))
	}
	for _, e := range collected {
		if ae, ok := e.(*events.AgentEvent); ok && ae.RunID != "run-1" {
			t.Errorf("expected run id on %s, got %q", ae.EventType, ae.RunID)
		}
	}
}

func TestClient_ResolvesToolNames(t *testing.T) {
	srv := testutil.NewAgentServer(t, testutil.NewToolRun("t", "r", "search_memory", `{"q":"goals"}`, "Found it"))

	var ended []string
	c := New(srv.RunURL(), WithEventHook(func(e *events.AgentEvent) {
		if e.EventType == events.EventToolCallEnd || e.EventType == events.EventToolCallResult {
			ended = append(ended, e.ToolName)
		}
	}))

	result, err := c.Run(context.Background(), agentrun.RunOptions{RunID: "r", ThreadID: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ended) != 2 || ended[0] != "search_memory" || ended[1] != "search_memory" {
		t.Errorf("expected resolved names on end and result, got %v", ended)
	}
	last, ok := agentrun.LastAssistant(result.NewMessages)
	if !ok || last.Content != "Found it" {
		t.Errorf("expected final assistant text, got %+v", result.NewMessages)
	}
}

func TestClient_ResultOnlyRun(t *testing.T) {
	srv := testutil.NewAgentServer(t, testutil.NewResultOnlyRun("t", "r", map[string]any{"response": "From result"}))

	result, err := New(srv.RunURL()).Run(context.Background(), agentrun.RunOptions{RunID: "r"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.Result.(map[string]any)
	if !ok || m["response"] != "From result" {
		t.Errorf("expected RUN_FINISHED result, got %#v", result.Result)
	}
	if len(result.NewMessages) != 0 {
		t.Errorf("expected no new messages, got %+v", result.NewMessages)
	}
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name     string
		stream   *testutil.MockAgentStream
		wantText string
		wantKind runerr.Kind
	}{
		{"http 503", testutil.NewStatusResponse(http.StatusServiceUnavailable, "upstream down"), "HTTP 503: upstream down", runerr.KindServer},
		{"http 401", testutil.NewStatusResponse(http.StatusUnauthorized, "nope"), "HTTP 401", runerr.KindAuth},
		{"run error", testutil.NewErrorRun("t", "r", "Invalid token for model"), "Invalid token for model", runerr.KindAuth},
		{"no terminal event", &testutil.MockAgentStream{Events: []string{`{"type":"RUN_STARTED"}`}}, "AGUIError", runerr.KindProtocol},
		{"bad first event", &testutil.MockAgentStream{Events: []string{`{"type":"TEXT_MESSAGE_START","messageId":"m"}`}}, "First event must be 'RUN_STARTED'", runerr.KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewAgentServer(t, tt.stream)
			c := New(srv.RunURL())
			c.Transcript().AppendUser("hi")

			_, err := c.Run(context.Background(), agentrun.RunOptions{RunID: "r"})
			if err == nil || !strings.Contains(err.Error(), tt.wantText) {
				t.Fatalf("expected error containing %q, got %v", tt.wantText, err)
			}
			if kind := runerr.Classify(err).Kind; kind != tt.wantKind {
				t.Errorf("expected %s, got %s", tt.wantKind, kind)
			}
			if c.Transcript().Len() != 1 {
				t.Errorf("expected transcript rolled back to 1 message, got %d", c.Transcript().Len())
			}
		})
	}
}

func TestClient_RunErrorType(t *testing.T) {
	srv := testutil.NewAgentServer(t, testutil.NewErrorRun("t", "r", "quota exceeded"))
	_, err := New(srv.RunURL()).Run(context.Background(), agentrun.RunOptions{RunID: "r"})

	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RunError, got %T", err)
	}
	if rerr.Message != "quota exceeded" {
		t.Errorf("expected message, got %q", rerr.Message)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := testutil.NewAgentServer(t)
	url := srv.RunURL()
	srv.Close()

	_, err := New(url).Run(context.Background(), agentrun.RunOptions{RunID: "r"})
	if kind := runerr.Classify(err).Kind; kind != runerr.KindNetwork {
		t.Errorf("expected network kind, got %s (%v)", kind, err)
	}
}

func TestClient_Cancelled(t *testing.T) {
	srv := testutil.NewAgentServer(t, testutil.NewTextRun("t", "r", "hi"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.RunURL()).Run(ctx, agentrun.RunOptions{RunID: "r"})
	if kind := runerr.Classify(err).Kind; kind != runerr.KindAborted {
		t.Errorf("expected aborted kind, got %s (%v)", kind, err)
	}
}

func TestClient_WithRetryDriver(t *testing.T) {
	srv := testutil.NewAgentServer(t,
		testutil.NewStatusResponse(http.StatusBadGateway, "bad gateway"),
		testutil.NewTextRun("t", "ignored", "second time lucky"),
	)
	c := New(srv.RunURL())
	c.Transcript().AppendUser("hi")

	d := agentrun.NewDriver(agentrun.WithSleep(func(context.Context, time.Duration) error { return nil }))
	result, err := d.RunWithRetry(context.Background(), c, agentrun.RunOptions{RunID: "run-1", ThreadID: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runs := srv.Runs()
	if len(runs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(runs))
	}
	if runs[0].Body["runId"] == runs[1].Body["runId"] {
		t.Errorf("expected a fresh run id on retry, both were %v", runs[0].Body["runId"])
	}
	if len(result.NewMessages) != 1 || result.NewMessages[0].Content != "second time lucky" {
		t.Errorf("unexpected reply: %+v", result.NewMessages)
	}
}
