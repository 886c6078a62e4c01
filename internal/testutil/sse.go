package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockAgentStream is a scripted AG-UI server-sent event stream.
type MockAgentStream struct {
	Events []string
	// Status overrides the HTTP status; zero means 200.
	Status int
	// Body is sent instead of the events for non-2xx statuses.
	Body string
}

// Reader returns the events as SSE frames.
func (m *MockAgentStream) Reader() io.Reader {
	return strings.NewReader(m.String())
}

// String returns the events as SSE frames, one blank-line separated
// "data:" frame per event.
func (m *MockAgentStream) String() string {
	var b strings.Builder
	for _, ev := range m.Events {
		b.WriteString("data: ")
		b.WriteString(ev)
		b.WriteString("\n\n")
	}
	return b.String()
}

// AddEvent appends a raw JSON event.
func (m *MockAgentStream) AddEvent(event string) {
	m.Events = append(m.Events, event)
}

// AddJSON appends an event marshaled from v.
func (m *MockAgentStream) AddJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.AddEvent(string(data))
}

// NewTextRun creates a run that answers with a single text message.
func NewTextRun(threadID, runID, text string) *MockAgentStream {
	s := &MockAgentStream{}
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_STARTED","threadId":%q,"runId":%q}`, threadID, runID))
	s.AddEvent(`{"type":"TEXT_MESSAGE_START","messageId":"msg-1","role":"assistant"}`)
	for _, word := range strings.SplitAfter(text, " ") {
		s.AddJSON(map[string]any{"type": "TEXT_MESSAGE_CONTENT", "messageId": "msg-1", "delta": word})
	}
	s.AddEvent(`{"type":"TEXT_MESSAGE_END","messageId":"msg-1"}`)
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_FINISHED","threadId":%q,"runId":%q}`, threadID, runID))
	return s
}

// NewToolRun creates a run that calls one tool before answering.
func NewToolRun(threadID, runID, tool, args, text string) *MockAgentStream {
	s := &MockAgentStream{}
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_STARTED","threadId":%q,"runId":%q}`, threadID, runID))
	s.AddJSON(map[string]any{"type": "TOOL_CALL_START", "toolCallId": "tc-1", "toolCallName": tool, "parentMessageId": "msg-0"})
	s.AddJSON(map[string]any{"type": "TOOL_CALL_ARGS", "toolCallId": "tc-1", "delta": args})
	s.AddEvent(`{"type":"TOOL_CALL_END","toolCallId":"tc-1"}`)
	s.AddEvent(`{"type":"TOOL_CALL_RESULT","toolCallId":"tc-1","messageId":"msg-tool","content":"ok"}`)
	s.AddEvent(`{"type":"TEXT_MESSAGE_START","messageId":"msg-1","role":"assistant"}`)
	s.AddJSON(map[string]any{"type": "TEXT_MESSAGE_CONTENT", "messageId": "msg-1", "delta": text})
	s.AddEvent(`{"type":"TEXT_MESSAGE_END","messageId":"msg-1"}`)
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_FINISHED","threadId":%q,"runId":%q}`, threadID, runID))
	return s
}

// NewResultOnlyRun creates a run that emits no messages and carries its
// answer in the RUN_FINISHED result.
func NewResultOnlyRun(threadID, runID string, result any) *MockAgentStream {
	s := &MockAgentStream{}
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_STARTED","threadId":%q,"runId":%q}`, threadID, runID))
	s.AddJSON(map[string]any{"type": "RUN_FINISHED", "threadId": threadID, "runId": runID, "result": result})
	return s
}

// NewErrorRun creates a run that fails with RUN_ERROR.
func NewErrorRun(threadID, runID, message string) *MockAgentStream {
	s := &MockAgentStream{}
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_STARTED","threadId":%q,"runId":%q}`, threadID, runID))
	s.AddJSON(map[string]any{"type": "RUN_ERROR", "message": message})
	return s
}

// NewInlineErrorRun creates a run that reports a backend error through a
// RAW event and still finishes.
func NewInlineErrorRun(threadID, runID, message string) *MockAgentStream {
	s := &MockAgentStream{}
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_STARTED","threadId":%q,"runId":%q}`, threadID, runID))
	s.AddJSON(map[string]any{"type": "RAW", "event": map[string]any{}, "rawEvent": map[string]any{"error": message}})
	s.AddEvent(fmt.Sprintf(`{"type":"RUN_FINISHED","threadId":%q,"runId":%q}`, threadID, runID))
	return s
}

// NewStatusResponse creates a non-2xx response.
func NewStatusResponse(status int, body string) *MockAgentStream {
	return &MockAgentStream{Status: status, Body: body}
}

// RecordedRun is one request received by an AgentServer.
type RecordedRun struct {
	Header http.Header
	Body   map[string]any
}

// AgentServer serves scripted streams, one per request in order. Requests
// beyond the script get the last stream again.
type AgentServer struct {
	*httptest.Server

	mu      sync.Mutex
	streams []*MockAgentStream
	runs    []RecordedRun
}

// NewAgentServer starts an AgentServer; it is closed by t.Cleanup.
func NewAgentServer(t *testing.T, streams ...*MockAgentStream) *AgentServer {
	t.Helper()
	s := &AgentServer{streams: streams}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *AgentServer) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	n := len(s.runs)
	s.runs = append(s.runs, RecordedRun{Header: r.Header.Clone(), Body: body})
	var stream *MockAgentStream
	if len(s.streams) > 0 {
		stream = s.streams[min(n, len(s.streams)-1)]
	}
	s.mu.Unlock()

	if stream == nil {
		http.Error(w, "no script", http.StatusInternalServerError)
		return
	}
	if stream.Status != 0 && stream.Status/100 != 2 {
		http.Error(w, stream.Body, stream.Status)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, stream.String())
}

// Runs returns the recorded requests.
func (s *AgentServer) Runs() []RecordedRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRun(nil), s.runs...)
}

// RunURL returns the run endpoint.
func (s *AgentServer) RunURL() string {
	return s.Server.URL + "/agui/run"
}
