// Package mockagent is a scripted local AG-UI endpoint for development and
// tests. It streams run events for canned scenarios matched against the
// latest user message, and serves the coach REST routes the chat loop
// bootstraps from.
package mockagent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Script configures the mock agent.
type Script struct {
	// Token, when set, is required as a bearer token.
	Token      string     `yaml:"token"`
	Greeting   string     `yaml:"greeting"`
	MemoryHits []string   `yaml:"memory_hits"`
	Scenarios  []Scenario `yaml:"scenarios"`
}

// Scenario is one canned run.
type Scenario struct {
	// Match selects the scenario when the latest user message contains it,
	// ignoring case. An empty Match is the fallback.
	Match string `yaml:"match"`
	// Reply is streamed as the assistant message. "{{input}}" is replaced
	// with the user message. Empty replies echo the input.
	Reply string     `yaml:"reply"`
	Tools []ToolStep `yaml:"tools"`
	// Delay is paused between events.
	Delay time.Duration `yaml:"delay"`
	// Error ends the run with RUN_ERROR.
	Error string `yaml:"error"`
	// InlineError reports a backend error through a RAW event.
	InlineError string `yaml:"inline_error"`
	// Status fails the request with this HTTP status for the first
	// FailTimes matching requests (every request when FailTimes is 0).
	Status    int `yaml:"status"`
	FailTimes int `yaml:"fail_times"`
	// Result is sent in RUN_FINISHED. With ResultOnly no message is
	// streamed and the reply is carried only here.
	Result     any  `yaml:"result"`
	ResultOnly bool `yaml:"result_only"`
	// Hang keeps the stream open without finishing.
	Hang bool `yaml:"hang"`
}

// ToolStep is a tool call made before the reply.
type ToolStep struct {
	Name   string         `yaml:"name"`
	Args   map[string]any `yaml:"args"`
	Result string         `yaml:"result"`
}

// DefaultScript echoes every message after a memory lookup.
func DefaultScript() *Script {
	return &Script{
		Greeting:   "Hi! What small step would you like to take today?",
		MemoryHits: []string{"Prefers short morning routines"},
		Scenarios: []Scenario{{
			Tools: []ToolStep{{
				Name:   "search_memory",
				Args:   map[string]any{"query": "{{input}}"},
				Result: "1 memory found",
			}},
			Reply: "You said: {{input}}",
			Delay: 150 * time.Millisecond,
		}},
	}
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// Validate checks the script for impossible settings.
func (s *Script) Validate() error {
	for i, sc := range s.Scenarios {
		if sc.Status != 0 && (sc.Status < 100 || sc.Status > 599) {
			return fmt.Errorf("scenario %d: invalid status %d", i, sc.Status)
		}
		if sc.FailTimes < 0 {
			return fmt.Errorf("scenario %d: fail_times must not be negative", i)
		}
		if sc.Delay < 0 {
			return fmt.Errorf("scenario %d: delay must not be negative", i)
		}
		for j, tool := range sc.Tools {
			if tool.Name == "" {
				return fmt.Errorf("scenario %d: tool %d has no name", i, j)
			}
		}
	}
	return nil
}

// Select returns the index of the first scenario matching input, falling
// back to the first scenario without a match string.
func (s *Script) Select(input string) (int, bool) {
	lower := strings.ToLower(input)
	fallback := -1
	for i, sc := range s.Scenarios {
		if sc.Match == "" {
			if fallback < 0 {
				fallback = i
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(sc.Match)) {
			return i, true
		}
	}
	return fallback, fallback >= 0
}

func expand(template, input string) string {
	return strings.ReplaceAll(template, "{{input}}", input)
}
