package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/npratt/coachrun/internal/events"
)

// ScannerBufferSize is the maximum length of one stream line (1MB).
const ScannerBufferSize = 1024 * 1024

// doneSentinel is sent by some servers after the last event.
const doneSentinel = "[DONE]"

// Handler receives each decoded event. Returning an error stops parsing.
type Handler func(ev *events.AgentEvent) error

// Parser reads an AG-UI server-sent event stream. Each frame's data lines
// are joined and decoded as one protocol event; event names, ids and
// comment lines are ignored.
type Parser struct {
	scanner *bufio.Scanner
	router  *events.Router
}

// NewParser creates a Parser for the given reader. Undecodable frames are
// reported on router as parse errors; router may be nil.
func NewParser(r io.Reader, router *events.Router) *Parser {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, ScannerBufferSize)

	return &Parser{
		scanner: scanner,
		router:  router,
	}
}

// Parse reads the stream until EOF, a read error, or an error from handle.
// Frames that fail to decode are reported and skipped.
func (p *Parser) Parse(handle Handler) error {
	var data []string

	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return p.dispatch(payload, handle)
	}

	for p.scanner.Scan() {
		line := strings.TrimSuffix(p.scanner.Text(), "\r")
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}

	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("read response stream: %w", err)
	}
	return flush()
}

func (p *Parser) dispatch(payload string, handle Handler) error {
	if strings.TrimSpace(payload) == doneSentinel {
		return nil
	}
	ev, err := events.DecodeAgentEvent([]byte(payload))
	if err != nil {
		p.emitParseError(payload, err)
		return nil
	}
	return handle(ev)
}

// emitParseError emits a ParseErrorEvent for a failed frame.
func (p *Parser) emitParseError(line string, err error) {
	if p.router == nil {
		return
	}
	p.router.Emit(&events.ParseErrorEvent{
		BaseEvent: events.NewInternalEvent(events.EventParseError),
		Line:      line,
		Error:     err.Error(),
	})
}
