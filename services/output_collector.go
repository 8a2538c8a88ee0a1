package services

import (
	"bytes"
	"sync"

	"sandbox-runner-server/models"
)

// outputCollector accumulates a container's output up to a byte limit per
// stream while relaying every chunk live. After snapshot it ignores writes,
// so a stream that outlives its execution cannot leak into the result.
type outputCollector struct {
	mu          sync.Mutex
	relay       *OutputRelay
	sessionID   string
	executionID string
	limit       int

	stdout    bytes.Buffer
	stderr    bytes.Buffer
	truncated bool
	closed    bool
}

func newOutputCollector(relay *OutputRelay, sessionID, executionID string, limit int) *outputCollector {
	return &outputCollector{
		relay:       relay,
		sessionID:   sessionID,
		executionID: executionID,
		limit:       limit,
	}
}

type streamWriter struct {
	c      *outputCollector
	stream string
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.c.write(w.stream, p)
	return len(p), nil
}

func (c *outputCollector) Stdout() streamWriter { return streamWriter{c: c, stream: models.StreamStdout} }
func (c *outputCollector) Stderr() streamWriter { return streamWriter{c: c, stream: models.StreamStderr} }

func (c *outputCollector) write(stream string, p []byte) {
	if len(p) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	buf := &c.stdout
	if stream == models.StreamStderr {
		buf = &c.stderr
	}
	room := c.limit - buf.Len()
	switch {
	case c.limit <= 0 || len(p) <= room:
		buf.Write(p)
	case room > 0:
		buf.Write(p[:room])
		c.truncated = true
	default:
		c.truncated = true
	}

	// Published under the collector lock so interleaved stdout/stderr keep
	// their production order on the relay.
	c.relay.Publish(models.OutputChunk{
		SessionID:   c.sessionID,
		ExecutionID: c.executionID,
		Stream:      stream,
		Data:        string(p),
	})
}

// snapshot freezes the collector and returns what it accumulated.
func (c *outputCollector) snapshot() (stdout, stderr string, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.stdout.String(), c.stderr.String(), c.truncated
}
