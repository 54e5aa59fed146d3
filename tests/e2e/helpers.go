// Package e2e provides end-to-end testing utilities for Shipyard.
package e2e

import (
	"bufio"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// SSE Stream Reading
// =============================================================================

// sseFrame is one server-sent event as read off the wire.
type sseFrame struct {
	Event string
	Data  string
}

// readSSEFrames consumes a live SSE response body until EOF. The server
// closes the stream after the terminal done or error event.
func readSSEFrames(r io.Reader) ([]sseFrame, error) {
	var frames []sseFrame
	var current sseFrame

	scanner := bufio.NewScanner(r)
	// Build output lines can be long; the default scanner limit is too small.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Event != "" {
				frames = append(frames, current)
				current = sseFrame{}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return frames, err
	}
	if current.Event != "" {
		frames = append(frames, current)
	}
	return frames, nil
}

// dumpFrames writes every streamed event to the test output. The stream is
// our eyes into the pipeline; without it a failure is just an exit code.
func dumpFrames(t *testing.T, frames []sseFrame) {
	t.Helper()
	t.Logf("=== STREAMED EVENTS (%d) ===", len(frames))
	for _, f := range frames {
		t.Logf("%s: %s", f.Event, f.Data)
	}
	t.Log("=== END STREAMED EVENTS ===")
}

// =============================================================================
// Eventually Helper
// =============================================================================

// Eventually retries a condition function until it returns true or timeout.
func Eventually(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// =============================================================================
// Environment Helpers
// =============================================================================

// envOr returns the environment variable's value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
