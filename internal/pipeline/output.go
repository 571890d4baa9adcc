package pipeline

import (
	"bytes"
	"strings"
	"sync"
)

const (
	defaultOutputLimit = 8 * 1024
	artifactPrefix     = "artifact:"
	// maxLineBytes bounds the unterminated line kept for artifact parsing.
	maxLineBytes = 4 * 1024
)

// processOutput collects what a stage process prints. It keeps the last limit
// bytes for diagnostics and every "artifact: <path>" line in full.
type processOutput struct {
	mu        sync.Mutex
	limit     int
	tail      []byte
	truncated bool
	artifacts []string

	partial    []byte
	discarding bool // skipping the rest of an overlong line
}

func newProcessOutput(limit int) *processOutput {
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	return &processOutput{limit: limit}
}

func (o *processOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.tail = append(o.tail, p...)
	if over := len(o.tail) - o.limit; over > 0 {
		o.tail = append(o.tail[:0], o.tail[over:]...)
		o.truncated = true
	}

	// Progress meters redraw with '\r', so it ends a line too.
	rest := p
	for len(rest) > 0 {
		i := bytes.IndexAny(rest, "\r\n")
		if i < 0 {
			o.buffer(rest)
			break
		}
		o.buffer(rest[:i])
		if !o.discarding {
			o.scanLine(string(o.partial))
		}
		o.partial = o.partial[:0]
		o.discarding = false
		rest = rest[i+1:]
	}
	return len(p), nil
}

// buffer appends to the current line, dropping it once it exceeds
// maxLineBytes.
func (o *processOutput) buffer(b []byte) {
	if o.discarding {
		return
	}
	if len(o.partial)+len(b) > maxLineBytes {
		o.partial = o.partial[:0]
		o.discarding = true
		return
	}
	o.partial = append(o.partial, b...)
}

func (o *processOutput) scanLine(line string) {
	line = strings.TrimSpace(line)
	if path, ok := strings.CutPrefix(line, artifactPrefix); ok {
		if path = strings.TrimSpace(path); path != "" {
			o.artifacts = append(o.artifacts, path)
		}
	}
}

// Artifacts returns the reported artifact paths, including an unterminated
// final line.
func (o *processOutput) Artifacts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := append([]string(nil), o.artifacts...)
	if o.discarding {
		return out
	}
	if line := strings.TrimSpace(string(o.partial)); strings.HasPrefix(line, artifactPrefix) {
		if path := strings.TrimSpace(strings.TrimPrefix(line, artifactPrefix)); path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Tail returns the retained output, marked when earlier output was dropped.
func (o *processOutput) Tail() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := strings.TrimSpace(string(o.tail))
	if o.truncated {
		return "..." + s
	}
	return s
}
