package userlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Capture writes stage output as JSON records, one per line. Writes through
// Write are user visible; Note adds system-only lines.
type Capture struct {
	mu      sync.Mutex
	file    *os.File
	stage   string
	buildID string
	partial []byte
	now     func() time.Time
}

// NewCapture creates the log file at path.
func NewCapture(path, stage, buildID string) (*Capture, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Capture{file: f, stage: stage, buildID: buildID, now: time.Now}, nil
}

// Path returns the log file location.
func (c *Capture) Path() string {
	return c.file.Name()
}

// Write records every complete line of p as user visible output.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partial = append(c.partial, p...)
	for {
		idx := bytes.IndexByte(c.partial, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(c.partial[:idx], "\r"))
		c.partial = c.partial[idx+1:]
		if err := c.emit(line, true); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Note records a system-only line.
func (c *Capture) Note(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.emit(fmt.Sprintf(format, args...), false)
}

// Close flushes a trailing partial line and closes the file.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.partial) > 0 {
		_ = c.emit(string(c.partial), true)
		c.partial = nil
	}
	return c.file.Close()
}

func (c *Capture) emit(message string, userVisible bool) error {
	rec := Record{
		Timestamp:   c.now().UTC().Format(time.RFC3339Nano),
		Message:     message,
		UserVisible: userVisible,
		Stage:       c.stage,
		BuildID:     c.buildID,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := c.file.Write(data); err != nil {
		return fmt.Errorf("write log record: %w", err)
	}
	return nil
}

var _ io.WriteCloser = (*Capture)(nil)
