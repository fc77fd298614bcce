// Package userlog captures build stage output and publishes it to a log store.
package userlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Record is one captured line.
type Record struct {
	Timestamp   string `json:"@timestamp"`
	Message     string `json:"message"`
	UserVisible bool   `json:"_user_visible"`
	Stage       string `json:"stage,omitempty"`
	BuildID     string `json:"build_id,omitempty"`
}

const maxLineSize = 1024 * 1024

// TransformJSONLog rewrites JSON log records from r as
// "<timestamp> [user|system] <message>" lines on w. Malformed lines and lines
// longer than maxLineSize are skipped with a warning. It returns the number of
// lines written.
func TransformJSONLog(r io.Reader, w io.Writer, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	in := bufio.NewReaderSize(r, 64*1024)
	out := bufio.NewWriter(w)
	written := 0
	for lineNo := 1; ; lineNo++ {
		raw, tooLong, err := readLine(in)
		if err != nil && !errors.Is(err, io.EOF) {
			return written, fmt.Errorf("read log: %w", err)
		}
		if tooLong {
			logger.Warn("skipping oversized log line", "line", lineNo, "limit", maxLineSize)
		} else if line := strings.TrimSpace(string(raw)); line != "" {
			var rec Record
			if uerr := json.Unmarshal([]byte(line), &rec); uerr != nil {
				logger.Warn("skipping malformed log line", "line", lineNo, "error", uerr)
			} else {
				visibility := "system"
				if rec.UserVisible {
					visibility = "user"
				}
				if _, werr := fmt.Fprintf(out, "%s [%s] %s\n", rec.Timestamp, visibility, rec.Message); werr != nil {
					return written, fmt.Errorf("write transformed log: %w", werr)
				}
				written++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if err := out.Flush(); err != nil {
		return written, fmt.Errorf("flush transformed log: %w", err)
	}
	return written, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed in full but not returned, and tooLong is set.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, rerr := r.ReadLine()
		if rerr != nil {
			return line, tooLong, rerr
		}
		if !tooLong {
			if len(line)+len(chunk) > maxLineSize {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}
