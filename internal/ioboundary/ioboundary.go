// Package ioboundary frames the kernel's submission/event protocol over
// newline-delimited JSON on stdio: one Submission per input line, one
// flushed Event per output line.
package ioboundary

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/finger-kernel/kernel/internal/kernel"
	"github.com/finger-kernel/kernel/internal/protocol"
)

// ReadSubmissions scans r line by line, parsing each non-blank line as
// a Submission. Blank lines are ignored; malformed lines are logged to
// logger and skipped rather than ending the stream. The returned
// channel is closed when r is exhausted.
func ReadSubmissions(r io.Reader, logger *slog.Logger) <-chan protocol.Submission {
	out := make(chan protocol.Submission)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var sub protocol.Submission
			if err := json.Unmarshal([]byte(line), &sub); err != nil {
				logger.Warn("ioboundary: dropping malformed submission line", "error", err)
				continue
			}
			out <- sub
		}
		if err := scanner.Err(); err != nil {
			logger.Error("ioboundary: stdin scan failed", "error", err)
		}
	}()
	return out
}

// WriteEvent marshals one Event and writes it as a flushed line.
func WriteEvent(w *bufio.Writer, event protocol.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ioboundary: marshal event: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// Run wires r's submissions into rt and rt's events out to w, returning
// once a ShutdownComplete event has been written (or the event channel
// closes for any other reason).
func Run(r io.Reader, w io.Writer, logger *slog.Logger, rt *kernel.Runtime) error {
	submissions := ReadSubmissions(r, logger)
	go func() {
		for sub := range submissions {
			if err := rt.Submit(sub); err != nil {
				logger.Error("ioboundary: failed to submit", "error", err)
				return
			}
		}
	}()

	bw := bufio.NewWriter(w)
	for event := range rt.Events() {
		if err := WriteEvent(bw, event); err != nil {
			return err
		}
		if event.Msg.Type == protocol.EventShutdownComplete {
			return nil
		}
	}
	return nil
}
