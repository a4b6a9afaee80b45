package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cwbudde/plasticityfit/internal/store"
)

// traceTail follows a trace file that a running search keeps appending
// to. Partial lines are held back until their newline arrives.
type traceTail struct {
	file    *os.File
	reader  *bufio.Reader
	partial []byte
}

func openTraceTail(dataDir, runID string) (*traceTail, error) {
	file, err := os.Open(store.TracePath(dataDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &store.NotFoundError{Table: "trace " + runID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &traceTail{file: file, reader: bufio.NewReader(file)}, nil
}

// next returns the entries completed since the last call
func (t *traceTail) next() ([]store.TraceEntry, error) {
	var entries []store.TraceEntry
	for {
		line, err := t.reader.ReadBytes('\n')
		if len(line) > 0 {
			t.partial = append(t.partial, line...)
		}
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("failed to read trace: %w", err)
		}

		data := bytes.TrimSpace(t.partial)
		t.partial = t.partial[:0]
		if len(data) == 0 {
			continue
		}
		var entry store.TraceEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return entries, fmt.Errorf("failed to unmarshal trace entry: %w", err)
		}
		entries = append(entries, entry)
	}
}

func (t *traceTail) Close() error {
	return t.file.Close()
}

// handleTraceStream streams the entries of a run's trace over SSE, starting
// with everything already written and then following the file.
func (s *Server) handleTraceStream(w http.ResponseWriter, r *http.Request, runID string) {
	tail, err := openTraceTail(s.dataDir, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer tail.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	send := func() bool {
		entries, err := tail.next()
		for _, entry := range entries {
			if werr := writeSSEEvent(w, entry); werr != nil {
				slog.Error("Failed to write SSE event", "error", werr)
				return false
			}
		}
		if len(entries) > 0 {
			flusher.Flush()
		}
		if err != nil {
			slog.Error("Failed to follow trace", "run", runID, "error", err)
			return false
		}
		return true
	}

	if !send() {
		return
	}
	// Headers go out even when the trace is still empty
	flusher.Flush()

	pollTicker := time.NewTicker(s.PollInterval)
	defer pollTicker.Stop()

	// Set up ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "run", runID)
			return

		case <-pollTicker.C:
			if !send() {
				return
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, entry store.TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// SSE format: "data: {json}\n\n"
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
