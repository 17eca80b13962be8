package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roomdoor/fan-out-call/internal/engine"
	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/store"
)

// handleStreamEvents streams run progress as server-sent events: one
// "result" event per provider, a "finalized" event carrying the terminal
// snapshot, then "done".
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	no, ok := s.parseTransactionNo(w, r)
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), no)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for events", "transaction_no", no, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query")
		return
	}

	// Subscribe before reading the results so none falls in between.
	ch, unsub := s.orchestrator.Broker().Subscribe(run.ID)
	defer unsub()

	snap, err := s.lifecycle.LookupByTransactionNo(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("snapshot run for events", "transaction_no", no, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	seen := make(map[string]bool, snap.RequestedProviderCount)
	for _, rv := range snap.Results {
		seen[rv.ProviderCode] = true
		if err := writeSSEJSON(w, engine.EventResult, rv); err != nil {
			return
		}
	}

	if snap.Status.IsTerminal() {
		s.finishStream(w, snap)
		flush()
		return
	}
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Broker closed without a delivered finalized event; the
				// stored snapshot is authoritative.
				if final, err := s.lifecycle.LookupByTransactionNo(r.Context(), no); err == nil {
					s.finishStream(w, final)
				} else {
					_ = writeSSEEvent(w, "done", "stream complete")
				}
				flush()
				return
			}

			switch ev.Type {
			case engine.EventResult:
				if ev.Result == nil || seen[ev.Result.ProviderCode] {
					continue
				}
				seen[ev.Result.ProviderCode] = true
				if err := writeSSEJSON(w, engine.EventResult, ev.Result); err != nil {
					return
				}
			case engine.EventFinalized:
				s.finishStream(w, ev.Snapshot)
				flush()
				return
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) finishStream(w http.ResponseWriter, snap *model.RunSnapshot) {
	if err := writeSSEJSON(w, engine.EventFinalized, snap); err != nil {
		return
	}
	_ = writeSSEEvent(w, "done", "stream complete")
}

func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEData writes an unnamed SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, data)
}
