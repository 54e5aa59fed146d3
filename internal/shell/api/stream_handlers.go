package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/stream"
)

// =============================================================================
// SSE Plumbing
// =============================================================================

// setSSEHeaders configures the response for Server-Sent Events. The
// Content-Type override replaces what the JSON middleware set; proxy
// buffering is disabled so each event reaches the client as it happens.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes one stream event in SSE wire format
// (event: kind, data: json) and flushes it out.
func writeSSEEvent(w io.Writer, flusher http.Flusher, ev stream.Event) error {
	var payload any
	switch ev.Kind {
	case stream.KindLog:
		payload = map[string]string{"line": ev.Line}
	case stream.KindDone:
		if ev.Fields != nil {
			payload = ev.Fields
		} else {
			payload = map[string]any{}
		}
	case stream.KindError:
		payload = map[string]string{"error": ev.Err.Error()}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// streamEvents forwards a producer stream to the client as SSE. The
// stream is closed on every exit path, which cancels the producer the
// moment the client goes away instead of letting it run to a terminal
// event nobody reads.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, st *stream.Stream) {
	defer st.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported", "streaming_unsupported")
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-st.Events():
			if !open {
				return
			}
			if err := writeSSEEvent(w, flusher, ev); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// =============================================================================
// Streaming Handlers
// =============================================================================

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		h.writeError(w, http.StatusBadRequest, "instruction is required", "validation_error")
		return
	}

	st, err := h.engine.Generate(r.Context(), name, req.Instruction)
	if err != nil {
		h.writeEngineError(w, "generate code", err)
		return
	}

	h.streamEvents(w, r, st)
}

func (h *Handler) handleStartBuild(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	st, build, err := h.engine.BuildPreview(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "start build", err)
		return
	}

	// The history row exists before the first event, so a client can
	// correlate the stream with GET builds.
	w.Header().Set("X-Build-ID", build.ID)
	w.Header().Set("X-Build-Version", build.Version)

	h.streamEvents(w, r, st)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	env := r.URL.Query().Get("env")
	if env == "" {
		env = string(domain.EnvPreview)
	}
	if !domain.ValidEnvironment(env) {
		h.writeError(w, http.StatusBadRequest, "env must be preview or prod", "invalid_environment")
		return
	}

	st, err := h.engine.Logs(r.Context(), name, domain.Environment(env))
	if err != nil {
		h.writeEngineError(w, "tail logs", err)
		return
	}

	h.streamEvents(w, r, st)
}
