package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mapfold/listsync/internal/core"
)

type trackEventRequest struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
	HashFields []string       `json:"hash_fields"`
	Flush      bool           `json:"flush"`
}

type telemetryRequest struct {
	Enabled  *bool                 `json:"enabled"`
	Upload   *core.TransportConfig `json:"upload"`
	ClearUp  bool                  `json:"clear_upload"`
	FlushNow bool                  `json:"flush_now"`
}

type refreshRequest struct {
	Partition string `json:"partition"`
}

func (s *Server) trackEvent(w http.ResponseWriter, r *http.Request) {
	var req trackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "missing event name")
		return
	}
	props := req.Properties
	if len(req.HashFields) > 0 {
		props = s.hashFields(props, req.HashFields)
	}
	if req.Flush {
		s.batcher.TrackFlush(req.Event, props)
	} else {
		s.batcher.Track(req.Event, props)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": s.batcher.QueueDepth(),
	})
}

// hashFields replaces the named string properties with their salted hashes so
// raw identifiers never reach a transport.
func (s *Server) hashFields(props map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	for _, field := range fields {
		raw, ok := out[field].(string)
		if !ok || raw == "" {
			continue
		}
		out[field] = s.hasher.Hash(raw)
	}
	return out
}

func (s *Server) flushEvents(w http.ResponseWriter, _ *http.Request) {
	s.batcher.Flush()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flushing"})
}

func (s *Server) configureTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Upload != nil && req.ClearUp {
		writeError(w, http.StatusBadRequest, "upload and clear_upload are mutually exclusive")
		return
	}
	if req.Enabled != nil {
		s.batcher.SetEnabled(*req.Enabled)
	}
	if req.Upload != nil {
		s.batcher.ConfigureUpload(req.Upload)
	} else if req.ClearUp {
		s.batcher.ConfigureUpload(nil)
	}
	if req.FlushNow {
		s.batcher.Flush()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queued": s.batcher.QueueDepth(),
	})
}

func (s *Server) enqueueRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	partition, err := core.ParsePartition(req.Partition)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job := s.scheduler.Enqueue(partition)
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) pauseRefresh(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeRefresh(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) cancelRefresh(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) clearFinished(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.ClearFinished()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.scheduler.Snapshot()})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.scheduler.Snapshot()})
}

// streamJobs pushes scheduler updates as server-sent events until the client
// disconnects. The subscription opens before the snapshot replay so no
// transition is missed; a transition landing between the two reaches the
// client twice, so delivery is at-least-once and consumers key on job id and
// status.
func (s *Server) streamJobs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	updates, unsubscribe := s.scheduler.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Replay the current snapshot so late subscribers start consistent.
	for _, job := range s.scheduler.Snapshot() {
		if err := writeEvent(w, job); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case job, open := <-updates:
			if !open {
				return
			}
			if err := writeEvent(w, job); err != nil {
				s.logger.Debug("stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, job core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: job\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
