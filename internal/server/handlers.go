package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"narci/internal/binarycache"
	"narci/internal/core"
	"narci/internal/metrics"
	"narci/internal/narinfo"
)

const maxEventBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if wf := s.cfg.Workflows.Get(); wf != nil {
		resp["workflow"] = wf.Name
	}

	status := http.StatusOK
	for name, check := range s.cfg.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			resp[name] = err.Error()
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// POST /events {"event":"push","branch":"main"}
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev core.Event
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid event: missing event name")
		return
	}

	wf := s.cfg.Workflows.Get()
	matched := wf.Matches(ev)
	metrics.EventReceived(ev.Name, matched)
	if !matched {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(core.StatusSkipped)})
		return
	}

	id := core.NewRunID()
	s.runs.add(runRecord{
		ID:       id,
		Workflow: wf.Name,
		Event:    ev,
		Status:   core.StatusPending,
		Queued:   time.Now().UTC(),
	})
	s.start(id, wf, ev)

	w.Header().Set("Location", "/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(core.StatusPending)})
}

func (s *Server) start(id string, wf *core.Workflow, ev core.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runs.update(id, func(rec *runRecord) { rec.Status = core.StatusRunning })

		res, err := s.cfg.Runner.RunWithID(s.ctx, id, wf, ev)
		s.runs.update(id, func(rec *runRecord) {
			if err != nil {
				rec.Status = core.StatusFailure
				rec.Error = err.Error()
				return
			}
			rec.Status = res.Status
			rec.Result = res
		})
		if err != nil {
			s.logger.Error().Err(err).Str("run_id", id).Msg("run could not start")
		}
	}()
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.list())
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /runs/{id}/jobs/{job}/log
func (s *Server) handleJobLog(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok || rec.Result == nil {
		writeError(w, http.StatusNotFound, "run not found or still running")
		return
	}
	job, ok := rec.Result.Job(chi.URLParam(r, "job"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.cfg.Logs == nil || job.LogPath == "" {
		writeError(w, http.StatusNotFound, "no log stored for job")
		return
	}

	out, err := s.cfg.Logs.ReadLog(job.LogPath)
	if err != nil {
		s.logger.Error().Err(err).Str("path", job.LogPath).Msg("read job log")
		writeError(w, http.StatusInternalServerError, "cannot read log")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger disabled")
		return
	}
	if err := s.cfg.Ledger.VerifyChain(s.cfg.LedgerKeys...); err != nil {
		s.logger.Error().Err(err).Msg("ledger verification failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "tampered",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "blocks": s.cfg.Ledger.NextIndex()})
}

// GET /narinfo/{hash}; Accept: text/x-nix-narinfo returns the wire format.
func (s *Server) handleNarInfo(w http.ResponseWriter, r *http.Request) {
	if s.cfg.NarInfo == nil {
		writeError(w, http.StatusServiceUnavailable, "binary cache disabled")
		return
	}

	ni, err := s.cfg.NarInfo.NarInfo(r.Context(), chi.URLParam(r, "hash"))
	switch {
	case err == nil:
	case errors.Is(err, narinfo.ErrInvalidStorePath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, binarycache.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		s.logger.Warn().Err(err).Msg("narinfo lookup failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/x-nix-narinfo") {
		w.Header().Set("Content-Type", "text/x-nix-narinfo")
		_, _ = ni.WriteTo(w)
		return
	}
	writeJSON(w, http.StatusOK, ni)
}
