package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/cardio.report/internal/httputil"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/security"
	"github.com/banshee-data/cardio.report/internal/stream"
)

// RecordingRequest starts or stops a recording. Name is a file name under
// the server's recording directory. FS defaults to the stream's rate.
type RecordingRequest struct {
	Action string  `json:"action"`
	Stream string  `json:"stream,omitempty"`
	Name   string  `json:"name,omitempty"`
	FS     float64 `json:"fs,omitempty"`
}

// RecordingStatus describes the recording sub-state.
type RecordingStatus struct {
	State  stream.RecordingState `json:"state"`
	Stream string                `json:"stream,omitempty"`
	Path   string                `json:"path,omitempty"`
	Error  string                `json:"error,omitempty"`
	Seq    uint64                `json:"seq,omitempty"`
}

func (s *Server) showRecording(w http.ResponseWriter, r *http.Request) {
	u := s.src.Recording()
	status := RecordingStatus{
		State:  s.cmd.Recording(),
		Stream: u.Stream,
		Path:   u.Path,
	}
	if u.Err != nil {
		status.Error = u.Err.Error()
	}
	httputil.WriteJSONOK(w, status)
}

func (s *Server) controlRecording(w http.ResponseWriter, r *http.Request) {
	var req RecordingRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	var cmd stream.Command
	var path string
	switch req.Action {
	case "start":
		if s.opts.RecordingDir == "" {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Recording disabled")
			return
		}
		p, err := security.RecordingPath(s.opts.RecordingDir, req.Name)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("Invalid recording name: %v", err))
			return
		}
		fs := req.FS
		if fs == 0 && req.Stream != "" {
			if snap, ok := s.src.Snapshot(req.Stream); ok {
				fs = snap.FS
			}
		}
		if err := physio.ValidateFS(fs); err != nil {
			httputil.BadRequest(w, "Sampling rate unknown; pass 'fs' or a live 'stream'")
			return
		}
		path = p
		cmd = stream.StartRecording{Stream: req.Stream, Path: p, FS: fs}
	case "stop":
		cmd = stream.StopRecording{}
	default:
		httputil.BadRequest(w, fmt.Sprintf("Unknown action %q, want start or stop", req.Action))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SubmitTimeout)
	defer cancel()
	seq, err := s.cmd.Submit(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrQueueFull), errors.Is(err, physio.ErrChannelClosed),
			errors.Is(err, context.DeadlineExceeded):
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("Router unavailable: %v", err))
		default:
			httputil.InternalServerError(w, fmt.Sprintf("Failed to submit command: %v", err))
		}
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, RecordingStatus{
		State:  s.cmd.Recording(),
		Stream: req.Stream,
		Path:   path,
		Seq:    seq,
	})
}

type tabRequest struct {
	Index int `json:"index"`
}

func (s *Server) showTab(w http.ResponseWriter, r *http.Request) {
	idx, id, ok := s.src.ActiveTab()
	if !ok {
		httputil.NotFound(w, "No tabs configured")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"index": idx, "stream": id})
}

func (s *Server) activateTab(w http.ResponseWriter, r *http.Request) {
	var req tabRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := s.src.ActivateTab(req.Index); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.showTab(w, r)
}
