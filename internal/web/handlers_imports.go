package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/JonMunkholm/stockimport/internal/jobs"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// maxJSONBody bounds the body of a JSON import request.
	maxJSONBody = 1 << 20

	// multipartMemory is how much of an upload is buffered in memory.
	multipartMemory = 32 << 20

	heartbeatInterval = 15 * time.Second
	healthTimeout     = 2 * time.Second
)

// importRequest is the JSON form of a new import. Unset fields keep the
// configured defaults.
type importRequest struct {
	SourcePath       string            `json:"source_path"`
	RequesterID      string            `json:"requester_id"`
	BatchSize        int               `json:"batch_size"`
	ColumnMapping    map[string]string `json:"column_mapping"`
	Transformers     map[string]string `json:"transformers"`
	UpdateExisting   *bool             `json:"update_existing"`
	UniqueKey        string            `json:"unique_key"`
	StrictTransforms *bool             `json:"strict_transforms"`
	Correlation      string            `json:"correlation"`
}

func (req importRequest) apply(job core.ImportJob) (core.ImportJob, error) {
	job.SourcePath = req.SourcePath
	if req.BatchSize != 0 {
		job.BatchSize = req.BatchSize
	}
	if req.ColumnMapping != nil {
		job.ColumnMapping = req.ColumnMapping
	}
	if req.Transformers != nil {
		job.Transformers = req.Transformers
	}
	if req.UpdateExisting != nil {
		job.UpdateExisting = *req.UpdateExisting
	}
	if req.StrictTransforms != nil {
		job.StrictTransforms = *req.StrictTransforms
	}
	if req.UniqueKey != "" {
		key, err := inventory.ParseUniqueKey(req.UniqueKey)
		if err != nil {
			return job, fmt.Errorf("%w: %w", core.ErrInvalidJob, err)
		}
		job.UniqueKey = key
	}
	if req.Correlation != "" {
		mode, err := core.ParseCorrelationMode(req.Correlation)
		if err != nil {
			return job, fmt.Errorf("%w: %w", core.ErrInvalidJob, err)
		}
		job.Correlation = mode
	}
	return job, nil
}

// importAccepted is returned when a run has been queued.
type importAccepted struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
}

// handleCreateImport starts an import. The body is either a JSON
// importRequest naming a file inside the allowed directories, or a
// multipart form with the CSV in "file" and an optional JSON "options" field.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	var (
		req importRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = s.receiveUpload(w, r)
	} else {
		err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req)
		if err != nil {
			err = fmt.Errorf("%w: decode request: %w", core.ErrInvalidJob, err)
		}
	}
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	job, err := req.apply(s.deps.Defaults)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	job.Actor = actorFromRequest(r, req.RequesterID)
	if err := job.Validate(); err != nil {
		respondError(w, r, err, 0)
		return
	}

	runID, err := s.deps.Manager.Start(r.Context(), job)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("import accepted",
		"run_id", runID,
		"path", job.SourcePath,
		"requester", job.Actor.RequesterID,
	)
	w.Header().Set("Location", "/api/imports/"+runID)
	respondJSON(w, r, http.StatusAccepted, importAccepted{
		RunID:     runID,
		StatusURL: "/api/imports/" + runID,
		EventsURL: "/api/imports/" + runID + "/events",
	})
}

// receiveUpload stores the posted file in the upload directory and returns
// the request options pointing at it. The original extension is kept so the
// security gate still sees it.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (importRequest, error) {
	var req importRequest

	dir := s.cfg.Import.UploadDir
	if dir == "" {
		return req, fmt.Errorf("%w: file uploads are disabled; pass source_path instead", core.ErrInvalidJob)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return req, &core.SecurityError{Reason: core.ReasonTooLarge, Detail: "upload exceeds the size limit"}
		}
		return req, fmt.Errorf("%w: invalid form: %w", core.ErrInvalidJob, err)
	}

	if opts := r.FormValue("options"); opts != "" {
		if err := json.Unmarshal([]byte(opts), &req); err != nil {
			return req, fmt.Errorf("%w: invalid options: %w", core.ErrInvalidJob, err)
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return req, fmt.Errorf("%w: no file provided", core.ErrInvalidJob)
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	dest := filepath.Join(dir, uuid.NewString()+ext)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return req, fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dest)
		return req, fmt.Errorf("store upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return req, fmt.Errorf("store upload: %w", err)
	}

	logging.FromContext(r.Context()).Info("upload stored", "filename", header.Filename, "path", dest, "size", header.Size)
	req.SourcePath = dest
	return req, nil
}

// handleListImports returns every tracked run, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, s.deps.Manager.List())
}

// handleGetImport returns the current state of one run.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Manager.Get(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	respondJSON(w, r, http.StatusOK, snap)
}

// handleCancelImport cancels a running import. The run rolls back.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.deps.Manager.Cancel(runID); err != nil {
		respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("import cancel requested", "run_id", runID)
	respondJSON(w, r, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

// handleEvents streams a run's progress via Server-Sent Events. The event
// id is the progress percentage; a reconnecting client sending Last-Event-ID
// (or ?lastEventId=) skips progress it has already seen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastID := lastEventID(r)

	events, unsubscribe, err := s.deps.Manager.Subscribe(runID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer unsubscribe()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Warn("streaming not supported", "error", err)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == core.EventProgress && ev.Progress <= lastID {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			rc.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// lastEventID returns the progress a reconnecting client has seen, or -1
// when it sent none or sent something that is not a number.
func lastEventID(r *http.Request) int {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("lastEventId")
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func writeEvent(w io.Writer, ev core.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Progress, ev.Type, data)
	return err
}

type healthResponse struct {
	Status   string             `json:"status"`
	Database string             `json:"database"`
	Imports  jobs.LimiterStatus `json:"imports"`
}

// handleHealth reports database reachability and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Imports: s.deps.Manager.Limiter().Status()}
	status := http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Error("health check: database unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, resp)
}
