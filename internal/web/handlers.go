package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/rollload/internal/core"
	"github.com/go-chi/chi/v5"
)

const (
	healthTimeout      = 2 * time.Second
	maxRunRequestBytes = 64 << 10
)

// handleHealth pings the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type layoutSummary struct {
	FileType    string `json:"fileType"`
	Table       string `json:"table"`
	Description string `json:"description,omitempty"`
	Columns     int    `json:"columns"`
	Width       int    `json:"width"`
}

type catalogResponse struct {
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version,omitempty"`
	TaxYear     int             `json:"taxYear,omitempty"`
	FilePrefix  string          `json:"filePrefix"`
	Encoding    string          `json:"encoding,omitempty"`
	Layouts     []layoutSummary `json:"layouts"`
}

// handleListLayouts summarizes the catalog in load order.
func (s *Server) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	cat := s.service.Catalog()
	resp := catalogResponse{
		Description: cat.Description,
		Version:     cat.Version,
		TaxYear:     cat.TaxYear,
		FilePrefix:  cat.FilePrefix,
		Encoding:    cat.Encoding,
		Layouts:     make([]layoutSummary, 0, len(cat.Files)),
	}
	for _, ft := range core.OrderFileTypes(cat.FileTypes()) {
		spec, _ := cat.Layout(ft)
		resp.Layouts = append(resp.Layouts, layoutSummary{
			FileType:    spec.FileType,
			Table:       spec.Table,
			Description: spec.Description,
			Columns:     len(spec.ActiveColumns()),
			Width:       spec.TotalWidth(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetLayout returns one layout with its columns.
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	ft := strings.ToUpper(chi.URLParam(r, "fileType"))
	spec, ok := s.service.Catalog().Layout(ft)
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: %s", core.ErrUnknownFileType, ft), 0)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// handleListFiles reports which export files are present in the source.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.AvailableFiles(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleTableCounts returns the row count of every destination table.
func (s *Server) handleTableCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tables": s.service.Verify(r.Context())})
}

type runsResponse struct {
	Active   core.RunLimiterStatus `json:"active"`
	Schedule core.ScheduleStatus   `json:"schedule"`
	Runs     []core.Run            `json:"runs"`
}

// handleListRuns lists recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.service.Runs()
	if runs == nil {
		runs = []core.Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{
		Active:   s.service.RunStatus(),
		Schedule: s.service.Schedule(),
		Runs:     runs,
	})
}

// handleGetRun returns one run with its per-file results.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Run(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// startRunRequest overrides the configured run defaults. Every field is optional.
type startRunRequest struct {
	FileTypes  []string `json:"fileTypes"`
	Truncate   *bool    `json:"truncate"`
	MaxRecords *int     `json:"maxRecords"`
}

type startRunResponse struct {
	RunID string `json:"runId"`
	URL   string `json:"url"`
}

// handleStartRun starts an asynchronous load run.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	opts, err := s.runOptions(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	id, err := s.service.StartRun(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	url := "/api/runs/" + id
	w.Header().Set("Location", url)
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: id, URL: url})
}

// runOptions merges the request body over the configured defaults.
func (s *Server) runOptions(w http.ResponseWriter, r *http.Request) (core.LoadOptions, error) {
	opts := core.LoadOptions{
		FileTypes:  s.cfg.Load.FileTypes,
		Truncate:   s.cfg.Load.Truncate,
		MaxRecords: s.cfg.Load.MaxRecords,
		Trigger:    core.TriggerAPI,
	}

	var req startRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRunRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return opts, fmt.Errorf("%w: decode body: %v", core.ErrInvalidOptions, err)
	}

	if len(req.FileTypes) > 0 {
		cat := s.service.Catalog()
		opts.FileTypes = make([]string, 0, len(req.FileTypes))
		for _, ft := range req.FileTypes {
			ft = strings.ToUpper(strings.TrimSpace(ft))
			if _, ok := cat.Layout(ft); !ok {
				return opts, fmt.Errorf("%w: unknown file type %q", core.ErrInvalidOptions, ft)
			}
			opts.FileTypes = append(opts.FileTypes, ft)
		}
	}
	if req.Truncate != nil {
		opts.Truncate = *req.Truncate
	}
	if req.MaxRecords != nil {
		if *req.MaxRecords < 0 {
			return opts, fmt.Errorf("%w: maxRecords must be non-negative", core.ErrInvalidOptions)
		}
		opts.MaxRecords = *req.MaxRecords
	}
	return opts, nil
}
