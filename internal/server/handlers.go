package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"

	"odatacheck/internal/config"
	"odatacheck/internal/rules"
	"odatacheck/internal/store"
)

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	Services   []string `json:"services"`
	Headers    []string `json:"headers,omitempty"`
	MaxVersion string   `json:"max_version,omitempty"`
	Rules      string   `json:"rules,omitempty"`
	Levels     []string `json:"levels,omitempty"`
	Include    []string `json:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
	Set        []string `json:"set,omitempty"`
	Evidence   string   `json:"evidence,omitempty"`
	// Timeout is a Go duration string, e.g. "2m".
	Timeout string `json:"timeout,omitempty"`
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ResultsResponse struct {
	JobID   string         `json:"job_id"`
	Status  string         `json:"status"`
	Results []rules.Result `json:"results"`
}

type RuleInfo struct {
	rules.Descriptor
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

const maxRequestBody = 1 << 20

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", fmt.Sprintf("decode job request: %v", err))
		return
	}

	cfg, err := s.jobConfig(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_job", err.Error())
		return
	}
	// Catalog rules only exist in the engine's per-run registry.
	if _, err := s.registry.Resolve(cfg.Rules.Selector); err != nil && len(cfg.Rules.Catalogs) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_rules", err.Error())
		return
	}

	job, err := s.startJob(r.Context(), cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create job")
		writeError(w, r, http.StatusInternalServerError, "store_error", "failed to create job")
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	results, err := s.store.ListResults(r.Context(), job.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to list results")
		writeError(w, r, http.StatusInternalServerError, "store_error", "failed to list results")
		return
	}
	if results == nil {
		results = []rules.Result{}
	}
	writeJSON(w, http.StatusOK, ResultsResponse{JobID: job.ID, Status: job.Status, Results: results})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*store.Job, bool) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "job_not_found", fmt.Sprintf("job %s not found", id))
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("failed to get job")
		writeError(w, r, http.StatusInternalServerError, "store_error", "failed to get job")
		return nil, false
	}
	return job, true
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	out := make([]RuleInfo, 0, len(list))
	for _, rule := range list {
		out = append(out, RuleInfo{
			Descriptor:  rule.Descriptor(),
			Title:       rule.Title(),
			Description: rule.Description(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{"status": "ok"}
	status := http.StatusOK
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// jobConfig overlays a request onto a copy of the server's base config.
func (s *Server) jobConfig(req JobRequest) (*config.Config, error) {
	cfg := *s.base
	cfg.Targeting = config.Targeting{
		Services:   slices.Clone(req.Services),
		Headers:    slices.Clone(req.Headers),
		MaxVersion: s.base.Targeting.MaxVersion,
	}
	if req.MaxVersion != "" {
		cfg.Targeting.MaxVersion = req.MaxVersion
	}
	cfg.Rules = config.Rules{
		Selector: req.Rules,
		Levels:   slices.Clone(req.Levels),
		Include:  slices.Clone(req.Include),
		Exclude:  slices.Clone(req.Exclude),
		Set:      slices.Clone(req.Set),
		Catalogs: slices.Clone(s.base.Rules.Catalogs),
		Evidence: s.base.Rules.Evidence,
	}
	if req.Evidence != "" {
		cfg.Rules.Evidence = req.Evidence
	}
	// Jobs report through the store only.
	cfg.Output = config.Output{NoConsole: true, ConsoleFormat: s.base.Output.ConsoleFormat}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", req.Timeout, err)
		}
		cfg.Runtime.Timeout = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}
