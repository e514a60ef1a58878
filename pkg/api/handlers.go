package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mentat25/Metrix/pkg/ingest"
	"github.com/mentat25/Metrix/pkg/lifecycle"
	"github.com/mentat25/Metrix/pkg/run"
)

type errorResponse struct {
	Error string `json:"error"`
}

// pollRequest is the body of the poll and finish endpoints.
type pollRequest struct {
	RunDirectory string `json:"run_directory"`
	State        string `json:"state,omitempty"`
}

type pollResponse struct {
	Summary *run.Summary      `json:"summary"`
	Outcome ingest.Outcome    `json:"outcome"`
	Events  []lifecycle.Event `json:"events,omitempty"`
	Issues  []string          `json:"issues,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps domain errors to status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, run.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, run.ErrInvalidRunState):
		status = http.StatusBadRequest
	case errors.Is(err, run.ErrDuplicateRunID):
		status = http.StatusConflict
	case errors.Is(err, run.ErrPersistence):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
	}

	writeJSON(w, status, errorResponse{err.Error()})
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns lists summaries, optionally filtered by ?state= or
// searched by ?q= on the run id.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var (
		summaries []run.Summary
		err       error
	)

	query := r.URL.Query()

	switch {
	case query.Get("state") != "":
		state, perr := run.ParseState(query.Get("state"))
		if perr != nil {
			s.writeError(w, perr)

			return
		}

		summaries, err = s.queries.ListByState(r.Context(), state)
	case query.Get("q") != "":
		summaries, err = s.queries.Search(r.Context(), query.Get("q"))
	default:
		summaries, err = s.queries.ListAll(r.Context())
	}

	if err != nil {
		s.writeError(w, err)

		return
	}

	if summaries == nil {
		summaries = []run.Summary{}
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handleGetRun returns one summary by run id.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.queries.GetByRunID(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleLookupRun quick-loads the summary of ?dir= without touching the
// run directory.
func (s *server) handleLookupRun(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"dir is required"})

		return
	}

	res, err := s.poller.Poll(r.Context(), ingest.Request{RunDirectory: dir, QuickLoad: true})
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, res.Summary)
}

// handlePollRun polls one run immediately.
func (s *server) handlePollRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePollRequest(w, r)
	if !ok {
		return
	}

	state := run.State(req.State)
	if state == run.StateFinished {
		writeJSON(w, http.StatusBadRequest, errorResponse{"use the finish endpoint to finish a run"})

		return
	}

	res, err := s.poller.Poll(r.Context(), ingest.Request{RunDirectory: req.RunDirectory, Proposed: state})
	s.writeResult(w, res, err)
}

// handleFinishRun finishes a run. It also clears HANG.
func (s *server) handleFinishRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePollRequest(w, r)
	if !ok {
		return
	}

	res, err := s.poller.Finish(r.Context(), req.RunDirectory)
	s.writeResult(w, res, err)
}

func (s *server) writeResult(w http.ResponseWriter, res *ingest.Result, err error) {
	if err != nil {
		s.writeError(w, err)

		return
	}

	resp := pollResponse{
		Summary: res.Summary,
		Outcome: res.Outcome,
		Events:  res.Events,
	}

	for _, issue := range res.Issues {
		resp.Issues = append(resp.Issues, issue.Error())
	}

	writeJSON(w, http.StatusOK, resp)
}

func decodePollRequest(w http.ResponseWriter, r *http.Request) (*pollRequest, bool) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

		return nil, false
	}

	if req.RunDirectory == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"run_directory is required"})

		return nil, false
	}

	return &req, true
}
