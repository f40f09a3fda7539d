package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/prospectly/server/pkg/jobs"
	"github.com/prospectly/server/pkg/types"
)

type submitJobRequest struct {
	Provider  string                   `json:"provider"`
	Operation types.Operation          `json:"operation"`
	Records   []map[string]interface{} `json:"records"`
	Options   types.RequestOptions     `json:"options"`
}

// jobView is a job row plus its reconciled display status. Get responses
// also carry the decoded per-record results and the job's log entries.
type jobView struct {
	*types.Job
	DisplayStatus string              `json:"display_status"`
	Logs          []types.JobLog      `json:"logs,omitempty"`
	Results       []jobs.RecordResult `json:"results,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := s.svc.Submitter.Submit(r.Context(), tenantFrom(r),
		req.Provider, req.Operation, req.Records, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobView{Job: job, DisplayStatus: string(job.Status)})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.svc.JobStore.List(r.Context(), tenantFrom(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]jobView, 0, len(list))
	for _, job := range list {
		views = append(views, jobView{Job: job, DisplayStatus: s.displayStatus(r, job)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.JobStore.Get(r.Context(), tenantFrom(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}

	view := jobView{Job: job, DisplayStatus: s.displayStatus(r, job)}
	if len(job.Output) > 0 {
		if err := json.Unmarshal(job.Output, &view.Results); err != nil {
			s.logger.Warn("job output decode failed", "job_id", job.ID, "error", err)
		}
	}
	logs, err := s.svc.JobStore.Logs(r.Context(), job.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	view.Logs = logs
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.svc.JobStore.RequestCancel(r.Context(), tenantFrom(r), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

// displayStatus folds the queue state into what the caller sees. Queue lookup
// failures fall back to the stored status; the job row stays authoritative.
func (s *Server) displayStatus(r *http.Request, job *types.Job) string {
	state, err := s.svc.Queue.Lookup(r.Context(), job.ID)
	if err != nil {
		s.logger.Warn("queue lookup failed", "job_id", job.ID, "error", err)
		return string(job.Status)
	}
	return jobs.DisplayStatus(job, state)
}
