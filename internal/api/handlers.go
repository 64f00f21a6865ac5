package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/store"
)

type submitRequest struct {
	UserID         string                 `json:"user_id"`
	BusinessID     string                 `json:"business_id"`
	AdditionalData map[string]interface{} `json:"additional_data"`
}

type submitResponse struct {
	VerificationID string `json:"verification_id"`
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
}

// The submit ack always reports PENDING; the row-level status
// vocabulary (queued, processing, ...) is served by /verify/status.
const submitAckStatus = "PENDING"

func (s *Server) handleSubmitIndividual(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	v, jobID, err := s.engine.SubmitIndividual(r.Context(), req.UserID, req.AdditionalData)
	if err != nil {
		slog.Error("individual submission failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue verification")
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		VerificationID: v.ID, JobID: jobID, Status: submitAckStatus,
	})
}

func (s *Server) handleSubmitBusiness(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if req.BusinessID == "" {
		writeError(w, http.StatusUnprocessableEntity, "business_id is required")
		return
	}

	v, jobID, err := s.engine.SubmitBusiness(r.Context(), req.BusinessID, req.AdditionalData)
	if err != nil {
		slog.Error("business submission failed", "business_id", req.BusinessID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue verification")
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		VerificationID: v.ID, JobID: jobID, Status: submitAckStatus,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["verification_id"]
	v, err := s.store.GetVerification(r.Context(), id)
	if err != nil {
		slog.Error("status lookup failed", "verification_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "verification not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleReport resolves a verification by verification_id, user_id, or
// business_id (first match wins, in that order) and renders its report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var v *core.Verification
	var err error
	switch {
	case q.Get("verification_id") != "":
		v, err = s.store.GetVerification(r.Context(), q.Get("verification_id"))
	case q.Get("user_id") != "":
		v, err = s.store.LatestByUser(r.Context(), q.Get("user_id"))
	case q.Get("business_id") != "":
		v, err = s.store.LatestByBusiness(r.Context(), q.Get("business_id"))
	default:
		writeError(w, http.StatusUnprocessableEntity,
			"one of verification_id, user_id, business_id is required")
		return
	}
	if err != nil {
		slog.Error("report lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "verification not found")
		return
	}

	report, err := s.buildReport(r.Context(), v, true)
	if err != nil {
		slog.Error("report build failed", "verification_id", v.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "report build failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleReportDetail returns the raw agent results including extras,
// for operator debugging.
func (s *Server) handleReportDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["verification_id"]
	v, err := s.store.GetVerification(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "verification not found")
		return
	}

	results, err := s.store.ListAgentResults(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "results lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verification":  v,
		"agent_results": results,
	})
}

func (s *Server) handleList(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := store.ListFilter{
			Kind:   kind,
			Status: core.VerificationStatus(q.Get("status")),
			Skip:   intQuery(q.Get("skip"), 0),
			Limit:  intQuery(q.Get("limit"), 50),
		}
		if f.Limit > 200 {
			f.Limit = 200
		}

		items, total, err := s.store.ListVerifications(r.Context(), f)
		if err != nil {
			slog.Error("list failed", "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if items == nil {
			items = []*core.Verification{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": items,
			"total": total,
			"skip":  f.Skip,
			"limit": f.Limit,
		})
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.jobs.JobStatus(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleJobCancel requests a best-effort abort. A job already picked
// up by a worker runs to completion; only queued jobs are skipped.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := s.jobs.Abort(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "abort failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "abort_requested"})
}

func (s *Server) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.jobs.QueueInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue info failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "redis": "ok"}
	healthy := true
	if err := s.store.Ping(r.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := s.jobs.Ping(r.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":         state,
		"checks":         checks,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"rate_limiter":   s.limiter.Stats(),
	})
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
