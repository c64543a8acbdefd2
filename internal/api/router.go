package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/Job-Sync/internal/db"
	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/metrics"
	"github.com/mtr002/Job-Sync/internal/nats"
	"github.com/mtr002/Job-Sync/internal/websocket"
)

const (
	jobsPrefix       = "/api/v1/jobs/"
	defaultListLimit = 50
	maxListLimit     = 200
)

// SubmissionPublisher announces accepted jobs, e.g. over NATS.
type SubmissionPublisher interface {
	PublishJobSubmission(msg *nats.JobSubmissionMessage) error
}

type ctxKey string

const correlationIDKey ctxKey = "correlation_id"

func AddRoutes(
	mux *http.ServeMux,
	store interfaces.JobStore,
	hub *websocket.Hub,
	publisher SubmissionPublisher,
	validate *validator.Validate,
) {
	mux.HandleFunc(jobsPrefix, correlationMiddleware(handleJobs(store, hub, publisher, validate)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/health/ready", HandleReadiness(store))
	mux.HandleFunc("/health/live", HandleLiveness)
}

func correlationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next(w, r.WithContext(ctx))
	}
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// handleJobs dispatches everything below /api/v1/jobs/.
func handleJobs(store interfaces.JobStore, hub *websocket.Hub, publisher SubmissionPublisher, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := getCorrelationID(r.Context())
		log := logger.WithCorrelationID(correlationID)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Received request")

		path := strings.TrimPrefix(r.URL.Path, jobsPrefix)
		parts := strings.Split(path, "/")

		switch {
		case path == "":
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handleListJobs(w, r, store, correlationID)

		case path == "submit":
			if r.Method != http.MethodPost {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handleSubmitJob(w, r, store, hub, publisher, validate, correlationID)

		case path == "system/health":
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handleSystemHealth(w, store, hub)

		case len(parts) == 2 && parts[0] == "ws" && parts[1] != "":
			websocket.HandleWebSocket(hub, w, r, parts[1])

		case len(parts) == 1:
			if r.Method != http.MethodDelete {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handleCancelJob(w, parts[0], store, hub, correlationID)

		case len(parts) == 2 && parts[0] != "" && (parts[1] == "status" || parts[1] == "result"):
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if parts[1] == "status" {
				handleGetStatus(w, parts[0], store)
			} else {
				handleGetResult(w, parts[0], store)
			}

		default:
			writeError(w, http.StatusNotFound, "Not found")
		}
	}
}

func handleSubmitJob(w http.ResponseWriter, r *http.Request, store interfaces.JobStore, hub *websocket.Hub, publisher SubmissionPublisher, validate *validator.Validate, correlationID string) {
	log := logger.WithCorrelationID(correlationID)

	var req interfaces.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid JSON request")
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		log.Warn().Err(err).Msg("Rejected job submission")
		writeError(w, http.StatusBadRequest, validationDetail(req, err))
		return
	}

	now := time.Now()
	job := &interfaces.Job{
		ID:        uuid.New().String(),
		Type:      req.JobType,
		Request:   req,
		Status:    interfaces.StatusPending,
		Message:   "Job queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateJob(job); err != nil {
		log.Error().Err(err).Msg("Failed to create job")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	metrics.JobsSubmittedTotal.Inc()

	estimated := estimatedTime(req)
	queuePosition := store.CountByStatus()[interfaces.StatusPending]

	if publisher != nil {
		msg := &nats.JobSubmissionMessage{
			JobID:         job.ID,
			Type:          string(job.Type),
			UserPlan:      req.UserPlan,
			EstimatedTime: estimated,
		}
		if err := publisher.PublishJobSubmission(msg); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to announce job submission")
		}
	}
	hub.SendJobUpdate(job)

	log.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Job submitted successfully")
	writeJSON(w, http.StatusOK, interfaces.SubmitResponse{
		Success:       true,
		JobID:         job.ID,
		Message:       "Job submitted successfully: " + string(job.Type),
		EstimatedTime: &estimated,
		QueuePosition: &queuePosition,
	})
}

func handleGetStatus(w http.ResponseWriter, jobID string, store interfaces.JobStore) {
	job, err := store.GetJob(jobID)
	if err != nil {
		writeStoreError(w, err, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.StatusPayload())
}

func handleGetResult(w http.ResponseWriter, jobID string, store interfaces.JobStore) {
	job, err := store.GetJob(jobID)
	if err != nil {
		writeStoreError(w, err, "Job result not found")
		return
	}
	payload, ok := job.ResultPayload()
	if !ok {
		writeError(w, http.StatusNotFound, "Job result not found")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func handleCancelJob(w http.ResponseWriter, jobID string, store interfaces.JobStore, hub *websocket.Hub, correlationID string) {
	log := logger.WithCorrelationID(correlationID)

	job, err := store.CancelJob(jobID)
	switch {
	case errors.Is(err, db.ErrJobNotCancellable):
		writeError(w, http.StatusBadRequest, "Job cannot be cancelled in its current state")
		return
	case err != nil:
		writeStoreError(w, err, "Job not found")
		return
	}

	metrics.JobsCancelledTotal.Inc()
	hub.SendJobUpdate(job)
	log.Info().Str("job_id", jobID).Msg("Job cancelled")
	writeJSON(w, http.StatusOK, interfaces.CancelPayload{Success: true, Message: "Job cancelled successfully"})
}

func handleListJobs(w http.ResponseWriter, r *http.Request, store interfaces.JobStore, correlationID string) {
	log := logger.WithCorrelationID(correlationID)

	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}
	statusFilter := interfaces.JobStatus(r.URL.Query().Get("status"))

	page, total, err := store.ListJobs(limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := interfaces.ListPayload{
		Jobs:       make([]interfaces.StatusPayload, 0, len(page)),
		TotalCount: total,
	}
	for _, job := range page {
		if statusFilter != "" && job.Status != statusFilter {
			continue
		}
		switch {
		case job.Status.IsActive():
			resp.ActiveCount++
		case job.Status == interfaces.StatusCompleted:
			resp.CompletedCount++
		case job.Status == interfaces.StatusFailed:
			resp.FailedCount++
		}
		resp.Jobs = append(resp.Jobs, job.StatusPayload())
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, db.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// estimatedTime is the expected run time in seconds; paid plans run faster.
func estimatedTime(req interfaces.SubmitRequest) int {
	secs := 60
	switch req.JobType {
	case interfaces.JobTypeCompile:
		secs = 30
	case interfaces.JobTypeOptimize:
		secs = 60
	case interfaces.JobTypeCombined:
		secs = 90
	}
	if req.UserPlan == "pro" || req.UserPlan == "byok" {
		secs = secs * 7 / 10
	}
	return secs
}

func validationDetail(req interfaces.SubmitRequest, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	switch verrs[0].Field() {
	case "JobType":
		return fmt.Sprintf("Unsupported job type: %s", req.JobType)
	case "LatexContent":
		if req.JobType == interfaces.JobTypeCompile {
			return "LaTeX content is required for compilation jobs"
		}
		return "LaTeX content is required"
	case "JobDescription":
		if req.JobType == interfaces.JobTypeCombined {
			return "LaTeX content and job description are required for combined jobs"
		}
		return "LaTeX content and job description are required for optimization jobs"
	case "OptimizationLevel":
		return fmt.Sprintf("Unsupported optimization level: %s", req.OptimizationLevel)
	default:
		return verrs[0].Error()
	}
}
