package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/metrics"
)

// ErrJobCancelled is returned by a progress report once the job was
// cancelled; processors should stop and return it.
var ErrJobCancelled = errors.New("job cancelled")

// ReportFunc records progress (0..100) and a human readable message.
type ReportFunc func(progress int, message string) error

// JobProcessor defines the interface for processing different job types
type JobProcessor interface {
	Process(ctx context.Context, job *interfaces.Job, report ReportFunc) (json.RawMessage, error)
}

// Notifier receives every job state change, typically the websocket hub.
type Notifier interface {
	SendJobUpdate(job *interfaces.Job)
}

// Pool represents a worker pool that claims pending jobs from the store
type Pool struct {
	store        interfaces.JobStore
	notifier     Notifier
	processor    JobProcessor
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	workerCount  int
	pollInterval time.Duration // How often to poll for new jobs
}

// NewPool creates a new worker pool
func NewPool(store interfaces.JobStore, notifier Notifier, processor JobProcessor, workerCount int, pollInterval time.Duration) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		store:        store,
		notifier:     notifier,
		processor:    processor,
		workerCount:  workerCount,
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: pollInterval,
	}
}

// Start begins processing jobs with the specified number of workers
func (p *Pool) Start() {
	logger.Logger.Info().Int("worker_count", p.workerCount).Msg("Starting worker pool")
	metrics.ActiveWorkers.Set(float64(p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gracefully shuts down the worker pool
func (p *Pool) Stop() {
	logger.Logger.Info().Msg("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
	metrics.ActiveWorkers.Set(0)
	logger.Logger.Info().Msg("Worker pool stopped")
}

// worker is the main worker goroutine that polls the store for jobs
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger.Logger.Debug().Int("worker_id", id).Msg("Worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Logger.Debug().Int("worker_id", id).Msg("Worker shutting down")
			return
		case <-ticker.C:
			p.updatePending()
			job, err := p.store.GetPendingJob()
			if err != nil {
				logger.Logger.Error().Int("worker_id", id).Err(err).Msg("Error getting pending job")
				continue
			}

			if job != nil {
				p.processJob(id, job)
			}
		}
	}
}

func (p *Pool) updatePending() {
	metrics.PendingJobs.Set(float64(p.store.CountByStatus()[interfaces.StatusPending]))
}

// processJob runs one claimed job to a terminal state
func (p *Pool) processJob(workerID int, job *interfaces.Job) {
	startTime := time.Now()
	log := logger.WithJobID(job.ID)
	log.Info().
		Int("worker_id", workerID).
		Str("type", string(job.Type)).
		Msg("Processing job")

	job.Message = "Job started"
	if !p.save(job) {
		return
	}

	report := func(progress int, message string) error {
		job.Progress = interfaces.ClampProgress(progress)
		job.Message = message
		if !p.save(job) {
			return ErrJobCancelled
		}
		return nil
	}

	result, err := p.processor.Process(p.ctx, job, report)
	metrics.JobProcessingDuration.Observe(time.Since(startTime).Seconds())

	switch {
	case errors.Is(err, ErrJobCancelled):
		log.Info().Int("worker_id", workerID).Msg("Job cancelled while processing")
		return
	case p.ctx.Err() != nil:
		log.Warn().Int("worker_id", workerID).Msg("Worker stopped before job finished")
		return
	case err != nil:
		log.Error().Int("worker_id", workerID).Err(err).Msg("Job processing failed")
		job.Status = interfaces.StatusFailed
		job.Error = err.Error()
		job.Message = "Job failed"
		job.Result = failureResult(err)
		if p.save(job) {
			metrics.JobsFailedTotal.Inc()
		}
	default:
		job.Status = interfaces.StatusCompleted
		job.Progress = 100
		job.Message = "Job completed"
		job.Result = result
		if p.save(job) {
			metrics.JobsCompletedTotal.Inc()
			log.Info().Int("worker_id", workerID).Msg("Job completed")
		}
	}
}

// save writes job back and notifies subscribers. It reports false when
// the job was cancelled underneath the worker.
func (p *Pool) save(job *interfaces.Job) bool {
	wanted := job.Status
	if err := p.store.UpdateJob(job); err != nil {
		logger.WithJobID(job.ID).Error().Err(err).Msg("Failed to update job")
		return false
	}
	if job.Status == interfaces.StatusCancelled && wanted != interfaces.StatusCancelled {
		return false
	}
	if p.notifier != nil {
		p.notifier.SendJobUpdate(job)
	}
	return true
}

func failureResult(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	return data
}

// SimulatedProcessor stands in for the real compilation and optimization
// services. Each job type advances through a fixed list of stages.
type SimulatedProcessor struct {
	StepDelay time.Duration
}

var stages = map[interfaces.JobType][]string{
	interfaces.JobTypeCompile:  {"Preparing LaTeX sources", "Compiling LaTeX", "Generating PDF"},
	interfaces.JobTypeOptimize: {"Analyzing job description", "Optimizing resume", "Validating output"},
	interfaces.JobTypeCombined: {"Analyzing job description", "Optimizing resume", "Compiling LaTeX", "Generating PDF"},
	interfaces.JobTypeScore:    {"Extracting keywords", "Scoring resume"},
}

// Process implements JobProcessor interface
func (s *SimulatedProcessor) Process(ctx context.Context, job *interfaces.Job, report ReportFunc) (json.RawMessage, error) {
	steps, ok := stages[job.Type]
	if !ok {
		return nil, fmt.Errorf("unknown job type: %s", job.Type)
	}

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.StepDelay):
		}
		if err := report((i+1)*100/(len(steps)+1), step); err != nil {
			return nil, err
		}
	}

	if strings.Contains(job.Request.LatexContent, `\fail`) {
		return nil, fmt.Errorf("LaTeX compilation failed: undefined control sequence \\fail")
	}

	var result any
	switch job.Type {
	case interfaces.JobTypeCompile:
		result = map[string]any{"success": true, "pdf_url": "/files/" + job.ID + ".pdf", "page_count": 1}
	case interfaces.JobTypeOptimize:
		result = map[string]any{"success": true, "optimized_latex": job.Request.LatexContent, "optimization_level": level(job)}
	case interfaces.JobTypeCombined:
		result = map[string]any{"success": true, "optimized_latex": job.Request.LatexContent, "optimization_level": level(job), "pdf_url": "/files/" + job.ID + ".pdf"}
	case interfaces.JobTypeScore:
		result = map[string]any{"success": true, "score": atsScore(job.Request)}
	}
	return json.Marshal(result)
}

func level(job *interfaces.Job) string {
	if job.Request.OptimizationLevel == "" {
		return "balanced"
	}
	return job.Request.OptimizationLevel
}

// atsScore counts how many job description words appear in the resume.
func atsScore(req interfaces.SubmitRequest) int {
	words := strings.Fields(strings.ToLower(req.JobDescription))
	if len(words) == 0 {
		return 0
	}
	resume := strings.ToLower(req.LatexContent)
	hits := 0
	for _, w := range words {
		if strings.Contains(resume, w) {
			hits++
		}
	}
	return hits * 100 / len(words)
}
