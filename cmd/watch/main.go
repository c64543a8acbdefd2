package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/Job-Sync/internal/client"
	"github.com/mtr002/Job-Sync/internal/config"
	"github.com/mtr002/Job-Sync/internal/connection"
	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/jobs"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/nats"
)

type options struct {
	jobID     string
	jobType   string
	latexFile string
	descFile  string
	level     string
	plan      string
	list      bool
	cancel    bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.jobID, "job", "", "watch an existing job id instead of submitting")
	flag.StringVar(&o.jobType, "type", string(interfaces.JobTypeCompile), "job type to submit")
	flag.StringVar(&o.latexFile, "latex", "", "path to the LaTeX source to submit")
	flag.StringVar(&o.descFile, "description", "", "path to the job description for optimization jobs")
	flag.StringVar(&o.level, "level", "", "optimization level: conservative, balanced or aggressive")
	flag.StringVar(&o.plan, "plan", "", "user plan sent with the submission")
	flag.BoolVar(&o.list, "list", false, "print the job listing and system health, then exit")
	flag.BoolVar(&o.cancel, "cancel", false, "cancel the watched job")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	logger.Init("job-sync-watch")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options) error {
	c, err := client.NewClient(cfg.Client.APIURL, client.WithRateLimit(cfg.Client.RateLimit, cfg.Client.RateBurst))
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	if opts.list {
		m := jobs.NewManager(c, nil, jobs.ManagerConfig{})
		defer m.Close()
		return printListing(ctx, m)
	}

	conn := connection.NewManager(connection.Config{
		URL:               cfg.Client.WSURL,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
	})
	if err := conn.Connect(ctx); err != nil {
		logger.Logger.Warn().Err(err).Msg("Push channel unavailable, polling until it reconnects")
	}
	defer conn.Disconnect()

	m := jobs.NewManager(c, conn, jobs.ManagerConfig{
		ListInterval:   cfg.Client.ListInterval,
		HealthInterval: cfg.Client.HealthInterval,
		PollInterval:   cfg.Client.PollInterval,
	})
	defer m.Close()

	var publisher *nats.Client
	if cfg.UseNATS {
		publisher, err = nats.NewClient(cfg.NATSURL)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("NATS unavailable, completions will not be published")
		} else {
			defer publisher.Close()
		}
	}

	jobID := opts.jobID
	if jobID == "" {
		req, err := buildRequest(opts)
		if err != nil {
			return err
		}
		jobID, err = m.Submit(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("submitted %s (%s)\n", jobID, req.JobType)
	}

	var tracked atomic.Pointer[jobs.Synchronizer]
	outcome := make(chan interfaces.JobResult, 1)
	finish := func(res interfaces.JobResult) {
		if publisher != nil {
			status := interfaces.StatusFailed
			if res.Success {
				status = interfaces.StatusCompleted
			} else if s := tracked.Load(); s != nil {
				status = s.Snapshot().Status
			}
			if err := publisher.PublishJobCompletion(status, res); err != nil {
				logger.WithJobID(res.JobID).Warn().Err(err).Msg("Failed to publish completion")
			}
		}
		outcome <- res
	}
	s, err := m.Track(ctx, jobID, jobs.SyncOptions{
		OnComplete: finish,
		OnFailure:  finish,
	})
	if err != nil {
		return err
	}
	tracked.Store(s)

	if opts.cancel {
		cancelled, err := s.Cancel(ctx)
		if err != nil {
			return err
		}
		if !cancelled {
			fmt.Println("job already finished, nothing to cancel")
		}
	}

	changes := s.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			printView(v)
		case res := <-outcome:
			return report(res)
		}
	}
}

func buildRequest(opts options) (interfaces.SubmitRequest, error) {
	if opts.latexFile == "" {
		return interfaces.SubmitRequest{}, errors.New("-latex is required when submitting a job")
	}
	latex, err := os.ReadFile(opts.latexFile)
	if err != nil {
		return interfaces.SubmitRequest{}, fmt.Errorf("failed to read LaTeX source: %w", err)
	}

	req := interfaces.SubmitRequest{
		JobType:           interfaces.JobType(opts.jobType),
		LatexContent:      string(latex),
		OptimizationLevel: opts.level,
		UserPlan:          opts.plan,
	}
	if opts.descFile != "" {
		desc, err := os.ReadFile(opts.descFile)
		if err != nil {
			return interfaces.SubmitRequest{}, fmt.Errorf("failed to read job description: %w", err)
		}
		req.JobDescription = string(desc)
	}
	return req, nil
}

func printView(v jobs.StatusView) {
	if v.Err != nil {
		fmt.Printf("%s  %-10s %3d%%  (error: %v)\n", v.JobID, v.Status, v.Progress, v.Err)
		return
	}
	fmt.Printf("%s  %-10s %3d%%  %s\n", v.JobID, v.Status, v.Progress, v.Message)
}

func report(res interfaces.JobResult) error {
	if !res.Success {
		return fmt.Errorf("job %s did not succeed: %s", res.JobID, res.Error)
	}
	fmt.Printf("job %s completed at %s\n", res.JobID, res.CompletedAt.Format(time.RFC3339))
	if len(res.Result) > 0 {
		fmt.Println(string(res.Result))
	}
	return nil
}

func printListing(ctx context.Context, m *jobs.Manager) error {
	if err := m.Refresh(ctx); err != nil {
		return err
	}

	if h, ok := m.Health(); ok {
		fmt.Printf("backend %s: %d active jobs, %d connections, %d subscriptions\n",
			h.Status, h.ActiveJobsCount, h.ConnectionCount, h.SubscriptionCount)
	}

	l := m.Listing()
	fmt.Printf("%d jobs (%d active, %d completed, %d failed)\n",
		l.TotalCount, l.ActiveCount, l.CompletedCount, l.FailedCount)
	for _, j := range l.All {
		progress := "-"
		if j.Progress != nil {
			progress = fmt.Sprintf("%d%%", *j.Progress)
		}
		fmt.Printf("%s  %-10s %4s  %s\n", j.JobID, j.Status, progress, j.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Logger.Error().Err(err).Msg("Metrics server stopped")
	}
}
