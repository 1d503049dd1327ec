package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
	"github.com/Ning0612/sftparchive/internal/metrics"
	"github.com/Ning0612/sftparchive/internal/scheduler"
	"github.com/Ning0612/sftparchive/internal/state"
)

// DaemonService runs backups on a schedule
type DaemonService struct {
	mu            sync.RWMutex
	backup        *BackupService
	history       *state.Manager
	scheduler     scheduler.Scheduler
	metricsServer *http.Server
}

// DaemonStatus represents the current daemon status
type DaemonStatus struct {
	Running        bool
	SchedulerStats *scheduler.Status
	LastRun        *domain.RunReport
	MetricsAddr    string
}

// NewDaemonService creates a daemon around a backup service.
// history may be nil; when set it backs DaemonStatus.LastRun.
func NewDaemonService(backup *BackupService, history *state.Manager) (*DaemonService, error) {
	if backup == nil {
		return nil, fmt.Errorf("backup service cannot be nil")
	}

	return &DaemonService{
		backup:  backup,
		history: history,
	}, nil
}

// Start starts the scheduler in the background and, when metricsAddr is
// set, serves /metrics on it
func (d *DaemonService) Start(ctx context.Context, schedule scheduler.Config, metricsAddr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler != nil {
		return fmt.Errorf("daemon is already running")
	}

	sched, err := scheduler.New(schedule, &backupRunner{backup: d.backup})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if metricsAddr != "" {
		srv, err := startMetricsServer(metricsAddr)
		if err != nil {
			return err
		}
		d.metricsServer = srv
	}

	if err := sched.Start(ctx); err != nil {
		d.shutdownMetrics()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	d.scheduler = sched

	logger.Get().Info("daemon started",
		"interval", schedule.Interval,
		"cron", schedule.Cron,
		"next_run", sched.Status().NextRunTime.Format(time.RFC3339))

	return nil
}

// Stop stops the scheduler, waiting for an in-flight run to finish
func (d *DaemonService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler == nil {
		return fmt.Errorf("daemon is not running")
	}

	// A cancelled context already stopped the loop
	if err := d.scheduler.Stop(); err != nil && d.scheduler.Status().Running {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	d.scheduler = nil
	d.shutdownMetrics()
	return nil
}

// Status returns the current daemon status
func (d *DaemonService) Status() *DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := &DaemonStatus{
		Running: d.scheduler != nil,
	}

	if d.scheduler != nil {
		status.SchedulerStats = d.scheduler.Status()
	}
	if d.metricsServer != nil {
		status.MetricsAddr = d.metricsServer.Addr
	}

	if d.history != nil {
		history, err := d.history.GetHistory(1)
		if err == nil && len(history) > 0 {
			status.LastRun = &history[0]
		}
	}

	return status
}

// Close stops the daemon if it is running
func (d *DaemonService) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error

	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil && d.scheduler.Status().Running {
			lastErr = err
		}
		d.scheduler = nil
	}
	d.shutdownMetrics()

	return lastErr
}

func (d *DaemonService) shutdownMetrics() {
	if d.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsServer.Shutdown(ctx); err != nil {
		logger.Get().Warn("failed to stop metrics server", "error", err)
	}
	d.metricsServer = nil
}

func startMetricsServer(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Error("metrics server stopped", "error", err)
		}
	}()

	logger.Get().Info("serving metrics", "addr", srv.Addr)
	return srv, nil
}

// backupRunner implements scheduler.Runner
type backupRunner struct {
	backup *BackupService
}

// RunOnce runs one backup; the outcome is already logged and recorded by the service
func (r *backupRunner) RunOnce(ctx context.Context) error {
	_, err := r.backup.Run(ctx)
	return err
}
