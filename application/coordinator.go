// Package application provides the application layer for orchestrating capture jobs.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"pagecap-go/application/job"
	"pagecap-go/core/command"
	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
	"pagecap-go/core/state"
	"pagecap-go/domain/capture"
	"pagecap-go/domain/preset"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

// ErrJobNotFound is returned when a command targets an unknown job.
var ErrJobNotFound = errors.New("job not found")

// DriverFactory creates one browser driver per job.
type DriverFactory func() (browser.Driver, error)

// EncoderFactory creates one encoder per video job.
type EncoderFactory func(format string) (encoder.Encoder, error)

// Coordinator runs capture jobs and tracks the ones in flight.
type Coordinator struct {
	// Jobs
	jobs   map[string]*job.Job
	jobsMu sync.RWMutex
	wg     sync.WaitGroup
	slots  *semaphore.Weighted

	// Dependencies
	eventBus       eventbus.EventBus
	presets        *preset.Registry
	history        *capture.Service
	driverFactory  DriverFactory
	encoderFactory EncoderFactory
	logger         *slog.Logger

	// Settings
	maxConcurrent int
	maxDuration   time.Duration
	settleDelay   time.Duration
	stopTimeout   time.Duration
	remote        bool

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
}

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	EventBus       eventbus.EventBus
	Presets        *preset.Registry
	History        *capture.Service
	DriverFactory  DriverFactory
	EncoderFactory EncoderFactory
	Logger         *slog.Logger

	// MaxConcurrent bounds the number of browsers running at once.
	MaxConcurrent int
	// MaxDuration caps video length; zero disables the cap.
	MaxDuration time.Duration
	SettleDelay time.Duration
	StopTimeout time.Duration
	// Remote marks drivers that attach to an external browser.
	Remote bool
}

// JobInfo is a snapshot of a job in flight.
type JobInfo struct {
	ID        string         `json:"id"`
	Mode      capture.Mode   `json:"mode"`
	URL       string         `json:"url"`
	State     state.JobState `json:"-"`
	StateName string         `json:"state"`
	StartedAt time.Time      `json:"startedAt,omitempty"`
}

// NewCoordinator creates a new capture coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.Presets == nil {
		cfg.Presets = preset.NewRegistry()
	}
	if cfg.DriverFactory == nil {
		factory := browser.NewFactory(nil, nil, cfg.Logger)
		cfg.DriverFactory = factory.NewDriver
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		jobs:           make(map[string]*job.Job),
		slots:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		eventBus:       cfg.EventBus,
		presets:        cfg.Presets,
		history:        cfg.History,
		driverFactory:  cfg.DriverFactory,
		encoderFactory: cfg.EncoderFactory,
		logger:         cfg.Logger,
		maxConcurrent:  cfg.MaxConcurrent,
		maxDuration:    cfg.MaxDuration,
		settleDelay:    cfg.SettleDelay,
		stopTimeout:    cfg.StopTimeout,
		remote:         cfg.Remote,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins the coordinator.
func (c *Coordinator) Start() {
	c.logger.Info("Coordinator started", "max_concurrent", c.maxConcurrent)
}

// Stop cancels all jobs and waits for them to release their browsers.
func (c *Coordinator) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.stopTimeout):
		c.logger.Warn("Coordinator stop timeout, some jobs may not have stopped cleanly")
	}

	c.logger.Info("Coordinator stopped")
}

// Dispatch sends a command to the appropriate handler.
// StartCapture runs in the background; its outcome is reported through events.
func (c *Coordinator) Dispatch(cmd command.Command) error {
	c.logger.Debug("Dispatching command", "command", cmd.CommandName())

	switch cmd := cmd.(type) {
	case *command.StartCapture:
		_, err := c.Submit(cmd.JobID(), cmd.Params)
		return err
	case *command.CancelCapture:
		return c.Cancel(cmd.JobID())
	case *command.CancelAllCaptures:
		c.CancelAll()
		return nil
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

// Presets returns the preset registry.
func (c *Coordinator) Presets() *preset.Registry {
	return c.presets
}

// History returns the capture history service, or nil when history is disabled.
func (c *Coordinator) History() *capture.Service {
	return c.history
}

// ResolveParams layers a preset and then the JSON overrides onto base.
// The preset is named by the "preset" key of overrides, falling back to base.Preset.
func (c *Coordinator) ResolveParams(base capture.Params, overrides []byte) (capture.Params, error) {
	p := base

	var named struct {
		Preset string `json:"preset"`
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &named); err != nil {
			return p, fmt.Errorf("decode params: %w", err)
		}
	}
	if named.Preset == "" {
		named.Preset = base.Preset
	}

	if named.Preset != "" {
		if err := c.presets.Resolve(named.Preset, &p); err != nil {
			return p, err
		}
		p.Preset = named.Preset
	}

	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p); err != nil {
			return p, fmt.Errorf("decode params: %w", err)
		}
	}
	return p, nil
}

// Prepare normalizes and validates params.
func (c *Coordinator) Prepare(p capture.Params) (capture.Params, error) {
	p.Normalize()
	if err := p.Validate(c.maxDuration); err != nil {
		return p, capture.NewOperationError(p.Mode, err)
	}
	return p, nil
}

// Execute runs one capture and waits for its artifact.
func (c *Coordinator) Execute(ctx context.Context, p capture.Params) (*capture.Artifact, error) {
	return c.ExecuteJob(ctx, "", p)
}

// ExecuteJob runs one capture under the given job ID; an empty ID gets a new one.
func (c *Coordinator) ExecuteJob(ctx context.Context, jobID string, p capture.Params) (*capture.Artifact, error) {
	p, err := c.Prepare(p)
	if err != nil {
		return nil, err
	}

	j, err := c.newJob(jobID, p)
	if err != nil {
		return nil, err
	}

	c.wg.Add(1)
	defer c.wg.Done()
	return c.run(ctx, j)
}

// Submit starts a capture in the background and returns its job ID.
func (c *Coordinator) Submit(jobID string, p capture.Params) (string, error) {
	p, err := c.Prepare(p)
	if err != nil {
		return "", err
	}

	j, err := c.newJob(jobID, p)
	if err != nil {
		return "", err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _ = c.run(c.ctx, j)
	}()
	return j.ID(), nil
}

// ExecuteBatch runs captures with at most MaxConcurrent in parallel and
// returns the artifacts in input order. The first failure cancels the rest
// and is returned as a *capture.OperationError for the failing item's mode.
func (c *Coordinator) ExecuteBatch(ctx context.Context, params []capture.Params) ([]*capture.Artifact, error) {
	results := make([]*capture.Artifact, len(params))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i := range params {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return capture.NewOperationError(modeOf(params[i]), err)
			}
			artifact, err := c.Execute(gctx, params[i])
			if err != nil {
				return capture.NewOperationError(modeOf(params[i]), err)
			}
			results[i] = artifact
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		mode := capture.ModeVideo
		for i, a := range results {
			if a == nil {
				mode = modeOf(params[i])
				break
			}
		}
		return nil, capture.NewOperationError(mode, err)
	}
	return results, nil
}

func modeOf(p capture.Params) capture.Mode {
	p.Normalize()
	return p.Mode
}

// Cancel cancels a job in flight.
func (c *Coordinator) Cancel(jobID string) error {
	j := c.GetJob(jobID)
	if j == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.Cancel()
	c.logger.Info("Job cancel requested", "job_id", jobID)
	return nil
}

// CancelAll cancels every job in flight.
func (c *Coordinator) CancelAll() {
	jobs := c.GetAllJobs()
	for _, j := range jobs {
		j.Cancel()
	}
	c.logger.Info("All jobs cancelled", "count", len(jobs))
}

// GetJob returns a job by ID.
func (c *Coordinator) GetJob(id string) *job.Job {
	c.jobsMu.RLock()
	defer c.jobsMu.RUnlock()
	return c.jobs[id]
}

// GetAllJobs returns all jobs in flight.
func (c *Coordinator) GetAllJobs() []*job.Job {
	c.jobsMu.RLock()
	defer c.jobsMu.RUnlock()

	jobs := make([]*job.Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

// Jobs returns snapshots of the jobs in flight, oldest first.
func (c *Coordinator) Jobs() []JobInfo {
	jobs := c.GetAllJobs()
	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		p := j.Params()
		s := j.State()
		infos = append(infos, JobInfo{
			ID:        j.ID(),
			Mode:      p.Mode,
			URL:       p.URL,
			State:     s,
			StateName: strings.ToLower(s.String()),
			StartedAt: j.StartedAt(),
		})
	}
	sort.Slice(infos, func(a, b int) bool {
		if infos[a].StartedAt.Equal(infos[b].StartedAt) {
			return infos[a].ID < infos[b].ID
		}
		return infos[a].StartedAt.Before(infos[b].StartedAt)
	})
	return infos
}

// JobCount returns the number of jobs in flight.
func (c *Coordinator) JobCount() int {
	c.jobsMu.RLock()
	defer c.jobsMu.RUnlock()
	return len(c.jobs)
}

// newJob creates the driver and encoder for p and registers the job.
func (c *Coordinator) newJob(jobID string, p capture.Params) (*job.Job, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}

	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()

	if _, exists := c.jobs[jobID]; exists {
		return nil, fmt.Errorf("job already exists: %s", jobID)
	}

	var enc encoder.Encoder
	if p.Mode == capture.ModeVideo {
		if c.encoderFactory == nil {
			return nil, capture.NewOperationError(p.Mode, fmt.Errorf("%w %q", encoder.ErrEncoderUnavailable, p.VideoFormat))
		}
		e, err := c.encoderFactory(p.VideoFormat)
		if err != nil {
			return nil, capture.NewOperationError(p.Mode, err)
		}
		enc = e
	}

	driver, err := c.driverFactory()
	if err != nil {
		return nil, capture.NewOperationError(p.Mode, err)
	}

	j := job.New(&job.Config{
		ID:          jobID,
		Params:      p,
		Driver:      driver,
		Encoder:     enc,
		EventBus:    c.eventBus,
		Logger:      c.logger,
		SettleDelay: c.settleDelay,
		Remote:      c.remote,
	})

	c.jobs[jobID] = j
	return j, nil
}

// run waits for a browser slot, runs the job and records the outcome.
func (c *Coordinator) run(ctx context.Context, j *job.Job) (*capture.Artifact, error) {
	defer c.removeJob(j.ID())

	p := j.Params()
	c.publishEvent(event.NewJobQueued(j.ID(), string(p.Mode), p.URL))

	// Stopping the coordinator cancels every job
	stopCancel := context.AfterFunc(c.ctx, j.Cancel)
	defer stopCancel()

	// On a failed acquire ctx is already done and Run reports the job as
	// cancelled or failed without launching a browser.
	if err := c.slots.Acquire(ctx, 1); err == nil {
		defer c.slots.Release(1)
	}

	artifact, err := j.Run(ctx)
	c.record(ctx, j, artifact, err)
	return artifact, err
}

func (c *Coordinator) record(ctx context.Context, j *job.Job, artifact *capture.Artifact, runErr error) {
	if c.history == nil {
		return
	}

	p := j.Params()
	startedAt := j.StartedAt()
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	// History is written even when the caller has gone away
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	status := strings.ToLower(j.State().String())
	if _, err := c.history.RecordResult(recordCtx, j.ID(), &p, artifact, status, runErr, startedAt); err != nil {
		c.logger.Warn("Failed to record capture history", "job_id", j.ID(), "error", err)
	}
}

func (c *Coordinator) removeJob(id string) {
	c.jobsMu.Lock()
	delete(c.jobs, id)
	c.jobsMu.Unlock()
}

func (c *Coordinator) publishEvent(e event.Event) {
	if c.eventBus != nil {
		c.eventBus.Publish(e)
	}
}
