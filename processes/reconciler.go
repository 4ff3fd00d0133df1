package processes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomyedwab/satellite/history"
	"github.com/tomyedwab/satellite/types"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultInitialDelay = 2 * time.Second
	defaultCycleTimeout = 50 * time.Second
)

var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

// DesiredStateProvider returns the instances that should run on a server.
type DesiredStateProvider interface {
	FetchDesired(ctx context.Context, serverID string) ([]types.InstanceDescriptor, error)
}

// InstanceScanner lists the managed instances currently running.
type InstanceScanner interface {
	Scan(ctx context.Context) ([]types.RunningInstance, error)
}

type Killer interface {
	Kill(pid string) error
}

// Launcher builds and spawns one instance, returning the new pid.
type Launcher interface {
	Launch(ctx context.Context, d types.InstanceDescriptor) (int, error)
}

// EventRecorder persists what each cycle did.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event history.Event) error
	DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper removes stale generated files before a cycle.
type Sweeper interface {
	Sweep() (int, error)
}

// Config holds configuration options for the Reconciler.
type Config struct {
	ServerID     string
	Desired      DesiredStateProvider
	Scanner      InstanceScanner
	Killer       Killer
	Launcher     Launcher
	Recorder     EventRecorder // Optional
	Sweeper      Sweeper       // Optional
	Logger       *slog.Logger  // Optional, defaults to slog.Default()
	PollInterval time.Duration // Optional, defaults to 60s
	InitialDelay time.Duration // Optional, defaults to 2s
	CycleTimeout time.Duration // Optional, defaults to 50s
	Retention    time.Duration // Optional, defaults to history.DefaultRetention
}

// Report summarises one completed cycle.
type Report struct {
	CycleID     string
	Desired     int
	Running     int
	Killed      []types.RunningInstance
	Started     []string
	KillErrors  map[string]error // Keyed by pid
	StartErrors map[string]error // Keyed by instance name
}

func (r Report) Failures() int {
	return len(r.KillErrors) + len(r.StartErrors)
}

// Reconciler converges the processes on this host to the control plane's
// desired set. Only one cycle runs at a time.
type Reconciler struct {
	serverID     string
	desired      DesiredStateProvider
	scanner      InstanceScanner
	killer       Killer
	launcher     Launcher
	recorder     EventRecorder
	sweeper      Sweeper
	logger       *slog.Logger
	pollInterval time.Duration
	initialDelay time.Duration
	cycleTimeout time.Duration
	retention    time.Duration

	cycleMu sync.Mutex // Held for the duration of a cycle

	triggerChan chan struct{}

	runMu    sync.Mutex // Orders wg.Add in Run against Stop
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler creates a new Reconciler instance.
func NewReconciler(config Config) (*Reconciler, error) {
	if config.ServerID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	if config.Desired == nil {
		return nil, fmt.Errorf("DesiredStateProvider is required")
	}
	if config.Scanner == nil {
		return nil, fmt.Errorf("InstanceScanner is required")
	}
	if config.Killer == nil {
		return nil, fmt.Errorf("Killer is required")
	}
	if config.Launcher == nil {
		return nil, fmt.Errorf("Launcher is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := config.PollInterval
	if pollInterval == 0 {
		pollInterval = defaultPollInterval
	}
	initialDelay := config.InitialDelay
	if initialDelay == 0 {
		initialDelay = defaultInitialDelay
	}
	cycleTimeout := config.CycleTimeout
	if cycleTimeout == 0 {
		cycleTimeout = defaultCycleTimeout
	}
	retention := config.Retention
	if retention == 0 {
		retention = history.DefaultRetention
	}

	return &Reconciler{
		serverID:     config.ServerID,
		desired:      config.Desired,
		scanner:      config.Scanner,
		killer:       config.Killer,
		launcher:     config.Launcher,
		recorder:     config.Recorder,
		sweeper:      config.Sweeper,
		logger:       logger.With("component", "Reconciler"),
		pollInterval: pollInterval,
		initialDelay: initialDelay,
		cycleTimeout: cycleTimeout,
		retention:    retention,
		triggerChan:  make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}, nil
}

// Run reconciles after the initial delay, then on every poll interval and on
// every Trigger. It blocks until Stop() is called or the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.runMu.Lock()
	if r.stopped {
		r.runMu.Unlock()
		return
	}
	r.wg.Add(1)
	r.runMu.Unlock()
	defer r.wg.Done()
	r.logger.Info("Reconciler loop started.", "server", r.serverID, "interval", r.pollInterval)

	timer := time.NewTimer(r.initialDelay)
	defer timer.Stop()
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	var tickC <-chan time.Time // nil until the initial delay has passed

	for {
		select {
		case <-r.stopChan:
			r.logger.Info("Reconciler loop stopping.")
			return
		case <-ctx.Done():
			r.logger.Info("Reconciler loop context cancelled.")
			return
		case <-timer.C:
			ticker = time.NewTicker(r.pollInterval)
			tickC = ticker.C
			r.tick(ctx)
		case <-tickC:
			r.tick(ctx)
		case <-r.triggerChan:
			r.logger.Info("Manual reconciliation triggered")
			r.tick(ctx)
		}
	}
}

// Trigger asks Run for an immediate cycle. Requests made while one is
// already pending are coalesced; it reports whether the request was queued.
func (r *Reconciler) Trigger() bool {
	select {
	case r.triggerChan <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends the Run loop and waits for an in-flight cycle to finish. A Run
// called after Stop returns immediately.
func (r *Reconciler) Stop() {
	r.runMu.Lock()
	if !r.stopped {
		r.stopped = true
		r.logger.Info("Stopping Reconciler...")
		close(r.stopChan)
	}
	r.runMu.Unlock()
	r.wg.Wait()
}

func (r *Reconciler) tick(ctx context.Context) {
	if _, err := r.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			r.logger.Warn("Skipping tick, previous cycle still running")
			return
		}
		r.logger.Error("Reconciliation failed", "error", err)
	}
}

// RunCycle performs one fetch, scan, kill and start pass. A fetch or scan
// failure aborts the cycle before any action. Kill and start failures are
// reported in the Report and do not stop the remaining actions. If another
// cycle is running it returns ErrCycleInProgress immediately.
func (r *Reconciler) RunCycle(ctx context.Context) (*Report, error) {
	if !r.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer r.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cycleTimeout)
	defer cancel()

	report := &Report{
		CycleID:     uuid.New().String(),
		KillErrors:  make(map[string]error),
		StartErrors: make(map[string]error),
	}
	logger := r.logger.With("cycle", report.CycleID)
	logger.Debug("Starting reconciliation cycle.")

	r.sweep(logger)

	desired, err := r.desired.FetchDesired(ctx, r.serverID)
	if err != nil {
		err = fmt.Errorf("failed to fetch desired instances: %w", err)
		r.record(ctx, logger, history.Event{EventType: string(history.EventCycleFailed), CycleID: report.CycleID, Detail: err.Error()})
		return nil, err
	}
	running, err := r.scanner.Scan(ctx)
	if err != nil {
		err = fmt.Errorf("failed to scan running instances: %w", err)
		r.record(ctx, logger, history.Event{EventType: string(history.EventCycleFailed), CycleID: report.CycleID, Detail: err.Error()})
		return nil, err
	}
	report.Desired = len(desired)
	report.Running = len(running)

	plan := ComputePlan(desired, running)

	// Every kill happens before any start
	for _, inst := range plan.Kill {
		logger.Info("Stopping instance", "instance", inst.Name, "pid", inst.PID)
		if err := r.killer.Kill(inst.PID); err != nil {
			logger.Error("Failed to stop instance", "instance", inst.Name, "pid", inst.PID, "error", err)
			report.KillErrors[inst.PID] = err
			r.record(ctx, logger, history.Event{EventType: string(history.EventKillFailed), CycleID: report.CycleID, Instance: inst.Name, PID: inst.PID, Detail: err.Error()})
			continue
		}
		report.Killed = append(report.Killed, inst)
		r.record(ctx, logger, history.Event{EventType: string(history.EventKill), CycleID: report.CycleID, Instance: inst.Name, PID: inst.PID})
	}

	for _, d := range plan.Start {
		if err := ctx.Err(); err != nil {
			report.StartErrors[d.Name] = err
			logger.Error("Cycle deadline reached before start", "instance", d.Name, "error", err)
			r.record(ctx, logger, history.Event{EventType: string(history.EventStartFailed), CycleID: report.CycleID, Instance: d.Name, Detail: err.Error()})
			continue
		}
		logger.Info("Starting instance", "instance", d.Name)
		pid, err := r.launcher.Launch(ctx, d)
		if err != nil {
			logger.Error("Failed to start instance", "instance", d.Name, "error", err)
			report.StartErrors[d.Name] = err
			r.record(ctx, logger, history.Event{EventType: string(history.EventStartFailed), CycleID: report.CycleID, Instance: d.Name, Detail: err.Error()})
			continue
		}
		report.Started = append(report.Started, d.Name)
		logger.Info("Instance started", "instance", d.Name, "pid", pid)
		r.record(ctx, logger, history.Event{EventType: string(history.EventStart), CycleID: report.CycleID, Instance: d.Name, PID: strconv.Itoa(pid)})
	}

	summary := fmt.Sprintf("desired=%d running=%d killed=%d started=%d failures=%d",
		report.Desired, report.Running, len(report.Killed), len(report.Started), report.Failures())
	r.record(ctx, logger, history.Event{EventType: string(history.EventCycle), CycleID: report.CycleID, Detail: summary})
	r.prune(ctx, logger)

	if plan.Empty() {
		logger.Debug("Reconciliation cycle finished, nothing to do.", "desired", report.Desired)
	} else {
		logger.Info("Reconciliation cycle finished.",
			"killed", names(report.Killed), "started", strings.Join(report.Started, ","), "failures", report.Failures())
	}
	return report, nil
}

func (r *Reconciler) sweep(logger *slog.Logger) {
	if r.sweeper == nil {
		return
	}
	removed, err := r.sweeper.Sweep()
	if err != nil {
		logger.Warn("Failed to sweep generated files", "error", err)
	}
	if removed > 0 {
		logger.Info("Removed stale generated files", "count", removed)
	}
}

// record never fails the cycle; history is best effort.
func (r *Reconciler) record(ctx context.Context, logger *slog.Logger, event history.Event) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("Failed to record history event", "type", event.EventType, "error", err)
	}
}

func (r *Reconciler) prune(ctx context.Context, logger *slog.Logger) {
	if r.recorder == nil {
		return
	}
	if _, err := r.recorder.DeleteOldEvents(context.WithoutCancel(ctx), r.retention); err != nil {
		logger.Warn("Failed to prune history", "error", err)
	}
}

func names(instances []types.RunningInstance) string {
	parts := make([]string, 0, len(instances))
	for _, inst := range instances {
		parts = append(parts, inst.String())
	}
	return strings.Join(parts, ",")
}
