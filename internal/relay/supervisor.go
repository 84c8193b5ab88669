// Package relay supervises the fleet of ffmpeg relay subprocesses. It owns
// the job registry, the start/stop/restart lifecycle, the health monitor
// loop, and crash recovery for autostart cameras.
package relay

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/discovery"
	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/ffmpeg"
	"github.com/smazurov/relayd/internal/logging"
	"github.com/smazurov/relayd/internal/metrics"
	"github.com/smazurov/relayd/internal/process"
)

// launchFunc matches process.Launch. Swappable in tests.
type launchFunc func(id, name string, args []string, opts ...process.Option) (*process.Handle, error)

// Options wires the supervisor's collaborators. Registry and Resolver are
// only needed for camera-addressed operations; Bus and Logger get defaults
// when nil.
type Options struct {
	Config   Config
	Registry cameras.Registry
	Resolver discovery.Resolver
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Supervisor is the lifecycle controller for relay jobs. All mutations of
// the job registry and the autostart tracking table go through its methods.
type Supervisor struct {
	cfg      Config
	registry cameras.Registry
	resolver discovery.Resolver
	bus      *events.Bus
	logger   *slog.Logger
	monitor  *Monitor
	builder  *ffmpeg.Builder

	launch    launchFunc
	ffmpegLog *slog.Logger

	mu sync.Mutex
	// jobs holds every registered job including terminal errored records
	// kept for operator inspection.
	jobs map[string]*Job
	// seq allocates job ids per camera name.
	seq map[string]int
	// restarting marks restart identities (camera name, or job id for
	// camera-less jobs) with a replacement in flight.
	restarting map[string]bool
	// tracking holds autostart recovery state keyed by camera name.
	tracking map[string]*tracking

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSupervisor builds a supervisor and starts its reconciliation sweep.
func NewSupervisor(opts Options) *Supervisor {
	bus := opts.Bus
	if bus == nil {
		bus = events.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("relay")
	}

	s := &Supervisor{
		cfg:        opts.Config,
		registry:   opts.Registry,
		resolver:   opts.Resolver,
		bus:        bus,
		logger:     logger,
		monitor:    NewMonitor(opts.Config.Monitor),
		builder:    ffmpeg.NewBuilder(opts.Config.Platforms),
		launch:     process.Launch,
		ffmpegLog:  logging.GetLogger("ffmpeg"),
		jobs:       make(map[string]*Job),
		seq:        make(map[string]int),
		restarting: make(map[string]bool),
		tracking:   make(map[string]*tracking),
		closed:     make(chan struct{}),
	}

	if s.cfg.Autostart.SweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Close stops the reconciliation sweep. Running jobs are left alone; use
// StopAll for shutdown.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Bus exposes the event bus jobs publish on.
func (s *Supervisor) Bus() *events.Bus {
	return s.bus
}

// GetStatus returns a snapshot of one job.
func (s *Supervisor) GetStatus(jobID string) (JobStatus, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, NewRelayError(ErrCodeJobNotFound, fmt.Sprintf("job %q not found", jobID), nil)
	}
	return j.snapshot(), nil
}

// ListStatuses returns snapshots of every registered job, sorted by id.
func (s *Supervisor) ListStatuses() []JobStatus {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		statuses = append(statuses, j.snapshot())
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].ID < statuses[k].ID })
	return statuses
}

// JobOutput returns the job's retained tail of non-progress process output.
func (s *Supervisor) JobOutput(jobID string) ([]string, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, NewRelayError(ErrCodeJobNotFound, fmt.Sprintf("job %q not found", jobID), nil)
	}
	return j.outputSnapshot(), nil
}

// TrackedPIDs maps the OS pids of live subprocesses to their job ids, for
// cross-referencing against a system-wide process scan.
func (s *Supervisor) TrackedPIDs() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make(map[int]string)
	for id, j := range s.jobs {
		if j.handle != nil && j.handle.Running() {
			pids[j.handle.PID()] = id
		}
	}
	return pids
}

// nextJobID allocates a job id derived from the owning camera name.
func (s *Supervisor) nextJobID(camera string) string {
	base := camera
	if base == "" {
		base = "job"
	}
	s.mu.Lock()
	s.seq[base]++
	n := s.seq[base]
	s.mu.Unlock()
	return fmt.Sprintf("%s-%d", base, n)
}

// labelFor picks the metric label for a job: the camera name when it has
// one, since that survives job turnover, else the job id.
func (s *Supervisor) labelFor(j *Job) string {
	if j.config.Camera != "" {
		return j.config.Camera
	}
	return j.id
}

// latestJobLocked returns the camera's most recently started job. Caller
// holds s.mu.
func (s *Supervisor) latestJobLocked(camera string) *Job {
	var latest *Job
	for _, j := range s.jobs {
		if j.config.Camera != camera {
			continue
		}
		if latest == nil || j.startedAt.After(latest.startedAt) {
			latest = j
		}
	}
	return latest
}

// deregister removes a job's registry entry and its gauges.
func (s *Supervisor) deregister(j *Job) {
	s.mu.Lock()
	if s.jobs[j.id] == j {
		delete(s.jobs, j.id)
	}
	s.mu.Unlock()
	metrics.DeleteJobMetrics(s.labelFor(j))
}

// announce publishes a state transition on the bus and mirrors it into the
// metrics and the log.
func (s *Supervisor) announce(j *Job, from, to JobState, reason string) {
	s.logger.Info("Job state changed",
		"job", j.id, "camera", j.config.Camera, "from", from, "to", to, "reason", reason)
	metrics.SetJobState(s.labelFor(j), string(to))
	s.bus.Publish(events.JobStateChangedEvent{
		JobID:     j.id,
		Camera:    j.config.Camera,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		Timestamp: eventTime(),
	})
}

// setState moves a job to a new state under its lock and announces the
// transition. No-op when the state is unchanged.
func (s *Supervisor) setState(j *Job, to JobState, reason string) JobState {
	j.mu.Lock()
	from := j.state
	if from == to {
		j.mu.Unlock()
		return from
	}
	j.state = to
	if to == StateErrored {
		j.errorMessage = reason
	}
	j.mu.Unlock()
	s.announce(j, from, to, reason)
	return from
}

// cooldownElapsed reports whether the job is past its restart cooldown.
// Jobs that were never restarted have no cooldown.
func (s *Supervisor) cooldownElapsed(j *Job) bool {
	j.mu.Lock()
	last := j.lastRestartAt
	j.mu.Unlock()
	return last.IsZero() || time.Since(last) >= s.cfg.Monitor.RestartCooldown
}

func eventTime() string {
	return time.Now().UTC().Format(time.RFC3339)
}
