package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/ffmpeg"
	"github.com/smazurov/relayd/internal/metrics"
	"github.com/smazurov/relayd/internal/process"
)

// Start launches a relay job and blocks until it produces progress output
// or the start window closes. On a start timeout the nascent process is
// killed and the job removed, so failed starts never linger as active
// registry entries. A process that exits during startup leaves an errored
// record behind for inspection.
func (s *Supervisor) Start(ctx context.Context, cfg ffmpeg.StreamConfig, isAutostart bool) (JobStatus, error) {
	return s.start(ctx, cfg, isAutostart, false)
}

// StartCamera resolves a camera from the registry and starts a relay job
// for it using the camera's configured platform and stream key.
func (s *Supervisor) StartCamera(ctx context.Context, name string) (JobStatus, error) {
	if s.registry == nil {
		return JobStatus{}, NewRelayError(ErrCodeCameraNotFound, "no camera registry configured", nil)
	}
	cam, ok := s.registry.GetCamera(name)
	if !ok {
		return JobStatus{}, NewRelayError(ErrCodeCameraNotFound, fmt.Sprintf("camera %q not found", name), nil)
	}

	source := cam.RTSPURL()
	hasAudio := true
	if s.resolver != nil {
		res, err := s.resolver.Resolve(ctx, cam)
		if err != nil {
			s.logger.Warn("Discovery failed, falling back to configured stream URI",
				"camera", name, "uri", cameras.RedactURI(source), "error", err)
		} else {
			source = res.URI
			hasAudio = res.HasAudio
		}
	}

	cfg := ffmpeg.StreamConfig{
		Camera:      cam.Name,
		Source:      source,
		Platform:    cam.Platform,
		StreamKey:   cam.KeyFor(cam.Platform),
		ServerURL:   cam.ServerURL,
		SilentAudio: !hasAudio,
	}
	return s.Start(ctx, cfg, cam.Autostart)
}

func (s *Supervisor) start(ctx context.Context, cfg ffmpeg.StreamConfig, isAutostart, viaRestart bool) (JobStatus, error) {
	args, destination, err := s.builder.Build(cfg)
	if err != nil {
		return JobStatus{}, NewRelayError(ErrCodeInvalidConfig, err.Error(), err)
	}

	id := s.nextJobID(cfg.Camera)
	j := newJob(id, cfg, destination, isAutostart)
	if viaRestart {
		j.lastRestartAt = j.startedAt
	}

	// Tracking exists before the launch so a failed first launch is still
	// recoverable by the sweep.
	if isAutostart && cfg.Camera != "" && !viaRestart {
		s.mu.Lock()
		s.tracking[cfg.Camera] = &tracking{config: cfg, lastRetryAt: time.Now()}
		s.mu.Unlock()
	}

	handle, err := s.launch(id, s.cfg.FFmpegPath, args,
		process.WithLogger(s.logger),
		process.WithOutputHandler(jobOutput{s: s, j: j}),
		process.WithLogParser(s.ffmpegLog, ffmpeg.ParseLogLevel),
		process.WithGracefulTimeout(s.cfg.StopGrace),
	)
	if err != nil {
		return JobStatus{}, NewRelayError(ErrCodeProcessExit, "failed to launch ffmpeg", err)
	}
	j.handle = handle

	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	s.logger.Info("Job starting",
		"job", id, "camera", cfg.Camera, "pid", handle.PID(), "platform", cfg.Platform)
	metrics.SetJobState(s.labelFor(j), string(StateStarting))

	go s.watchExit(j)
	defer close(j.startSettled)

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-j.runningCh:
		j.mu.Lock()
		if j.state != StateStarting {
			// A stop won the race during startup.
			j.mu.Unlock()
			return j.snapshot(), NewRelayError(ErrCodeProcessExit, "job was stopped during startup", nil)
		}
		j.state = StateRunning
		j.mu.Unlock()
		s.announce(j, StateStarting, StateRunning, "first progress received")

		st := j.snapshot()
		s.bus.Publish(events.JobStartedEvent{
			JobID:       id,
			Camera:      cfg.Camera,
			PID:         st.PID,
			Destination: st.Destination,
			Timestamp:   eventTime(),
		})
		go s.monitorLoop(j)
		return st, nil

	case <-j.exitObserved:
		st := handle.Status()
		j.exitOnce.Do(func() { s.finalizeExit(j, st) })
		return j.snapshot(), NewRelayError(ErrCodeProcessExit,
			fmt.Sprintf("process exited during startup: %s", exitReason(st)), st.Err)

	case <-timer.C:
		s.unwindStart(j, "start timeout")
		return JobStatus{}, NewRelayError(ErrCodeStartTimeout,
			fmt.Sprintf("no progress within %s", s.cfg.StartTimeout), nil)

	case <-ctx.Done():
		s.unwindStart(j, "start cancelled")
		return JobStatus{}, NewRelayError(ErrCodeStartTimeout, "start cancelled", ctx.Err())
	}
}

// unwindStart kills a job that never reached running and removes it from
// the registry.
func (s *Supervisor) unwindStart(j *Job, reason string) {
	s.setState(j, StateStopping, reason)
	j.stopMonitor()
	j.handle.Kill()
	select {
	case <-j.handle.Done():
	case <-time.After(2 * time.Second):
	}
	s.deregister(j)
}

// watchExit waits for the subprocess to exit and classifies the exit once
// Start has settled the job's fate.
func (s *Supervisor) watchExit(j *Job) {
	<-j.handle.Done()
	close(j.exitObserved)
	<-j.startSettled

	st := j.handle.Status()
	j.exitOnce.Do(func() { s.finalizeExit(j, st) })
}

// finalizeExit moves an exited job to its terminal state. A stop in flight
// makes the exit intentional (Idle); anything else is an unexpected death.
// Runs at most once per job.
func (s *Supervisor) finalizeExit(j *Job, st process.ExitStatus) {
	j.stopMonitor()

	j.mu.Lock()
	from := j.state
	j.endedAt = time.Now()
	var to JobState
	switch from {
	case StateStopping:
		to = StateIdle
	case StateStarting, StateRunning:
		to = StateErrored
		j.errorMessage = exitReason(st)
	default:
		// The monitor already declared the failure; the exit only
		// confirms it.
		j.mu.Unlock()
		metrics.DeleteJobMetrics(s.labelFor(j))
		return
	}
	j.state = to
	j.mu.Unlock()

	reason := exitReason(st)
	if to == StateIdle {
		reason = "process exited after stop"
	}
	s.announce(j, from, to, reason)
	metrics.DeleteJobMetrics(s.labelFor(j))

	if to == StateIdle {
		s.deregister(j)
		return
	}

	s.logger.Error("Job exited unexpectedly",
		"job", j.id, "camera", j.config.Camera, "exit_code", st.Code, "signal", st.Signal)
	s.bus.Publish(events.JobCrashedEvent{
		JobID:     j.id,
		Camera:    j.config.Camera,
		ExitCode:  st.Code,
		Timestamp: eventTime(),
	})
	if j.isAutostart && j.config.Camera != "" {
		s.scheduleRecovery(j.config.Camera)
	}
}

// Stop requests a graceful stop of a job. It does not block on process
// death: the exit watcher finishes the Stopping to Idle transition and
// deregisters the job. Stopping a terminal job dismisses its record.
func (s *Supervisor) Stop(jobID string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return NewRelayError(ErrCodeJobNotFound, fmt.Sprintf("job %q not found", jobID), nil)
	}
	// A deliberate stop ends automatic recovery for the camera.
	if j.config.Camera != "" {
		delete(s.tracking, j.config.Camera)
	}
	s.mu.Unlock()

	j.mu.Lock()
	switch j.state {
	case StateIdle, StateErrored:
		j.mu.Unlock()
		s.deregister(j)
		s.logger.Info("Dismissed finished job", "job", jobID)
		return nil
	case StateStopping:
		j.mu.Unlock()
		return nil
	default:
		from := j.state
		j.state = StateStopping
		j.mu.Unlock()
		s.announce(j, from, StateStopping, "operator stop")
		j.stopMonitor()
		j.handle.Stop()
		return nil
	}
}

// StopAll stops every job and waits for the processes to die, bounded by
// the context. Used at service shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		if err := s.Stop(j.id); err != nil {
			s.logger.Debug("Stop during shutdown", "job", j.id, "error", err)
		}
	}
	for _, j := range jobs {
		if j.handle == nil {
			continue
		}
		select {
		case <-j.handle.Done():
		case <-ctx.Done():
			return
		}
	}
}

// Restart replaces a job with a fresh one running the same config. This is
// the single entrypoint for every restart trigger; concurrent calls for the
// same job observe a restart in progress instead of double-spawning.
func (s *Supervisor) Restart(ctx context.Context, jobID string) (JobStatus, error) {
	return s.restartJob(ctx, jobID, "", true, "manual restart", "manual")
}

// restartJob stops the old job (when one survives), applies the retry
// bookkeeping, waits the cleanup delay, and starts a replacement. jobID
// addresses a specific record; camera addresses whatever job the camera
// currently has, which may be none after a fully unwound start.
func (s *Supervisor) restartJob(ctx context.Context, jobID, camera string, manual bool, reason, trigger string) (JobStatus, error) {
	s.mu.Lock()
	j := s.jobs[jobID]
	if j == nil && camera != "" {
		j = s.latestJobLocked(camera)
	}

	var cfg ffmpeg.StreamConfig
	var auto bool
	switch {
	case j != nil:
		cfg = j.config
		auto = j.isAutostart
	case camera != "" && !manual:
		t, ok := s.tracking[camera]
		if !ok {
			s.mu.Unlock()
			return JobStatus{}, NewRelayError(ErrCodeJobNotFound,
				fmt.Sprintf("no tracked job for camera %q", camera), nil)
		}
		cfg = t.config
		auto = true
	default:
		s.mu.Unlock()
		return JobStatus{}, NewRelayError(ErrCodeJobNotFound, fmt.Sprintf("job %q not found", jobID), nil)
	}

	// Camera-driven recovery dies quietly when its tracking entry was
	// removed by a stop or an abandonment in the meantime.
	if !manual && cfg.Camera != "" {
		if _, ok := s.tracking[cfg.Camera]; !ok {
			s.mu.Unlock()
			return JobStatus{}, NewRelayError(ErrCodeJobNotFound,
				fmt.Sprintf("recovery for camera %q was cancelled", cfg.Camera), nil)
		}
	}

	key := cfg.Camera
	if key == "" {
		if j != nil {
			key = j.id
		} else {
			key = camera
		}
	}
	if s.restarting[key] {
		s.mu.Unlock()
		return JobStatus{}, NewRelayError(ErrCodeRestartInProgress,
			fmt.Sprintf("restart already in progress for %q", key), nil)
	}
	s.restarting[key] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.restarting, key)
		s.mu.Unlock()
	}()

	var oldID string
	if j != nil {
		oldID = j.id
		if jobID == "" && !manual {
			// Recovery aimed at a camera that already has a live job
			// means a previous attempt got there first.
			j.mu.Lock()
			live := j.state == StateStarting || j.state == StateRunning
			j.mu.Unlock()
			if live {
				return j.snapshot(), nil
			}
		}

		j.mu.Lock()
		switch j.state {
		case StateStarting, StateRunning:
			from := j.state
			j.state = StateStopping
			j.mu.Unlock()
			s.announce(j, from, StateStopping, reason)
			j.stopMonitor()
			j.handle.Stop()
			select {
			case <-j.handle.Done():
			case <-time.After(s.cfg.StopGrace + 2*time.Second):
				j.handle.Kill()
				select {
				case <-j.handle.Done():
				case <-time.After(2 * time.Second):
				}
			}
		case StateStopping:
			j.mu.Unlock()
			return JobStatus{}, NewRelayError(ErrCodeRestartInProgress,
				fmt.Sprintf("job %q is already stopping", j.id), nil)
		default:
			// Terminal record: clear it so the replacement takes over.
			j.mu.Unlock()
			s.deregister(j)
		}
	}

	// All retry-count transitions live here so every trigger shares one
	// policy: automatic restarts consume the budget up front, a manual
	// restart refreshes it only once the replacement is up.
	if !manual && auto && cfg.Camera != "" {
		s.mu.Lock()
		if t, ok := s.tracking[cfg.Camera]; ok {
			t.retryCount++
			t.lastRetryAt = time.Now()
		}
		s.mu.Unlock()
	}

	metrics.IncJobRestart(metricLabel(cfg, oldID), trigger)
	s.logger.Info("Restarting job",
		"old_job", oldID, "camera", cfg.Camera, "reason", reason, "trigger", trigger)

	if s.cfg.RestartDelay > 0 {
		delay := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-delay.C:
		case <-ctx.Done():
			delay.Stop()
			return JobStatus{}, NewRelayError(ErrCodeRestartInProgress, "restart cancelled", ctx.Err())
		}
	}

	status, err := s.start(ctx, cfg, auto, true)
	if err != nil {
		s.logger.Error("Restart failed",
			"old_job", oldID, "camera", cfg.Camera, "error", err)
		if !manual && auto && cfg.Camera != "" {
			s.scheduleRecovery(cfg.Camera)
		}
		return status, err
	}

	if manual && auto && cfg.Camera != "" {
		s.mu.Lock()
		if t, ok := s.tracking[cfg.Camera]; ok {
			t.retryCount = 0
			t.lastRetryAt = time.Now()
			t.config = cfg
		} else {
			s.tracking[cfg.Camera] = &tracking{config: cfg, lastRetryAt: time.Now()}
		}
		s.mu.Unlock()
	}

	s.logger.Info("Job restarted",
		"old_job", oldID, "new_job", status.ID, "camera", cfg.Camera, "reason", reason)
	return status, nil
}

func metricLabel(cfg ffmpeg.StreamConfig, fallback string) string {
	if cfg.Camera != "" {
		return cfg.Camera
	}
	return fallback
}

// exitCodeReasons maps exit codes ffmpeg is known to use to a short
// description for operator-facing error messages.
var exitCodeReasons = map[int]string{
	1: "generic error",
	8: "invalid data found in input",
}

// exitReason renders an exit status as a human-readable message that always
// names the exit code.
func exitReason(st process.ExitStatus) string {
	if st.Signal != "" {
		return fmt.Sprintf("terminated by signal %s (exit code %d)", st.Signal, st.Code)
	}
	if desc, ok := exitCodeReasons[st.Code]; ok {
		return fmt.Sprintf("exit code %d: %s", st.Code, desc)
	}
	return fmt.Sprintf("exit code %d", st.Code)
}
