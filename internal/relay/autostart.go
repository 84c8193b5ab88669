package relay

import (
	"context"
	"time"

	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/ffmpeg"
)

// tracking holds the autostart recovery state for one camera.
type tracking struct {
	config      ffmpeg.StreamConfig
	retryCount  int
	lastRetryAt time.Time
	// pending dedupes scheduled recoveries: at most one timer per camera.
	pending bool
}

// AutostartAll brings up a relay job for every camera marked autostart and
// returns how many reached running. Failures are logged and handed to the
// recovery machinery rather than aborting the bring-up.
func (s *Supervisor) AutostartAll(ctx context.Context) int {
	if s.registry == nil {
		return 0
	}
	started := 0
	for _, cam := range s.registry.AutostartCameras() {
		status, err := s.StartCamera(ctx, cam.Name)
		if err != nil {
			s.logger.Error("Autostart failed", "camera", cam.Name, "error", err)
			// Config errors never retry; anything else is worth a
			// recovery attempt.
			if ErrorCode(err) != ErrCodeInvalidConfig {
				s.scheduleRecovery(cam.Name)
			}
			continue
		}
		started++
		s.logger.Info("Autostart brought up camera", "camera", cam.Name, "job", status.ID)
	}
	return started
}

// scheduleRecovery queues the next recovery attempt for a camera with
// exponential backoff, or abandons the camera once the retry budget is
// spent. At most one recovery is pending per camera at a time.
func (s *Supervisor) scheduleRecovery(camera string) {
	s.mu.Lock()
	t, ok := s.tracking[camera]
	if !ok || t.pending {
		s.mu.Unlock()
		return
	}
	if t.retryCount >= s.cfg.Autostart.MaxRetries {
		attempts := t.retryCount
		delete(s.tracking, camera)
		s.mu.Unlock()
		s.logger.Error("Abandoning autostart recovery", "camera", camera, "attempts", attempts)
		s.bus.Publish(events.AutostartAbandonedEvent{
			Camera:    camera,
			Attempts:  attempts,
			Timestamp: eventTime(),
		})
		return
	}
	t.pending = true
	attempt := t.retryCount + 1
	delay := backoffDelay(s.cfg.Autostart, t.retryCount)
	s.mu.Unlock()

	s.logger.Warn("Scheduling autostart recovery",
		"camera", camera, "attempt", attempt, "delay", delay)
	s.bus.Publish(events.RestartScheduledEvent{
		Camera:    camera,
		Attempt:   attempt,
		DelayMS:   delay.Milliseconds(),
		Timestamp: eventTime(),
	})

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.tracking[camera]; ok {
			cur.pending = false
		}
		s.mu.Unlock()
		if _, err := s.restartJob(context.Background(), "", camera, false, "autostart recovery", "recovery"); err != nil {
			s.logger.Debug("Recovery attempt did not start a job", "camera", camera, "error", err)
		}
	})
}

// backoffDelay computes min(base * 2^retries, cap).
func backoffDelay(cfg AutostartConfig, retries int) time.Duration {
	if retries > 30 {
		return cfg.BackoffCap
	}
	d := cfg.BackoffBase << uint(retries)
	if d <= 0 || d > cfg.BackoffCap {
		return cfg.BackoffCap
	}
	return d
}

// sweepLoop periodically reconciles autostart cameras whose scheduled
// recovery was silently dropped, such as a crash during the recovery
// attempt itself.
func (s *Supervisor) sweepLoop() {
	ticker := time.NewTicker(s.cfg.Autostart.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep re-triggers recovery for tracked cameras that have not attempted a
// retry in a long window and have no live job. Triggered recoveries are
// fire-and-forget.
func (s *Supervisor) sweep() {
	now := time.Now()

	s.mu.Lock()
	type candidate struct {
		camera string
		job    *Job
	}
	var candidates []candidate
	for camera, t := range s.tracking {
		if t.pending || now.Sub(t.lastRetryAt) < s.cfg.Autostart.StaleAfter {
			continue
		}
		candidates = append(candidates, candidate{camera: camera, job: s.latestJobLocked(camera)})
	}
	s.mu.Unlock()

	for _, c := range candidates {
		if c.job != nil {
			c.job.mu.Lock()
			live := c.job.state == StateStarting || c.job.state == StateRunning
			c.job.mu.Unlock()
			if live {
				continue
			}
		}
		s.logger.Warn("Reconciliation sweep recovering camera", "camera", c.camera)
		camera := c.camera
		go func() {
			if _, err := s.restartJob(context.Background(), "", camera, false, "reconciliation sweep", "sweep"); err != nil {
				s.logger.Debug("Sweep recovery did not start a job", "camera", camera, "error", err)
			}
		}()
	}
}
