package relay

import (
	"context"
	"time"

	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/ffmpeg"
	"github.com/smazurov/relayd/internal/metrics"
)

// jobOutput routes subprocess output lines: progress lines feed the metrics
// path, everything else lands in the diagnostics tail.
type jobOutput struct {
	s *Supervisor
	j *Job
}

func (o jobOutput) HandleLine(source, line string) {
	if u, ok := ffmpeg.ParseProgressLine(line); ok {
		o.s.handleProgress(o.j, u)
		return
	}
	o.j.appendOutput(line)
}

// handleProgress folds one parsed progress sample into the job. The first
// sample is what settles Starting into Running.
func (s *Supervisor) handleProgress(j *Job, u ffmpeg.MetricUpdate) {
	j.applyProgress(u)
	j.signalRunning()

	label := s.labelFor(j)
	if u.HasFPS {
		metrics.SetJobFPS(label, u.FPS)
	}
	if u.HasSpeed {
		metrics.SetJobSpeed(label, u.Speed)
	}
	if u.HasFrame {
		metrics.SetJobLastFrame(label, u.Frame)
	}
	if u.HasBitrate {
		if kbps, ok := ffmpeg.BitrateKbps(u.Bitrate); ok {
			metrics.SetJobBitrate(label, kbps)
		}
	}

	j.mu.Lock()
	m := j.metrics
	state := j.state
	j.mu.Unlock()

	s.bus.Publish(events.JobProgressEvent{
		EventType: "job_progress",
		JobID:     j.id,
		Camera:    j.config.Camera,
		Frame:     m.LastFrame,
		FPS:       m.FPS,
		Bitrate:   m.Bitrate,
		OutTime:   m.ElapsedTime,
		Speed:     m.Speed,
	})

	if state != StateRunning {
		return
	}
	select {
	case <-j.monitorStop:
		// Monitoring already wound down; a restart or stop is underway.
		return
	default:
	}
	if reason, ok := s.monitor.CheckEscalation(j); ok && s.cooldownElapsed(j) {
		go s.monitorFailure(j, "escalation: "+reason)
	}
}

// monitorLoop evaluates one job's health on a fixed tick until the job
// stops or fails. A failed verdict inside the restart cooldown only logs;
// the next tick re-evaluates.
func (s *Supervisor) monitorLoop(j *Job) {
	ticker := time.NewTicker(s.cfg.Monitor.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.monitorStop:
			return
		case <-ticker.C:
			v := s.monitor.Evaluate(j)
			metrics.IncMonitorVerdict(s.labelFor(j), v.Level.String())
			switch v.Level {
			case Warn:
				s.logger.Warn("Job health warning", "job", j.id, "reason", v.Reason)
			case Failed:
				if !s.cooldownElapsed(j) {
					s.logger.Warn("Job unhealthy but restart cooldown active",
						"job", j.id, "reason", v.Reason)
					continue
				}
				s.monitorFailure(j, v.Reason)
				return
			}
		}
	}
}

// monitorFailure acts on a failed health verdict. Autostart jobs go through
// the restart entrypoint; everything else is stopped and left errored for
// the operator.
func (s *Supervisor) monitorFailure(j *Job, reason string) {
	s.logger.Error("Health monitor failed job", "job", j.id, "camera", j.config.Camera, "reason", reason)
	s.bus.Publish(events.JobUnhealthyEvent{
		JobID:     j.id,
		Camera:    j.config.Camera,
		Reason:    reason,
		Timestamp: eventTime(),
	})

	if j.isAutostart {
		if _, err := s.restartJob(context.Background(), j.id, "", false, reason, "monitor"); err != nil {
			s.logger.Error("Monitor restart failed", "job", j.id, "error", err)
		}
		return
	}
	s.failJob(j, reason)
}

// failJob marks a live job errored and kills its process. The record stays
// registered so the failure is inspectable.
func (s *Supervisor) failJob(j *Job, reason string) {
	j.stopMonitor()

	j.mu.Lock()
	if j.state != StateRunning && j.state != StateStarting {
		j.mu.Unlock()
		return
	}
	from := j.state
	j.state = StateErrored
	j.errorMessage = reason
	j.mu.Unlock()

	s.announce(j, from, StateErrored, reason)
	j.handle.Stop()
}
