package relay

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/ffmpeg"
)

func healthyMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     30 * time.Second,
		MinFPS:       7,
		FPSWarmup:    time.Hour,
		SpeedCeiling: 5,
		SpeedTicks:   2,
		StuckTicks:   3,
		StuckWindow:  time.Hour,
		NoProgress:   time.Hour,
	}
}

func monitorJob() *Job {
	return newJob("cam-1", ffmpeg.StreamConfig{Camera: "cam"}, "rtmp://ingest.example.com/live/key", false)
}

func backdateStart(j *Job, d time.Duration) {
	j.mu.Lock()
	j.startedAt = time.Now().Add(-d)
	j.mu.Unlock()
}

func backdateFrame(j *Job, d time.Duration) {
	j.mu.Lock()
	j.metrics.LastFrameAt = time.Now().Add(-d)
	j.mu.Unlock()
}

func sample(frame int64, fps, speed float64) ffmpeg.MetricUpdate {
	return ffmpeg.MetricUpdate{
		HasFrame: true, Frame: frame,
		HasFPS: true, FPS: fps,
		HasSpeed: true, Speed: speed,
	}
}

func TestEvaluateStuckFrameAfterRepeatedTicks(t *testing.T) {
	m := NewMonitor(healthyMonitorConfig())
	j := monitorJob()
	j.applyProgress(sample(42, 30, 1))

	want := []VerdictLevel{Healthy, Warn, Warn, Failed}
	for i, lvl := range want {
		v := m.Evaluate(j)
		if v.Level != lvl {
			t.Fatalf("tick %d: level = %v (reason %q), want %v", i+1, v.Level, v.Reason, lvl)
		}
		if lvl == Failed && !strings.Contains(v.Reason, "stuck frame") {
			t.Errorf("failed reason = %q, want stuck frame", v.Reason)
		}
	}

	j.mu.Lock()
	checks := j.counters.StuckFrameChecks
	j.mu.Unlock()
	if checks != 3 {
		t.Errorf("stuck checks = %d, want 3", checks)
	}
}

func TestEvaluateAdvancingFrameNeverStuck(t *testing.T) {
	m := NewMonitor(healthyMonitorConfig())
	j := monitorJob()

	for i := int64(1); i <= 6; i++ {
		j.applyProgress(sample(i*25, 30, 1))
		v := m.Evaluate(j)
		if v.Level != Healthy {
			t.Fatalf("tick %d: level = %v (reason %q), want healthy", i, v.Level, v.Reason)
		}
	}
}

func TestEvaluateStuckCounterResetsOnAdvance(t *testing.T) {
	m := NewMonitor(healthyMonitorConfig())
	j := monitorJob()

	j.applyProgress(sample(10, 30, 1))
	m.Evaluate(j)
	m.Evaluate(j)
	if v := m.Evaluate(j); v.Level != Warn {
		t.Fatalf("expected warn after two unchanged ticks, got %v", v.Level)
	}

	j.applyProgress(sample(11, 30, 1))
	if v := m.Evaluate(j); v.Level != Healthy {
		t.Errorf("advancing frame did not reset the stuck counter: %v %q", v.Level, v.Reason)
	}
}

func TestEvaluateRunawaySpeed(t *testing.T) {
	m := NewMonitor(healthyMonitorConfig())
	j := monitorJob()

	j.applyProgress(sample(10, 30, 6))
	if v := m.Evaluate(j); v.Level != Warn {
		t.Fatalf("first overspeed tick = %v, want warn", v.Level)
	}
	j.applyProgress(sample(20, 30, 6))
	v := m.Evaluate(j)
	if v.Level != Failed || !strings.Contains(v.Reason, "runaway speed") {
		t.Errorf("second overspeed tick = %v %q, want runaway speed failure", v.Level, v.Reason)
	}
}

func TestEvaluateSpeedRecoveryResetsCounter(t *testing.T) {
	m := NewMonitor(healthyMonitorConfig())
	j := monitorJob()

	j.applyProgress(sample(10, 30, 6))
	m.Evaluate(j)
	j.applyProgress(sample(20, 30, 1))
	if v := m.Evaluate(j); v.Level != Healthy {
		t.Fatalf("recovered speed tick = %v, want healthy", v.Level)
	}
	j.applyProgress(sample(30, 30, 6))
	if v := m.Evaluate(j); v.Level != Warn {
		t.Errorf("re-overspeed tick = %v, want warn not failed", v.Level)
	}
}

func TestEvaluateLowFPSAfterWarmup(t *testing.T) {
	cfg := healthyMonitorConfig()
	cfg.FPSWarmup = 50 * time.Millisecond
	m := NewMonitor(cfg)
	j := monitorJob()
	backdateStart(j, time.Second)

	j.applyProgress(sample(10, 2, 1))
	v := m.Evaluate(j)
	if v.Level != Failed || !strings.Contains(v.Reason, "low throughput") {
		t.Errorf("verdict = %v %q, want low throughput failure", v.Level, v.Reason)
	}
}

func TestEvaluateLowFPSWithinWarmup(t *testing.T) {
	m := NewMonitor(healthyMonitorConfig())
	j := monitorJob()

	j.applyProgress(sample(10, 2, 1))
	if v := m.Evaluate(j); v.Level != Healthy {
		t.Errorf("verdict during warmup = %v %q, want healthy", v.Level, v.Reason)
	}
}

func TestEvaluateNoProgress(t *testing.T) {
	cfg := healthyMonitorConfig()
	cfg.NoProgress = 50 * time.Millisecond
	m := NewMonitor(cfg)

	j := monitorJob()
	backdateStart(j, time.Second)
	v := m.Evaluate(j)
	if v.Level != Failed || !strings.Contains(v.Reason, "no progress") {
		t.Errorf("verdict = %v %q, want no-progress failure", v.Level, v.Reason)
	}
}

func TestEvaluateNoProgressClearedByGrowingOutput(t *testing.T) {
	cfg := healthyMonitorConfig()
	cfg.NoProgress = 50 * time.Millisecond
	m := NewMonitor(cfg)

	j := monitorJob()
	backdateStart(j, time.Second)
	j.applyProgress(ffmpeg.MetricUpdate{HasSize: true, Size: "10kB"})
	j.applyProgress(ffmpeg.MetricUpdate{HasSize: true, Size: "20kB"})
	if v := m.Evaluate(j); v.Level == Failed {
		t.Errorf("growing output still judged no-progress: %q", v.Reason)
	}
}

func TestEvaluateStuckWallClock(t *testing.T) {
	cfg := healthyMonitorConfig()
	cfg.StuckTicks = 1000
	cfg.StuckWindow = 50 * time.Millisecond
	m := NewMonitor(cfg)

	j := monitorJob()
	j.applyProgress(sample(42, 30, 1))
	backdateFrame(j, time.Second)

	v := m.Evaluate(j)
	if v.Level != Failed || !strings.Contains(v.Reason, "no advance") {
		t.Errorf("verdict = %v %q, want wall-clock stuck failure", v.Level, v.Reason)
	}
}

func TestCheckEscalation(t *testing.T) {
	cfg := healthyMonitorConfig()
	cfg.StuckWindow = 10 * time.Millisecond
	m := NewMonitor(cfg)

	j := monitorJob()
	j.applyProgress(sample(42, 30, 1))
	backdateFrame(j, 100*time.Millisecond)
	reason, ok := m.CheckEscalation(j)
	if !ok || !strings.Contains(reason, "severely stuck") {
		t.Errorf("severe stuck not escalated: ok=%v reason=%q", ok, reason)
	}

	fast := monitorJob()
	fast.applyProgress(sample(1, 30, 11))
	reason, ok = m.CheckEscalation(fast)
	if !ok || !strings.Contains(reason, "extreme speed") {
		t.Errorf("extreme speed not escalated: ok=%v reason=%q", ok, reason)
	}

	mild := monitorJob()
	mild.applyProgress(sample(1, 30, 6))
	if reason, ok := m.CheckEscalation(mild); ok {
		t.Errorf("mild overspeed escalated: %q", reason)
	}
}

const stuckEmitter = "trap 'exit 0' INT TERM; while :; do echo 'frame=42 fps=30.0 speed=1.00x'; sleep 0.02; done"

const advancingEmitter = "trap 'exit 0' INT TERM; i=1; while :; do echo \"frame=$i fps=30.0 speed=1.00x\"; i=$((i+1)); sleep 0.02; done"

func TestMonitorFailsStuckJobWithoutAutostart(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Interval = 30 * time.Millisecond
	cfg.Monitor.StuckTicks = 2
	s := newTestSupervisor(t, cfg, nil)
	var launches int32
	scriptLauncher(s, &launches, stuckEmitter)

	unhealthy := make(chan events.JobUnhealthyEvent, 4)
	unsub := s.Bus().Subscribe(func(e events.JobUnhealthyEvent) {
		select {
		case unhealthy <- e:
		default:
		}
	})
	defer unsub()

	status, err := s.Start(context.Background(), customConfig("porch"), false)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 3*time.Second, "monitor to fail the job", func() bool {
		got, err := s.GetStatus(status.ID)
		return err == nil && got.State == StateErrored
	})

	got, _ := s.GetStatus(status.ID)
	if !strings.Contains(got.Error, "stuck frame") {
		t.Errorf("error message = %q, want stuck frame reason", got.Error)
	}
	select {
	case e := <-unhealthy:
		if e.JobID != status.ID {
			t.Errorf("unhealthy event for %q, want %q", e.JobID, status.ID)
		}
	case <-time.After(time.Second):
		t.Error("no unhealthy event published")
	}
	if n := atomic.LoadInt32(&launches); n != 1 {
		t.Errorf("launch count = %d, want 1 (no automatic restart without autostart)", n)
	}
}

func TestMonitorRestartsStuckAutostartJob(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Interval = 30 * time.Millisecond
	cfg.Monitor.StuckTicks = 2
	reg := newTestRegistry(testCamera("porch", true))
	s := newTestSupervisor(t, cfg, reg)
	var launches int32
	scriptLauncher(s, &launches, stuckEmitter, advancingEmitter)

	if _, err := s.StartCamera(context.Background(), "porch"); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	waitFor(t, 3*time.Second, "replacement job to come up", func() bool {
		got, err := s.GetStatus("porch-2")
		return err == nil && got.State == StateRunning
	})

	if n := atomic.LoadInt32(&launches); n != 2 {
		t.Errorf("launch count = %d, want 2", n)
	}
	tr := trackingFor(s, "porch")
	if tr == nil || tr.retryCount != 1 {
		t.Errorf("monitor restart did not consume the retry budget: %+v", tr)
	}
}

func TestEscalationBypassesTick(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Interval = time.Hour
	cfg.Monitor.StuckWindow = 10 * time.Millisecond
	s := newTestSupervisor(t, cfg, nil)
	var launches int32
	scriptLauncher(s, &launches, stuckEmitter)

	status, err := s.Start(context.Background(), customConfig("porch"), false)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 3*time.Second, "escalation to fail the job", func() bool {
		got, err := s.GetStatus(status.ID)
		return err == nil && got.State == StateErrored
	})
	got, _ := s.GetStatus(status.ID)
	if !strings.Contains(got.Error, "escalation") {
		t.Errorf("error message = %q, want escalation reason", got.Error)
	}
}
