package relay

import (
	"fmt"
	"time"
)

// VerdictLevel grades one health evaluation.
type VerdictLevel int

const (
	// Healthy means all signals are inside their thresholds.
	Healthy VerdictLevel = iota
	// Warn means a signal breached once but has not persisted long enough
	// to act on.
	Warn
	// Failed means the job needs a restart.
	Failed
)

// String returns the lowercase label used in logs and metrics.
func (v VerdictLevel) String() string {
	switch v {
	case Warn:
		return "warn"
	case Failed:
		return "failed"
	default:
		return "healthy"
	}
}

// Verdict is the outcome of one health evaluation. Reason names the specific
// failing signal so logs and events say why a job was recycled.
type Verdict struct {
	Level  VerdictLevel
	Reason string
}

// severeStuckFactor scales the stuck-frame wall clock up to the threshold at
// which the monitor stops waiting for its next tick.
const severeStuckFactor = 4

// extremeSpeedFactor scales the speed ceiling up to the out-of-band value.
const extremeSpeedFactor = 2

// Monitor evaluates job health. Each failure condition is checked
// independently; the first breach in a fixed order names the verdict.
type Monitor struct {
	cfg MonitorConfig
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Evaluate runs one health tick against a job. It maintains the job's
// anomaly counters: stuck-frame and abnormal-speed counts increment on each
// breaching tick and reset to zero the moment the signal recovers.
func (m *Monitor) Evaluate(j *Job) Verdict {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	frameSeen := !j.metrics.LastFrameAt.IsZero()

	if frameSeen {
		if j.metrics.LastFrame == j.lastTickFrame {
			j.counters.StuckFrameChecks++
		} else {
			j.counters.StuckFrameChecks = 0
		}
		j.lastTickFrame = j.metrics.LastFrame
	}

	if j.metrics.Speed > m.cfg.SpeedCeiling {
		j.counters.AbnormalSpeedChecks++
	} else {
		j.counters.AbnormalSpeedChecks = 0
	}

	if frameSeen && j.counters.StuckFrameChecks >= m.cfg.StuckTicks {
		return Verdict{Failed, fmt.Sprintf("stuck frame: frame %d unchanged for %d checks",
			j.metrics.LastFrame, j.counters.StuckFrameChecks)}
	}
	if frameSeen {
		if stuckFor := now.Sub(j.metrics.LastFrameAt); stuckFor > m.cfg.StuckWindow {
			return Verdict{Failed, fmt.Sprintf("stuck frame: no advance for %s", stuckFor.Round(time.Second))}
		}
	}
	if j.counters.AbnormalSpeedChecks >= m.cfg.SpeedTicks {
		return Verdict{Failed, fmt.Sprintf("runaway speed: %.2fx above ceiling %.2fx",
			j.metrics.Speed, m.cfg.SpeedCeiling)}
	}
	if now.Sub(j.startedAt) > m.cfg.FPSWarmup && j.metrics.FPS < m.cfg.MinFPS {
		return Verdict{Failed, fmt.Sprintf("low throughput: %.1f fps below floor %.1f",
			j.metrics.FPS, m.cfg.MinFPS)}
	}
	if m.noProgress(j, now) {
		return Verdict{Failed, fmt.Sprintf("no progress: no output produced in %s",
			m.cfg.NoProgress)}
	}

	if j.counters.StuckFrameChecks > 0 {
		return Verdict{Warn, fmt.Sprintf("frame %d unchanged since last check", j.metrics.LastFrame)}
	}
	if j.counters.AbnormalSpeedChecks > 0 {
		return Verdict{Warn, fmt.Sprintf("speed %.2fx above ceiling", j.metrics.Speed)}
	}
	return Verdict{Level: Healthy}
}

// noProgress reports a job whose output never moved: fps pinned at zero and
// the reported size still at its first observed value.
func (m *Monitor) noProgress(j *Job, now time.Time) bool {
	if now.Sub(j.startedAt) <= m.cfg.NoProgress {
		return false
	}
	if j.metrics.FPS != 0 {
		return false
	}
	return !j.haveInitialSize || j.metrics.Size == j.initialSize
}

// CheckEscalation looks for conditions bad enough to bypass the periodic
// tick: a frame stuck for severeStuckFactor times the base window, or a
// speed reading past extremeSpeedFactor times the ceiling. Called from the
// progress path, so it must stay cheap.
func (m *Monitor) CheckEscalation(j *Job) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.metrics.LastFrameAt.IsZero() {
		if stuckFor := time.Since(j.metrics.LastFrameAt); stuckFor > time.Duration(severeStuckFactor)*m.cfg.StuckWindow {
			return fmt.Sprintf("severely stuck frame: no advance for %s", stuckFor.Round(time.Second)), true
		}
	}
	if j.metrics.Speed > extremeSpeedFactor*m.cfg.SpeedCeiling {
		return fmt.Sprintf("extreme speed: %.2fx", j.metrics.Speed), true
	}
	return "", false
}
