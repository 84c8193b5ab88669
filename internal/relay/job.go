package relay

import (
	"strings"
	"sync"
	"time"

	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/ffmpeg"
	"github.com/smazurov/relayd/internal/process"
)

// JobState represents the current state of a relay job.
type JobState string

// Job states. Idle and Errored are terminal: recovery always allocates a
// new job id rather than reviving an old record.
const (
	StateStarting JobState = "starting" // Process launched, waiting for first progress
	StateRunning  JobState = "running"  // Relaying frames
	StateStopping JobState = "stopping" // Operator stop or restart in flight
	StateIdle     JobState = "idle"     // Stopped intentionally
	StateErrored  JobState = "errored"  // Crashed or declared unhealthy
)

// Metrics holds the last-observed progress values for a job.
type Metrics struct {
	FPS         float64   `json:"fps" doc:"Frames per second last reported"`
	Size        string    `json:"size,omitempty" doc:"Bytes written, as reported"`
	ElapsedTime string    `json:"elapsed_time,omitempty" doc:"Output timestamp reached"`
	Bitrate     string    `json:"bitrate,omitempty" doc:"Output bitrate, as reported"`
	Speed       float64   `json:"speed" doc:"Transcode speed multiplier"`
	LastFrame   int64     `json:"last_frame" doc:"Most recent frame number"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty" doc:"When the frame number last advanced"`
}

// AnomalyCounters track consecutive failed health checks. They reset to zero
// whenever the corresponding signal returns to normal.
type AnomalyCounters struct {
	StuckFrameChecks    int `json:"stuck_frame_checks"`
	AbnormalSpeedChecks int `json:"abnormal_speed_checks"`
}

// JobStatus is a point-in-time snapshot of a job, safe to hand out across
// API boundaries. Credential-bearing URIs are redacted.
type JobStatus struct {
	ID            string          `json:"id" doc:"Unique job id"`
	Camera        string          `json:"camera,omitempty" doc:"Owning camera name"`
	State         JobState        `json:"state" doc:"Lifecycle state" enum:"starting,running,stopping,idle,errored"`
	PID           int             `json:"pid,omitempty" doc:"OS process id"`
	Source        string          `json:"source,omitempty" doc:"Input URI, credentials redacted"`
	Destination   string          `json:"destination,omitempty" doc:"Output URI, stream key redacted"`
	Platform      string          `json:"platform,omitempty" doc:"Resolved output platform"`
	Autostart     bool            `json:"autostart,omitempty" doc:"Whether fleet autostart owns recovery"`
	Metrics       Metrics         `json:"metrics"`
	Anomalies     AnomalyCounters `json:"anomalies"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	LastRestartAt *time.Time      `json:"last_restart_at,omitempty"`
	Error         string          `json:"error,omitempty" doc:"Failure detail, set in errored state"`
}

// outputTailSize bounds the per-job stderr tail kept for diagnostics.
const outputTailSize = 50

// Job is one supervised run of the relay subprocess. All mutable fields are
// guarded by mu; the progress callback and the health monitor both fold into
// the same record and must serialize.
type Job struct {
	mu sync.Mutex

	id          string
	config      ffmpeg.StreamConfig
	destination string
	handle      *process.Handle

	state        JobState
	errorMessage string

	metrics  Metrics
	counters AnomalyCounters

	// initialSize freezes the first reported size so the no-progress check
	// can tell "output grew" apart from "output never moved".
	initialSize     string
	haveInitialSize bool
	// lastTickFrame is the monitor's view of the frame number at its
	// previous tick.
	lastTickFrame int64

	startedAt     time.Time
	endedAt       time.Time
	lastRestartAt time.Time

	isAutostart bool

	outputTail []string

	// runningCh closes when the first progress line arrives, settling the
	// Starting state. startSettled closes when Start() has finished
	// deciding the job's fate either way.
	runningCh    chan struct{}
	runningOnce  sync.Once
	startSettled chan struct{}
	// exitObserved closes as soon as the process exit is seen, before any
	// state transition is made for it. exitOnce guards the classification
	// of that exit: either Start (exit during startup) or the exit watcher
	// performs it, never both.
	exitObserved chan struct{}
	exitOnce     sync.Once
	// monitorStop tells the per-job health tick loop to wind down.
	monitorStop chan struct{}
	monitorOnce sync.Once
}

func newJob(id string, cfg ffmpeg.StreamConfig, destination string, autostart bool) *Job {
	return &Job{
		id:           id,
		config:       cfg,
		destination:  destination,
		state:        StateStarting,
		startedAt:    time.Now(),
		isAutostart:  autostart,
		runningCh:    make(chan struct{}),
		startSettled: make(chan struct{}),
		exitObserved: make(chan struct{}),
		monitorStop:  make(chan struct{}),
	}
}

// signalRunning marks that the relay has produced real progress.
func (j *Job) signalRunning() {
	j.runningOnce.Do(func() {
		close(j.runningCh)
	})
}

// stopMonitor winds down the health tick loop. Safe to call repeatedly.
func (j *Job) stopMonitor() {
	j.monitorOnce.Do(func() {
		close(j.monitorStop)
	})
}

// applyProgress folds a parsed status line into the job's metrics. The frame
// observation time only advances when the frame number does, which is what
// the stuck-frame wall clock keys off.
func (j *Job) applyProgress(u ffmpeg.MetricUpdate) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if u.HasFPS {
		j.metrics.FPS = u.FPS
	}
	if u.HasSize {
		if !j.haveInitialSize {
			j.initialSize = u.Size
			j.haveInitialSize = true
		}
		j.metrics.Size = u.Size
	}
	if u.HasOutTime {
		j.metrics.ElapsedTime = u.OutTime
	}
	if u.HasBitrate {
		j.metrics.Bitrate = u.Bitrate
	}
	if u.HasSpeed {
		j.metrics.Speed = u.Speed
	}
	if u.HasFrame {
		if u.Frame != j.metrics.LastFrame || j.metrics.LastFrameAt.IsZero() {
			j.metrics.LastFrame = u.Frame
			j.metrics.LastFrameAt = time.Now()
		}
	}
}

// appendOutput keeps a bounded tail of non-progress process output for
// diagnostics.
func (j *Job) appendOutput(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.outputTail = append(j.outputTail, line)
	if len(j.outputTail) > outputTailSize {
		j.outputTail = j.outputTail[len(j.outputTail)-outputTailSize:]
	}
}

// snapshot builds a JobStatus under the job lock.
func (j *Job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	destination := j.destination
	if j.config.StreamKey != "" {
		destination = strings.Replace(destination, j.config.StreamKey, "xxxxx", 1)
	}

	status := JobStatus{
		ID:          j.id,
		Camera:      j.config.Camera,
		State:       j.state,
		Source:      cameras.RedactURI(j.config.Source),
		Destination: destination,
		Platform:    j.config.Platform,
		Autostart:   j.isAutostart,
		Metrics:     j.metrics,
		Anomalies:   j.counters,
		StartedAt:   j.startedAt,
		Error:       j.errorMessage,
	}
	if j.handle != nil {
		status.PID = j.handle.PID()
	}
	if !j.endedAt.IsZero() {
		ended := j.endedAt
		status.EndedAt = &ended
	}
	if !j.lastRestartAt.IsZero() {
		restarted := j.lastRestartAt
		status.LastRestartAt = &restarted
	}
	return status
}

// outputSnapshot copies the diagnostics tail under the job lock.
func (j *Job) outputSnapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	tail := make([]string, len(j.outputTail))
	copy(tail, j.outputTail)
	return tail
}
