package events

// Event type constants for kelindar/event.
const (
	TypeJobStarted uint32 = iota + 1
	TypeJobStateChanged
	TypeJobProgress
	TypeJobCrashed
	TypeJobUnhealthy
	TypeRestartScheduled
	TypeAutostartAbandoned
	TypeCameraRegistryReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// JobStartedEvent is published when a relay job reaches the running state.
type JobStartedEvent struct {
	JobID       string `json:"job_id" example:"porch-3" doc:"Job identifier"`
	Camera      string `json:"camera" example:"porch" doc:"Camera name"`
	PID         int    `json:"pid" example:"4242" doc:"FFmpeg process ID"`
	Destination string `json:"destination" example:"rtmp://a.rtmp.youtube.com/live2/****" doc:"Redacted destination URL"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobStartedEvent.
func (e JobStartedEvent) Type() uint32 { return TypeJobStarted }

// JobStateChangedEvent is published on every job state transition.
type JobStateChangedEvent struct {
	JobID     string `json:"job_id" example:"porch-3" doc:"Job identifier"`
	Camera    string `json:"camera" example:"porch" doc:"Camera name"`
	From      string `json:"from" example:"starting" doc:"Previous state"`
	To        string `json:"to" example:"running" doc:"New state"`
	Reason    string `json:"reason,omitempty" example:"first output received" doc:"Human-readable transition reason"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobStateChangedEvent.
func (e JobStateChangedEvent) Type() uint32 { return TypeJobStateChanged }

// JobProgressEvent carries the latest FFmpeg progress sample for a job.
type JobProgressEvent struct {
	EventType string  `json:"type"`
	JobID     string  `json:"job_id"`
	Camera    string  `json:"camera"`
	Frame     int64   `json:"frame"`
	FPS       float64 `json:"fps"`
	Bitrate   string  `json:"bitrate"`
	OutTime   string  `json:"out_time"`
	Speed     float64 `json:"speed"`
}

// Type returns the event type identifier for JobProgressEvent.
func (e JobProgressEvent) Type() uint32 { return TypeJobProgress }

// JobCrashedEvent is published when an FFmpeg process exits without being asked to.
type JobCrashedEvent struct {
	JobID     string `json:"job_id" example:"porch-3" doc:"Job identifier"`
	Camera    string `json:"camera" example:"porch" doc:"Camera name"`
	ExitCode  int    `json:"exit_code" example:"1" doc:"Process exit code"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobCrashedEvent.
func (e JobCrashedEvent) Type() uint32 { return TypeJobCrashed }

// JobUnhealthyEvent is published when the health monitor fails a running job.
type JobUnhealthyEvent struct {
	JobID     string `json:"job_id" example:"porch-3" doc:"Job identifier"`
	Camera    string `json:"camera" example:"porch" doc:"Camera name"`
	Reason    string `json:"reason" example:"fps 2.0 below floor 7.0" doc:"Monitor verdict"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobUnhealthyEvent.
func (e JobUnhealthyEvent) Type() uint32 { return TypeJobUnhealthy }

// RestartScheduledEvent is published when autostart recovery schedules a retry.
type RestartScheduledEvent struct {
	Camera    string `json:"camera" example:"porch" doc:"Camera name"`
	Attempt   int    `json:"attempt" example:"2" doc:"Retry attempt number"`
	DelayMS   int64  `json:"delay_ms" example:"2000" doc:"Backoff delay in milliseconds"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RestartScheduledEvent.
func (e RestartScheduledEvent) Type() uint32 { return TypeRestartScheduled }

// AutostartAbandonedEvent is published when recovery gives up on a camera.
type AutostartAbandonedEvent struct {
	Camera    string `json:"camera" example:"porch" doc:"Camera name"`
	Attempts  int    `json:"attempts" example:"5" doc:"Number of failed attempts"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for AutostartAbandonedEvent.
func (e AutostartAbandonedEvent) Type() uint32 { return TypeAutostartAbandoned }

// CameraRegistryReloadedEvent is published after the camera file is re-read.
type CameraRegistryReloadedEvent struct {
	Cameras   int    `json:"cameras" example:"4" doc:"Number of cameras in the registry"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraRegistryReloadedEvent.
func (e CameraRegistryReloadedEvent) Type() uint32 { return TypeCameraRegistryReloaded }
