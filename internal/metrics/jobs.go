// Package metrics provides Prometheus metrics for relay jobs.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayd",
		Subsystem: "job",
		Name:      "fps",
		Help:      "Current relay throughput in frames per second",
	}, []string{"camera"})

	jobSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayd",
		Subsystem: "job",
		Name:      "processing_speed",
		Help:      "Relay processing speed multiplier",
	}, []string{"camera"})

	jobLastFrame = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayd",
		Subsystem: "job",
		Name:      "last_frame",
		Help:      "Most recent frame number reported by the relay",
	}, []string{"camera"})

	jobBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayd",
		Subsystem: "job",
		Name:      "bitrate_kbps",
		Help:      "Output bitrate the relay last reported",
	}, []string{"camera"})

	jobUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayd",
		Subsystem: "job",
		Name:      "up",
		Help:      "Whether the relay job is in the running state",
	}, []string{"camera"})

	jobRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayd",
		Subsystem: "job",
		Name:      "restarts_total",
		Help:      "Relay restarts by trigger",
	}, []string{"camera", "trigger"})

	monitorVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayd",
		Subsystem: "monitor",
		Name:      "verdicts_total",
		Help:      "Health evaluations by outcome",
	}, []string{"camera", "verdict"})

	// Local cache for status endpoints that want current values without
	// scraping the registry.
	jobCache   = make(map[string]*JobMetrics)
	jobCacheMu sync.RWMutex
)

// JobMetrics holds current metric values for one camera's relay.
type JobMetrics struct {
	FPS         float64
	Speed       float64
	BitrateKbps float64
	LastFrame   int64
	State       string
}

// SetJobFPS sets the current FPS for a camera's relay.
func SetJobFPS(camera string, fps float64) {
	jobFPS.WithLabelValues(camera).Set(fps)
	updateJobCache(camera, func(m *JobMetrics) { m.FPS = fps })
}

// SetJobSpeed sets the processing speed for a camera's relay.
func SetJobSpeed(camera string, speed float64) {
	jobSpeed.WithLabelValues(camera).Set(speed)
	updateJobCache(camera, func(m *JobMetrics) { m.Speed = speed })
}

// SetJobBitrate sets the output bitrate in kbps for a camera's relay.
func SetJobBitrate(camera string, kbps float64) {
	jobBitrate.WithLabelValues(camera).Set(kbps)
	updateJobCache(camera, func(m *JobMetrics) { m.BitrateKbps = kbps })
}

// SetJobLastFrame sets the most recent frame number for a camera's relay.
func SetJobLastFrame(camera string, frame int64) {
	jobLastFrame.WithLabelValues(camera).Set(float64(frame))
	updateJobCache(camera, func(m *JobMetrics) { m.LastFrame = frame })
}

// SetJobState records the job's lifecycle state. The up gauge reads 1 only
// while the job is running.
func SetJobState(camera, state string) {
	up := 0.0
	if state == "running" {
		up = 1.0
	}
	jobUp.WithLabelValues(camera).Set(up)
	updateJobCache(camera, func(m *JobMetrics) { m.State = state })
}

// IncJobRestart counts one restart of a camera's relay.
func IncJobRestart(camera, trigger string) {
	jobRestarts.WithLabelValues(camera, trigger).Inc()
}

// IncMonitorVerdict counts one health evaluation outcome.
func IncMonitorVerdict(camera, verdict string) {
	monitorVerdicts.WithLabelValues(camera, verdict).Inc()
}

// DeleteJobMetrics removes the gauges for a camera's relay. The restart and
// verdict counters are left alone so history survives job turnover.
func DeleteJobMetrics(camera string) {
	jobFPS.DeleteLabelValues(camera)
	jobSpeed.DeleteLabelValues(camera)
	jobBitrate.DeleteLabelValues(camera)
	jobLastFrame.DeleteLabelValues(camera)
	jobUp.DeleteLabelValues(camera)

	jobCacheMu.Lock()
	delete(jobCache, camera)
	jobCacheMu.Unlock()
}

// GetJobMetrics returns current metric values for a camera's relay.
func GetJobMetrics(camera string) *JobMetrics {
	jobCacheMu.RLock()
	defer jobCacheMu.RUnlock()
	if m, ok := jobCache[camera]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllJobMetrics returns metrics for all active relays.
func GetAllJobMetrics() map[string]*JobMetrics {
	jobCacheMu.RLock()
	defer jobCacheMu.RUnlock()
	result := make(map[string]*JobMetrics, len(jobCache))
	for camera, m := range jobCache {
		dup := *m
		result[camera] = &dup
	}
	return result
}

func updateJobCache(camera string, update func(*JobMetrics)) {
	jobCacheMu.Lock()
	defer jobCacheMu.Unlock()
	m, ok := jobCache[camera]
	if !ok {
		m = &JobMetrics{}
		jobCache[camera] = m
	}
	update(m)
}
