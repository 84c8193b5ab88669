package relay

import (
	"time"

	"github.com/smazurov/relayd/internal/config"
)

// Config carries the supervisor's tuning knobs with durations already
// resolved. Tests construct it directly; production wiring derives it from
// the settings file via FromSettings.
type Config struct {
	FFmpegPath   string
	StartTimeout time.Duration
	StopGrace    time.Duration
	RestartDelay time.Duration
	Platforms    map[string]string
	Monitor      MonitorConfig
	Autostart    AutostartConfig
}

// MonitorConfig tunes the health verdicts.
type MonitorConfig struct {
	Interval        time.Duration
	MinFPS          float64
	FPSWarmup       time.Duration
	SpeedCeiling    float64
	SpeedTicks      int
	StuckTicks      int
	StuckWindow     time.Duration
	NoProgress      time.Duration
	RestartCooldown time.Duration
}

// AutostartConfig tunes crash recovery for fleet-owned jobs.
type AutostartConfig struct {
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	MaxRetries    int
	SweepInterval time.Duration
	StaleAfter    time.Duration
}

// FromSettings converts the loaded settings into a supervisor config.
func FromSettings(s config.Settings) Config {
	return Config{
		FFmpegPath:   s.Supervisor.FFmpegPath,
		StartTimeout: time.Duration(s.Supervisor.StartTimeoutSec) * time.Second,
		StopGrace:    time.Duration(s.Supervisor.StopGraceSec) * time.Second,
		RestartDelay: time.Duration(s.Supervisor.RestartDelayMS) * time.Millisecond,
		Platforms:    s.Platforms,
		Monitor: MonitorConfig{
			Interval:        time.Duration(s.Monitor.IntervalSec) * time.Second,
			MinFPS:          s.Monitor.MinFPS,
			FPSWarmup:       time.Duration(s.Monitor.FPSWarmupSec) * time.Second,
			SpeedCeiling:    s.Monitor.SpeedCeiling,
			SpeedTicks:      s.Monitor.SpeedTicks,
			StuckTicks:      s.Monitor.StuckTicks,
			StuckWindow:     time.Duration(s.Monitor.StuckWindowSec) * time.Second,
			NoProgress:      time.Duration(s.Monitor.NoProgressSec) * time.Second,
			RestartCooldown: time.Duration(s.Monitor.RestartCooldownSec) * time.Second,
		},
		Autostart: AutostartConfig{
			BackoffBase:   time.Duration(s.Autostart.BackoffBaseMS) * time.Millisecond,
			BackoffCap:    time.Duration(s.Autostart.BackoffCapSec) * time.Second,
			MaxRetries:    s.Autostart.MaxRetries,
			SweepInterval: time.Duration(s.Autostart.SweepIntervalSec) * time.Second,
			StaleAfter:    time.Duration(s.Autostart.StaleAfterSec) * time.Second,
		},
	}
}
