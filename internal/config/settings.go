package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Settings is the daemon configuration file schema. Every duration knob is
// expressed in the unit its name carries so the TOML stays plain numbers.
type Settings struct {
	Server     ServerSettings     `toml:"server"`
	Supervisor SupervisorSettings `toml:"supervisor"`
	Monitor    MonitorSettings    `toml:"monitor"`
	Autostart  AutostartSettings  `toml:"autostart"`
	Platforms  map[string]string  `toml:"platforms"`
	Cameras    CamerasSettings    `toml:"cameras"`
}

// ServerSettings configures the HTTP API listener.
type ServerSettings struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// SupervisorSettings configures job lifecycle handling.
type SupervisorSettings struct {
	FFmpegPath      string `toml:"ffmpeg_path"`
	StartTimeoutSec int    `toml:"start_timeout_sec"`
	StopGraceSec    int    `toml:"stop_grace_sec"`
	RestartDelayMS  int    `toml:"restart_delay_ms"`
}

// MonitorSettings configures health evaluation. These numbers are policy,
// tuned for typical IP camera feeds.
type MonitorSettings struct {
	IntervalSec        int     `toml:"interval_sec"`
	MinFPS             float64 `toml:"min_fps"`
	FPSWarmupSec       int     `toml:"fps_warmup_sec"`
	SpeedCeiling       float64 `toml:"speed_ceiling"`
	SpeedTicks         int     `toml:"speed_ticks"`
	StuckTicks         int     `toml:"stuck_ticks"`
	StuckWindowSec     int     `toml:"stuck_window_sec"`
	NoProgressSec      int     `toml:"no_progress_sec"`
	RestartCooldownSec int     `toml:"restart_cooldown_sec"`
}

// AutostartSettings configures automatic recovery of autostarted jobs.
type AutostartSettings struct {
	BackoffBaseMS    int `toml:"backoff_base_ms"`
	BackoffCapSec    int `toml:"backoff_cap_sec"`
	MaxRetries       int `toml:"max_retries"`
	SweepIntervalSec int `toml:"sweep_interval_sec"`
	StaleAfterSec    int `toml:"stale_after_sec"`
}

// CamerasSettings locates the camera registry file.
type CamerasSettings struct {
	File string `toml:"file"`
}

// DefaultSettings returns the built-in defaults applied before any file is read.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 8554,
		},
		Supervisor: SupervisorSettings{
			FFmpegPath:      "ffmpeg",
			StartTimeoutSec: 10,
			StopGraceSec:    5,
			RestartDelayMS:  500,
		},
		Monitor: MonitorSettings{
			IntervalSec:        30,
			MinFPS:             7,
			FPSWarmupSec:       60,
			SpeedCeiling:       5.0,
			SpeedTicks:         2,
			StuckTicks:         3,
			StuckWindowSec:     60,
			NoProgressSec:      120,
			RestartCooldownSec: 60,
		},
		Autostart: AutostartSettings{
			BackoffBaseMS:    1000,
			BackoffCapSec:    30,
			MaxRetries:       5,
			SweepIntervalSec: 60,
			StaleAfterSec:    300,
		},
		Platforms: map[string]string{
			"youtube": "rtmp://a.rtmp.youtube.com/live2",
			"twitch":  "rtmp://live.twitch.tv/app",
		},
		Cameras: CamerasSettings{
			File: "cameras.toml",
		},
	}
}

// LoadSettings reads the TOML settings file over the defaults. A missing file
// is not an error; a malformed one is.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := toml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Platform overlays replace entries, never the whole default table.
	defaults := DefaultSettings()
	if settings.Platforms == nil {
		settings.Platforms = defaults.Platforms
	} else {
		for name, url := range defaults.Platforms {
			if _, ok := settings.Platforms[name]; !ok {
				settings.Platforms[name] = url
			}
		}
	}

	return settings, nil
}
