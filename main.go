package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/relayd/cmd"
	"github.com/smazurov/relayd/internal/api"
	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/config"
	"github.com/smazurov/relayd/internal/diagnostics"
	"github.com/smazurov/relayd/internal/discovery"
	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/logging"
	"github.com/smazurov/relayd/internal/relay"
	"github.com/smazurov/relayd/internal/updater"
	"github.com/smazurov/relayd/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Host string `help:"Interface to bind" default:"0.0.0.0" toml:"server.host" env:"SERVER_HOST"`
	Port int    `help:"Port to listen on" short:"p" default:"8554" toml:"server.port" env:"SERVER_PORT"`

	// Camera registry
	CamerasFile string `help:"Camera registry file" default:"cameras.toml" toml:"cameras.file" env:"CAMERAS_FILE"`

	// Auth settings. Both empty disables authentication entirely.
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Self-update settings
	UpdateEnabled    bool   `help:"Enable the self-update service" default:"true" toml:"update.enabled" env:"UPDATE_ENABLED"`
	UpdateRepository string `help:"GitHub repository for updates" default:"smazurov/relayd" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prerelease builds" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRelay     string `help:"Relay supervisor logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingProcess   string `help:"Process manager logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingFFmpeg    string `help:"FFmpeg output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingDiscovery string `help:"Camera discovery logging level" default:"info" toml:"logging.discovery" env:"LOGGING_DISCOVERY"`
	LoggingDiag      string `help:"Diagnostics logging level" default:"info" toml:"logging.diagnostics" env:"LOGGING_DIAGNOSTICS"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingUpdater   string `help:"Updater logging level" default:"info" toml:"logging.updater" env:"LOGGING_UPDATER"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"relay":       opts.LoggingRelay,
				"process":     opts.LoggingProcess,
				"ffmpeg":      opts.LoggingFFmpeg,
				"discovery":   opts.LoggingDiscovery,
				"diagnostics": opts.LoggingDiag,
				"api":         opts.LoggingAPI,
				"updater":     opts.LoggingUpdater,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Supervisor tuning comes from the same file as the CLI options
		// but carries the full nested schema.
		settings, err := config.LoadSettings(opts.Config)
		if err != nil {
			logger.Error("Invalid configuration", "path", opts.Config, "error", err)
			os.Exit(1)
		}
		// Options carry the flag/env/TOML-resolved value.
		settings.Cameras.File = opts.CamerasFile

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Camera registry backed by its own TOML file
		registry := cameras.NewTOML(settings.Cameras.File)
		if loadErr := registry.Load(); loadErr != nil {
			logger.Warn("Failed to load camera registry", "path", settings.Cameras.File, "error", loadErr)
		}

		resolver := discovery.NewResolver()

		supervisor := relay.NewSupervisor(relay.Options{
			Config:   relay.FromSettings(settings),
			Registry: registry,
			Resolver: resolver,
			Bus:      eventBus,
			Logger:   logging.GetLogger("relay"),
		})

		collector := diagnostics.NewCollector(settings.Supervisor.FFmpegPath)

		// Watch the camera file so external edits land without a restart.
		cameraWatcher := config.NewConfigWatcher(
			settings.Cameras.File,
			func(string) ([]cameras.CameraConfig, error) {
				if loadErr := registry.Load(); loadErr != nil {
					return nil, loadErr
				}
				return registry.ListCameras(), nil
			},
			logging.GetLogger("config"),
		)
		cameraWatcher.OnReload(func(list []cameras.CameraConfig) {
			for _, cam := range list {
				resolver.Invalidate(cam.Name)
			}
			eventBus.Publish(events.CameraRegistryReloadedEvent{
				Cameras:   len(list),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			logger.Info("Camera registry reloaded", "cameras", len(list))
		})

		var updateService updater.Service
		if opts.UpdateEnabled {
			svc, svcErr := updater.NewService(&updater.Options{
				Repository: opts.UpdateRepository,
				Prerelease: opts.UpdatePrerelease,
				ActiveJobs: func() int {
					active := 0
					for _, status := range supervisor.ListStatuses() {
						if status.State == relay.StateStarting || status.State == relay.StateRunning {
							active++
						}
					}
					return active
				},
			})
			if svcErr != nil {
				logger.Warn("Update service unavailable", "error", svcErr)
			} else {
				updateService = svc
			}
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Supervisor:        supervisor,
			Registry:          registry,
			Collector:         collector,
			Platforms:         settings.Platforms,
			EventBus:          eventBus,
			UpdateService:     updateService,
			PrometheusHandler: promhttp.Handler(),
		})

		hooks.OnStart(func() {
			logger.Info("Starting relayd", "build", version.Describe())

			if watchErr := cameraWatcher.Start(); watchErr != nil {
				logger.Warn("Camera file watching disabled", "error", watchErr)
			}

			started := supervisor.AutostartAll(context.Background())
			if started > 0 {
				logger.Info("Autostart complete", "jobs", started)
			}

			// Under systemd Type=notify this flips the unit to active;
			// elsewhere SdNotify is a no-op.
			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Warn("systemd readiness notification failed", "error", notifyErr)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			if startErr := server.Start(addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyStopping); notifyErr != nil {
				logger.Debug("systemd stop notification failed", "error", notifyErr)
			}

			if stopErr := cameraWatcher.Stop(); stopErr != nil {
				logger.Debug("Error stopping camera watcher", "error", stopErr)
			}

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Relays get the configured grace period to close their RTMP
			// sessions before the kill escalation.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			supervisor.StopAll(ctx)
			cancel()
			supervisor.Close()
		})
	})

	cli.Root().AddCommand(cmd.CreateRunCmd())
	cli.Root().AddCommand(cmd.CreateValidateCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateDiagCmd())
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	// Run the CLI
	cli.Run()
}
