package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/config"
	"github.com/smazurov/relayd/internal/discovery"
	"github.com/smazurov/relayd/internal/events"
	"github.com/smazurov/relayd/internal/logging"
	"github.com/smazurov/relayd/internal/relay"
	"github.com/spf13/cobra"
)

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	var configFile string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "run <camera>",
		Short: "Relay a single camera in the foreground",
		Long: `Starts one relay job for a registered camera and keeps it in the foreground ` +
			`until interrupted. Health monitoring applies; cameras marked autostart also get ` +
			`crash recovery with backoff.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			name := args[0]

			loggingConfig := config.LoadLoggingConfig(configFile)
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("run").With("camera", name)

			settings, err := config.LoadSettings(configFile)
			if err != nil {
				logger.Error("Failed to load settings", "error", err)
				os.Exit(1)
			}

			registry := cameras.NewTOML(settings.Cameras.File)
			if err := registry.Load(); err != nil {
				logger.Error("Failed to load camera registry", "error", err)
				os.Exit(1)
			}

			bus := events.New()
			supervisor := relay.NewSupervisor(relay.Options{
				Config:   relay.FromSettings(settings),
				Registry: registry,
				Resolver: discovery.NewResolver(),
				Bus:      bus,
			})
			defer supervisor.Close()

			// Watch for the job reaching a terminal state before hooking
			// the camera up, so no transition is missed.
			stateCh := make(chan any, 16)
			unsubState := events.SubscribeToChannel[events.JobStateChangedEvent](bus, stateCh)
			defer unsubState()
			abandonCh := make(chan any, 1)
			unsubAbandon := events.SubscribeToChannel[events.AutostartAbandonedEvent](bus, abandonCh)
			defer unsubAbandon()

			status, err := supervisor.StartCamera(context.Background(), name)
			if err != nil {
				logger.Error("Failed to start relay", "error", err)
				os.Exit(1)
			}
			logger.Info("Relay running",
				"job", status.ID, "pid", status.PID, "destination", status.Destination)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-sig:
					logger.Info("Interrupted, stopping relay")
					ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					supervisor.StopAll(ctx)
					cancel()
					return

				case <-abandonCh:
					logger.Error("Recovery budget exhausted, giving up")
					os.Exit(1)

				case ev := <-stateCh:
					change, ok := ev.(events.JobStateChangedEvent)
					if !ok || change.Camera != name {
						continue
					}
					switch change.To {
					case string(relay.StateErrored):
						if status.Autostart {
							// Recovery owns errored autostart jobs.
							logger.Warn("Relay failed, recovery scheduled", "reason", change.Reason)
							continue
						}
						logger.Error("Relay failed", "reason", change.Reason)
						os.Exit(1)
					case string(relay.StateIdle):
						logger.Info("Relay stopped")
						return
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
