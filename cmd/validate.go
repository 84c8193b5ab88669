package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/olekukonko/tablewriter"
	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/config"
	"github.com/smazurov/relayd/internal/ffmpeg"
	"github.com/spf13/cobra"
)

// CreateValidateCmd creates the validate command.
func CreateValidateCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and camera registry",
		Long: `Loads the daemon configuration and camera registry, builds the relay command ` +
			`for every camera, and reports which entries would fail to start. Nothing is ` +
			`launched; this is a dry run.`,
		Run: func(_ *cobra.Command, _ []string) {
			settings, err := config.LoadSettings(configFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Configuration OK (%s)\n", configFile)

			if _, err := exec.LookPath(settings.Supervisor.FFmpegPath); err != nil {
				fmt.Printf("ffmpeg binary: NOT FOUND (%q)\n", settings.Supervisor.FFmpegPath)
			} else {
				fmt.Printf("ffmpeg binary: %s\n", settings.Supervisor.FFmpegPath)
			}

			registry := cameras.NewTOML(settings.Cameras.File)
			if err := registry.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Camera registry invalid: %v\n", err)
				os.Exit(1)
			}

			list := registry.ListCameras()
			if len(list) == 0 {
				fmt.Printf("No cameras registered in %s\n", settings.Cameras.File)
				return
			}

			builder := ffmpeg.NewBuilder(settings.Platforms)
			allValid := true

			fmt.Printf("\nCameras (%d registered):\n", len(list))
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Camera", "Platform", "Autostart", "Status")
			for _, cam := range list {
				status := "OK"
				_, _, err := builder.Build(ffmpeg.StreamConfig{
					Camera:    cam.Name,
					Source:    cam.RTSPURL(),
					Platform:  cam.Platform,
					StreamKey: cam.KeyFor(cam.Platform),
					ServerURL: cam.ServerURL,
				})
				if err != nil {
					status = "INVALID: " + err.Error()
					allValid = false
				}
				table.Append(cam.Name, cam.Platform, fmt.Sprintf("%t", cam.Autostart), status)
			}
			table.Render()

			if !allValid {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")

	return cmd
}
