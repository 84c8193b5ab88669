package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/smazurov/relayd/internal/config"
	"github.com/smazurov/relayd/internal/diagnostics"
	"github.com/smazurov/relayd/internal/logging"
	"github.com/spf13/cobra"
)

// CreateDiagCmd creates the diag command.
func CreateDiagCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Diagnose the relay host",
		Long: `Scans the host for ffmpeg processes and probes every configured platform's ` +
			`ingest endpoint. Runs against the live system without needing the daemon.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			settings, err := config.LoadSettings(configFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}

			ctx := context.Background()

			collector := diagnostics.NewCollector(settings.Supervisor.FFmpegPath)
			report, err := collector.Processes(ctx, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error: process scan failed:", err)
				os.Exit(1)
			}

			fmt.Printf("FFmpeg processes (%d found, binary %q)\n", report.Total, report.Binary)
			if report.Total > 0 {
				procTable := tablewriter.NewWriter(os.Stdout)
				procTable.Header("PID", "CPU %", "Mem MB", "Uptime", "Command")
				for _, proc := range report.Processes {
					procTable.Append(
						fmt.Sprintf("%d", proc.PID),
						fmt.Sprintf("%.1f", proc.CPU),
						fmt.Sprintf("%.0f", proc.MemoryMB),
						(time.Duration(proc.UptimeSec) * time.Second).String(),
						proc.Command,
					)
				}
				procTable.Render()
			}

			fmt.Println()
			fmt.Printf("Platform connectivity (%d configured)\n", len(settings.Platforms))

			names := make([]string, 0, len(settings.Platforms))
			for name := range settings.Platforms {
				names = append(names, name)
			}
			sort.Strings(names)

			connTable := tablewriter.NewWriter(os.Stdout)
			connTable.Header("Platform", "Endpoint", "DNS", "TCP", "HTTPS")
			allHealthy := true
			for _, name := range names {
				endpoint := settings.Platforms[name]
				pr := diagnostics.TestEndpoint(ctx, name, endpoint)
				connTable.Append(name, endpoint,
					checkCell(pr, "dns"), checkCell(pr, "tcp"), checkCell(pr, "https"))
				allHealthy = allHealthy && pr.Healthy
			}
			connTable.Render()

			if !allHealthy {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")

	return cmd
}

// checkCell renders one named check from a connectivity report.
func checkCell(report *diagnostics.ConnectivityReport, name string) string {
	for _, check := range report.Checks {
		if check.Name != name {
			continue
		}
		if check.OK {
			return fmt.Sprintf("OK (%dms)", check.LatencyMS)
		}
		return "FAIL: " + check.Error
	}
	return "-"
}
