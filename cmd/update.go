package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/smazurov/relayd/internal/updater"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var checkOnly bool
	var repository string
	var prerelease bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and apply binary updates",
		Long: `Checks GitHub releases for a newer build. With --check-only the command ` +
			`reports and exits; otherwise an available update is downloaded and applied ` +
			`in place.`,
		Run: func(_ *cobra.Command, _ []string) {
			svc, err := updater.NewService(&updater.Options{
				Repository: repository,
				Prerelease: prerelease,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to initialize updater: %v\n", err)
				os.Exit(1)
			}
			if !svc.IsEnabled() {
				fmt.Fprintf(os.Stderr, "Updates unavailable: %s\n", svc.DisabledReason())
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			info, err := svc.CheckForUpdate(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Update check failed: %v\n", err)
				os.Exit(1)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Field", "Value")
			table.Append("Current version", info.CurrentVersion)
			table.Append("Latest version", info.LatestVersion)
			if !info.PublishedAt.IsZero() {
				table.Append("Published", info.PublishedAt.Format("2006-01-02"))
			}
			if info.ReleaseURL != "" {
				table.Append("Release", info.ReleaseURL)
			}
			table.Render()

			if !info.UpdateAvailable {
				fmt.Println("Already up to date.")
				return
			}
			if checkOnly {
				fmt.Printf("Update available: %s\n", info.LatestVersion)
				return
			}

			// ApplyUpdate signals the process to restart once the binary is
			// swapped. In one-shot CLI use there is no service manager to
			// come back up, so absorb the signal and report instead.
			restart := make(chan os.Signal, 1)
			signal.Notify(restart, syscall.SIGTERM)

			fmt.Printf("Applying update %s -> %s ...\n", info.CurrentVersion, info.LatestVersion)
			if err := svc.ApplyUpdate(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
				os.Exit(1)
			}

			select {
			case <-restart:
			case <-time.After(2 * time.Second):
			}
			fmt.Printf("Updated to %s. Restart the daemon to run the new build.\n", info.LatestVersion)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "Report available updates without applying")
	cmd.Flags().StringVar(&repository, "repository", "smazurov/relayd", "GitHub repository to update from")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Include prerelease builds")

	return cmd
}
