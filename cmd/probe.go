package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/diagnostics"
	"github.com/smazurov/relayd/internal/discovery"
	"github.com/smazurov/relayd/internal/logging"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var camerasFile string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <camera|uri>",
		Short: "Probe a camera or stream URI",
		Long: `Checks DNS, TCP and HTTPS reachability of a camera (by registry name) or an ` +
			`explicit URI. RTSP targets also get a DESCRIBE probe that reports which path ` +
			`variant answered and whether the stream announces an audio track.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			target := args[0]

			// Keep the module loggers quiet so the tables stay readable.
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			cam, endpoint, err := resolveProbeTarget(target, camerasFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			report := diagnostics.TestEndpoint(ctx, cam.Name, endpoint)

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Check", "Target", "Status", "Detail", "Latency")
			for _, check := range report.Checks {
				status := "OK"
				detail := check.Detail
				if !check.OK {
					status = "FAIL"
					detail = check.Error
				}
				table.Append(check.Name, check.Target, status, detail,
					fmt.Sprintf("%dms", check.LatencyMS))
			}
			table.Render()

			healthy := report.Healthy

			if strings.HasPrefix(endpoint, "rtsp://") {
				resolver := discovery.NewResolver(discovery.WithTimeout(timeout))
				probe := resolver.TestConnection(ctx, cam)

				fmt.Println()
				rtspTable := tablewriter.NewWriter(os.Stdout)
				rtspTable.Header("Field", "Value")
				rtspTable.Append("URI", probe.URI)
				rtspTable.Append("Variant", string(probe.Capability))
				rtspTable.Append("Reachable", strconv.FormatBool(probe.Reachable))
				rtspTable.Append("Audio Track", strconv.FormatBool(probe.HasAudio))
				if probe.Error != "" {
					rtspTable.Append("Error", probe.Error)
				}
				rtspTable.Render()

				healthy = healthy && probe.Reachable
			}

			if !healthy {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&camerasFile, "cameras", "cameras.toml", "Path to camera registry file")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Overall probe timeout")

	return cmd
}

// resolveProbeTarget turns the CLI argument into a camera config plus the
// endpoint to check: a registry lookup for bare names, URI decomposition
// otherwise. Non-RTSP URIs keep their original form and only get the
// network checks.
func resolveProbeTarget(target, camerasFile string) (cameras.CameraConfig, string, error) {
	if !strings.Contains(target, "://") {
		registry := cameras.NewTOML(camerasFile)
		if err := registry.Load(); err != nil {
			return cameras.CameraConfig{}, "", fmt.Errorf("failed to load camera registry: %w", err)
		}
		cam, ok := registry.GetCamera(target)
		if !ok {
			return cameras.CameraConfig{}, "", fmt.Errorf("camera %q not found in %s", target, camerasFile)
		}
		return cam, cam.RTSPURL(), nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return cameras.CameraConfig{}, "", fmt.Errorf("invalid URI: %w", err)
	}
	if u.Hostname() == "" {
		return cameras.CameraConfig{}, "", fmt.Errorf("URI %q has no host", target)
	}

	cam := cameras.CameraConfig{
		Name: u.Hostname(),
		Host: u.Hostname(),
		Path: strings.TrimPrefix(u.Path, "/"),
	}
	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cam.Port = n
		}
	}
	if u.User != nil {
		cam.Username = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			cam.Password = pass
		}
	}
	return cam, target, nil
}
