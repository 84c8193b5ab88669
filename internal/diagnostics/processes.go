// Package diagnostics provides on-demand introspection for the relay
// fleet: process enumeration with orphan detection, endpoint connectivity
// probes, and failure classification of raw ffmpeg output. Nothing here
// runs on the job hot path.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/smazurov/relayd/internal/logging"
)

// ProcessInfo describes one transcoder process found on the host.
type ProcessInfo struct {
	PID       int32   `json:"pid" doc:"OS process id"`
	JobID     string  `json:"job_id,omitempty" doc:"Owning job, when tracked"`
	Tracked   bool    `json:"tracked" doc:"Whether the supervisor owns this process"`
	CPU       float64 `json:"cpu_percent" doc:"CPU usage percent"`
	MemoryMB  float64 `json:"memory_mb" doc:"Resident set size in MiB"`
	UptimeSec int64   `json:"uptime_sec" doc:"Seconds since the process started"`
	Command   string  `json:"command" doc:"Command line with credentials masked"`
}

// ProcessReport summarizes every transcoder process on the host,
// cross-referenced against the supervisor's registry.
type ProcessReport struct {
	Binary    string        `json:"binary" doc:"Process name being matched"`
	Total     int           `json:"total" doc:"Matching processes found"`
	Tracked   int           `json:"tracked" doc:"Processes owned by the supervisor"`
	Orphaned  int           `json:"orphaned" doc:"Matching processes nobody owns"`
	Processes []ProcessInfo `json:"processes" doc:"Per-process detail"`
	Timestamp time.Time     `json:"timestamp" doc:"When the report was taken"`
}

// CleanupReport lists the orphans a cleanup pass terminated.
type CleanupReport struct {
	KilledPIDs []int32  `json:"killed_pids" doc:"Orphan processes terminated"`
	Errors     []string `json:"errors,omitempty" doc:"Per-process failures, if any"`
}

// Collector inspects host processes that match the transcoder binary.
type Collector struct {
	binary string
	logger *slog.Logger
}

// NewCollector creates a collector matching processes whose name equals the
// base name of ffmpegPath.
func NewCollector(ffmpegPath string) *Collector {
	binary := filepath.Base(ffmpegPath)
	if binary == "." || binary == "" {
		binary = "ffmpeg"
	}
	return &Collector{
		binary: binary,
		logger: logging.GetLogger("diagnostics"),
	}
}

// Processes enumerates matching OS processes and marks each one tracked or
// orphaned using the supervisor's pid map. Per-process stat failures are
// tolerated; the process still appears with zeroed fields.
func (c *Collector) Processes(ctx context.Context, tracked map[int]string) (*ProcessReport, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	report := &ProcessReport{
		Binary:    c.binary,
		Processes: []ProcessInfo{},
		Timestamp: time.Now().UTC(),
	}
	self := int32(os.Getpid())

	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name != c.binary {
			continue
		}

		info := ProcessInfo{PID: p.Pid}
		info.JobID, info.Tracked = tracked[int(p.Pid)]

		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPU = cpu
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			info.MemoryMB = float64(mi.RSS) / (1024 * 1024)
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
			info.UptimeSec = int64(time.Since(time.UnixMilli(created)).Seconds())
		}
		if args, err := p.CmdlineSliceWithContext(ctx); err == nil {
			info.Command = strings.Join(scrubArgs(args), " ")
		}

		report.Processes = append(report.Processes, info)
		report.Total++
		if info.Tracked {
			report.Tracked++
		} else {
			report.Orphaned++
		}
	}
	return report, nil
}

// orphanKillGrace is how long an orphan gets to exit on SIGTERM before it
// is killed outright.
const orphanKillGrace = 2 * time.Second

// CleanupOrphans terminates every matching process the supervisor does not
// own. Each orphan gets a graceful terminate first, then a kill.
func (c *Collector) CleanupOrphans(ctx context.Context, tracked map[int]string) (*CleanupReport, error) {
	report, err := c.Processes(ctx, tracked)
	if err != nil {
		return nil, err
	}

	cleanup := &CleanupReport{KilledPIDs: []int32{}}
	for _, info := range report.Processes {
		if info.Tracked || info.PID <= 1 {
			continue
		}
		p, err := process.NewProcessWithContext(ctx, info.PID)
		if err != nil {
			continue
		}
		c.logger.Warn("Terminating orphaned transcoder process", "pid", info.PID, "command", info.Command)
		if err := c.terminate(ctx, p); err != nil {
			cleanup.Errors = append(cleanup.Errors, fmt.Sprintf("pid %d: %v", info.PID, err))
			continue
		}
		cleanup.KilledPIDs = append(cleanup.KilledPIDs, info.PID)
	}
	return cleanup, nil
}

func (c *Collector) terminate(ctx context.Context, p *process.Process) error {
	if err := p.TerminateWithContext(ctx); err != nil {
		return p.KillWithContext(ctx)
	}

	deadline := time.Now().Add(orphanKillGrace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return p.KillWithContext(ctx)
}

// scrubArgs masks credentials embedded in command line arguments: userinfo
// passwords in any URL, and the trailing stream key segment of RTMP URLs.
func scrubArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = scrubArg(arg)
	}
	return out
}

func scrubArg(arg string) string {
	if !strings.Contains(arg, "://") {
		return arg
	}
	u, err := url.Parse(arg)
	if err != nil {
		return arg
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	if u.Scheme == "rtmp" || u.Scheme == "rtmps" {
		trimmed := strings.Trim(u.Path, "/")
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
			u.Path = "/" + trimmed[:idx+1] + "xxxxx"
		}
	}
	return u.String()
}
