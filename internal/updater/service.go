package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/relayd/internal/logging"
	"github.com/smazurov/relayd/internal/version"
)

// restartDelay gives the HTTP response time to flush before the process
// signals itself to exit.
const restartDelay = 500 * time.Millisecond

type service struct {
	repository selfupdate.Repository
	updater    *selfupdate.Updater
	backups    *backupManager
	activeJobs func() int

	mu            sync.RWMutex
	state         State
	latestRelease *selfupdate.Release
	lastChecked   *time.Time
	lastError     error

	enabled        bool
	disabledReason string

	logger *slog.Logger
}

// NewService builds the update service. When the installed binary cannot be
// replaced (read-only install, packaged deployments) the service comes up
// disabled instead of failing, so the rest of the daemon is unaffected.
func NewService(opts *Options) (Service, error) {
	logger := logging.GetLogger("updater")

	if ok, reason := binaryWritable(); !ok {
		logger.Warn("Update service disabled", "reason", reason)
		return &service{
			enabled:        false,
			disabledReason: reason,
			state:          StateIdle,
			activeJobs:     opts.ActiveJobs,
			logger:         logger,
		}, nil
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}

	u, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}

	backups, err := newBackupManager(logger)
	if err != nil {
		logger.Warn("Backups unavailable, updates will apply without rollback", "error", err)
	}

	return &service{
		repository: selfupdate.ParseSlug(opts.Repository),
		updater:    u,
		backups:    backups,
		activeJobs: opts.ActiveJobs,
		state:      StateIdle,
		enabled:    true,
		logger:     logger,
	}, nil
}

// binaryWritable probes whether the directory holding the executable accepts
// writes, which the swap requires.
func binaryWritable() (bool, string) {
	exe, err := os.Executable()
	if err != nil {
		return false, fmt.Sprintf("failed to get executable path: %v", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return false, fmt.Sprintf("failed to resolve symlinks: %v", err)
	}

	dir := filepath.Dir(exe)
	probe := filepath.Join(dir, ".relayd-writecheck")
	f, err := os.Create(probe)
	if err != nil {
		return false, fmt.Sprintf("no write permission to %s: %v", dir, err)
	}
	f.Close()
	os.Remove(probe)
	return true, ""
}

func (s *service) IsEnabled() bool { return s.enabled }

func (s *service) DisabledReason() string { return s.disabledReason }

// CheckForUpdate queries the release source and remembers the newest release
// for a later ApplyUpdate. A "dev" build always counts as outdated.
func (s *service) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	if !s.enabled {
		return nil, newError(ErrCodeDisabled, s.disabledReason, nil)
	}

	if !s.transitionTo(StateChecking, StateIdle, StateAvailable, StateError) {
		return nil, newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot check for updates in state %s", s.getState()), nil)
	}

	current := version.Version

	release, found, err := s.updater.DetectLatest(ctx, s.repository)
	if err != nil {
		s.setError(err)
		return nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.lastChecked = &now
	s.mu.Unlock()

	if !found {
		s.setError(fmt.Errorf("repository not found or has no releases"))
		return nil, newError(ErrCodeNotFound, "repository not found or has no releases", nil)
	}

	if current != "dev" && !release.GreaterThan(current) {
		s.transitionTo(StateIdle)
		return &UpdateInfo{
			CurrentVersion:  current,
			LatestVersion:   release.Version(),
			UpdateAvailable: false,
		}, nil
	}

	s.mu.Lock()
	s.latestRelease = release
	s.mu.Unlock()
	s.transitionTo(StateAvailable)

	return &UpdateInfo{
		CurrentVersion:  current,
		LatestVersion:   release.Version(),
		ReleaseNotes:    release.ReleaseNotes,
		ReleaseURL:      release.URL,
		PublishedAt:     release.PublishedAt,
		AssetSize:       release.AssetByteSize,
		UpdateAvailable: true,
	}, nil
}

// ApplyUpdate swaps the binary for the newest release and signals a restart.
// When the swap itself fails the backup is restored immediately.
func (s *service) ApplyUpdate(ctx context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}

	// From idle, run the check inline so a bare apply works.
	if s.getState() == StateIdle {
		info, err := s.CheckForUpdate(ctx)
		if err != nil {
			return err
		}
		if !info.UpdateAvailable {
			return newError(ErrCodeNoUpdate, "no update available", nil)
		}
	}

	if !s.transitionTo(StateDownloading, StateAvailable) {
		return newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot apply update in state %s", s.getState()), nil)
	}

	s.warnActiveRelays("update")

	if s.backups != nil {
		if err := s.backups.createBackup(); err != nil {
			s.setError(err)
			return newError(ErrCodeBackupFailed, "failed to create backup", err)
		}
	}

	s.transitionTo(StateApplying)

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		s.setError(err)
		s.rollbackAfterFailure()
		return newError(ErrCodeApplyFailed, "failed to get executable path", err)
	}

	s.mu.RLock()
	release := s.latestRelease
	s.mu.RUnlock()

	if err := s.updater.UpdateTo(ctx, release, exe); err != nil {
		s.setError(err)
		s.rollbackAfterFailure()
		return newError(ErrCodeApplyFailed, "failed to apply update", err)
	}

	s.transitionTo(StateRestarting)
	s.logger.Info("Update applied, triggering restart", "version", release.Version())
	s.scheduleRestart()
	return nil
}

// Rollback restores the previous binary and signals a restart.
func (s *service) Rollback(_ context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}

	if s.backups == nil || !s.backups.hasBackup() {
		return newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}

	if err := s.backups.restore(); err != nil {
		return newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}

	s.transitionTo(StateRolledBack)
	s.logger.Info("Rollback completed, triggering restart")
	s.scheduleRestart()
	return nil
}

// Restart signals a restart without touching the binary. Works even when
// updates are disabled, since exiting needs no write permission.
func (s *service) Restart(_ context.Context) error {
	s.warnActiveRelays("restart")
	s.logger.Info("Restart requested")
	s.scheduleRestart()
	return nil
}

// GetStatus snapshots the state machine for the API and CLI.
func (s *service) GetStatus(_ context.Context) *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &Status{
		State:          s.state,
		CurrentVersion: version.Version,
		LastChecked:    s.lastChecked,
	}
	if s.latestRelease != nil {
		status.TargetVersion = s.latestRelease.Version()
	}
	if s.lastError != nil {
		status.Error = s.lastError.Error()
	}
	if s.backups != nil {
		status.BackupAvailable = s.backups.hasBackup()
		status.BackupVersion = s.backups.backupVersion()
	}
	return status
}

// warnActiveRelays logs when an apply or restart is about to take running
// relays down with the process. Nothing is drained: autostart marks bring
// them back on the next boot.
func (s *service) warnActiveRelays(action string) {
	if s.activeJobs == nil {
		return
	}
	if n := s.activeJobs(); n > 0 {
		s.logger.Warn("Active relays go down with the process", "action", action, "jobs", n)
	}
}

func (s *service) transitionTo(next State, validFrom ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(validFrom) > 0 && !slices.Contains(validFrom, s.state) {
		return false
	}

	s.logger.Debug("State transition", "from", s.state, "to", next)
	s.state = next
	s.lastError = nil
	return true
}

func (s *service) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *service) setError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.state = StateError
	s.mu.Unlock()
}

// rollbackAfterFailure restores the backup when a swap died partway. Without
// a backup the binary stays in whatever state the failed update left it.
func (s *service) rollbackAfterFailure() {
	if s.backups == nil || !s.backups.hasBackup() {
		s.logger.Error("No backup available for automatic rollback")
		return
	}
	if err := s.backups.restore(); err != nil {
		s.logger.Error("Failed to restore backup", "error", err)
		return
	}
	s.transitionTo(StateRolledBack)
	s.logger.Info("Automatic rollback completed")
}

// scheduleRestart sends SIGTERM to the process after a short delay. Under
// systemd with Restart=always that exits into the new binary.
func (s *service) scheduleRestart() {
	go func() {
		time.Sleep(restartDelay)

		proc, err := os.FindProcess(os.Getpid())
		if err != nil {
			s.logger.Error("Failed to find own process", "error", err)
			return
		}
		s.logger.Info("Sending SIGTERM to trigger restart")
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			s.logger.Error("Failed to send SIGTERM", "error", err)
		}
	}()
}
