// Package updater swaps the running binary for a newer GitHub release and
// keeps one backup generation around so a bad build can be rolled back.
package updater

import (
	"context"
	"time"
)

// State tracks where an update attempt is in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateAvailable   State = "available"
	StateDownloading State = "downloading"
	StateApplying    State = "applying"
	StateRestarting  State = "restarting"
	StateError       State = "error"
	StateRolledBack  State = "rolled_back"
)

// Service is the update surface exposed to the API and CLI.
type Service interface {
	// CheckForUpdate asks the release source for the newest version without
	// downloading anything.
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)

	// ApplyUpdate backs up the current binary, swaps in the newest release
	// and signals the process to restart.
	ApplyUpdate(ctx context.Context) error

	// Rollback restores the backed-up binary and signals a restart.
	Rollback(ctx context.Context) error

	// Restart signals a restart without touching the binary.
	Restart(ctx context.Context) error

	// GetStatus reports the current state, versions and backup availability.
	GetStatus(ctx context.Context) *Status

	// IsEnabled is false when the binary location is not writable.
	IsEnabled() bool

	// DisabledReason explains a false IsEnabled, empty otherwise.
	DisabledReason() string
}

// UpdateInfo describes the newest known release relative to the running build.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes"`
	ReleaseURL      string    `json:"release_url"`
	PublishedAt     time.Time `json:"published_at"`
	AssetSize       int       `json:"asset_size"`
	UpdateAvailable bool      `json:"update_available"`
}

// Status is a snapshot of the updater's state machine.
type Status struct {
	State           State      `json:"state"`
	CurrentVersion  string     `json:"current_version"`
	TargetVersion   string     `json:"target_version,omitempty"`
	Error           string     `json:"error,omitempty"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	BackupAvailable bool       `json:"backup_available"`
	BackupVersion   string     `json:"backup_version,omitempty"`
}

// Options configures NewService.
type Options struct {
	// Repository is the GitHub owner/name slug releases are pulled from.
	Repository string
	// Prerelease lets prerelease tags win the version comparison.
	Prerelease bool
	// ActiveJobs, when set, reports how many relays are live so apply and
	// restart can log what the coming process exit takes down.
	ActiveJobs func() int
}
