package models

import "time"

// Update models
type UpdateCheckData struct {
	CurrentVersion  string    `json:"current_version" example:"1.2.0" doc:"Running version"`
	LatestVersion   string    `json:"latest_version" example:"1.3.0" doc:"Newest released version"`
	ReleaseNotes    string    `json:"release_notes" doc:"Markdown release notes"`
	ReleaseURL      string    `json:"release_url" doc:"Release page URL"`
	PublishedAt     time.Time `json:"published_at" doc:"Release publish time"`
	AssetSize       int       `json:"asset_size" example:"5242880" doc:"Download size in bytes"`
	UpdateAvailable bool      `json:"update_available" example:"true" doc:"Whether the release is newer than the running build"`
}

type UpdateCheckResponse struct {
	Body UpdateCheckData
}

type UpdateStatusData struct {
	State           string     `json:"state" example:"idle" doc:"Updater state"`
	CurrentVersion  string     `json:"current_version" example:"1.2.0" doc:"Running version"`
	TargetVersion   string     `json:"target_version,omitempty" example:"1.3.0" doc:"Version being applied"`
	Error           string     `json:"error,omitempty" doc:"Failure detail when state is error"`
	LastChecked     *time.Time `json:"last_checked,omitempty" doc:"Last release check"`
	BackupAvailable bool       `json:"backup_available" example:"true" doc:"Whether a rollback target exists"`
	BackupVersion   string     `json:"backup_version,omitempty" example:"1.1.0" doc:"Version of the backed-up binary"`
}

type UpdateStatusResponse struct {
	Body UpdateStatusData
}

// UpdateActionData acknowledges the mutating update endpoints; the process
// exits shortly after the response is sent.
type UpdateActionData struct {
	Message string `json:"message" example:"Update applied, restarting" doc:"Acknowledgement"`
}

type UpdateActionResponse struct {
	Body UpdateActionData
}
