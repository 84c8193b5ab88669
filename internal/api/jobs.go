package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relayd/internal/api/models"
	"github.com/smazurov/relayd/internal/diagnostics"
	"github.com/smazurov/relayd/internal/ffmpeg"
	"github.com/smazurov/relayd/internal/relay"
)

// registerJobRoutes registers all relay job endpoints
func (s *Server) registerJobRoutes() {
	// List jobs
	huma.Register(s.api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List Jobs",
		Description: "Get a list of all relay jobs, including finished and errored ones",
		Tags:        []string{"jobs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.JobListResponse, error) {
		jobs := s.supervisor.ListStatuses()
		return &models.JobListResponse{
			Body: models.JobListData{
				Jobs:  jobs,
				Count: len(jobs),
			},
		}, nil
	})

	// Start a job
	huma.Register(s.api, huma.Operation{
		OperationID: "start-job",
		Method:      http.MethodPost,
		Path:        "/api/jobs",
		Summary:     "Start Job",
		Description: "Start a relay job for a registered camera, or from an inline stream configuration",
		Tags:        []string{"jobs"},
		Errors:      []int{400, 401, 404, 409, 500, 502, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StartJobRequest) (*models.JobResponse, error) {
		var status relay.JobStatus
		var err error

		if input.Body.Camera != "" {
			status, err = s.supervisor.StartCamera(ctx, input.Body.Camera)
		} else {
			// Inline jobs carry no camera name; the supervisor labels
			// them job-1, job-2 and so on.
			cfg := ffmpeg.StreamConfig{
				Source:      input.Body.Source,
				Platform:    input.Body.Platform,
				StreamKey:   input.Body.StreamKey,
				ServerURL:   input.Body.ServerURL,
				SilentAudio: input.Body.SilentAudio,
				ExtraArgs:   input.Body.ExtraArgs,
			}
			status, err = s.supervisor.Start(ctx, cfg, false)
		}
		if err != nil {
			return nil, mapRelayError(err)
		}

		return &models.JobResponse{Body: status}, nil
	})

	// Get job details
	huma.Register(s.api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{job_id}",
		Summary:     "Get Job",
		Description: "Get the current status of a relay job",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id" example:"porch-1" doc:"Job identifier"`
	}) (*models.JobResponse, error) {
		status, err := s.supervisor.GetStatus(input.JobID)
		if err != nil {
			return nil, mapRelayError(err)
		}

		return &models.JobResponse{Body: status}, nil
	})

	// Stop job
	huma.Register(s.api, huma.Operation{
		OperationID: "stop-job",
		Method:      http.MethodDelete,
		Path:        "/api/jobs/{job_id}",
		Summary:     "Stop Job",
		Description: "Stop a running relay job",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id" example:"porch-1" doc:"Job identifier"`
	}) (*struct{}, error) {
		if err := s.supervisor.Stop(input.JobID); err != nil {
			return nil, mapRelayError(err)
		}

		return &struct{}{}, nil
	})

	// Restart job
	huma.Register(s.api, huma.Operation{
		OperationID: "restart-job",
		Method:      http.MethodPost,
		Path:        "/api/jobs/{job_id}/restart",
		Summary:     "Restart Job",
		Description: "Restart a relay job, replacing it with a fresh process under a new job ID",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404, 409, 500, 502, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id" example:"porch-1" doc:"Job identifier"`
	}) (*models.JobResponse, error) {
		status, err := s.supervisor.Restart(ctx, input.JobID)
		if err != nil {
			return nil, mapRelayError(err)
		}

		return &models.JobResponse{Body: status}, nil
	})

	// Job diagnostics
	huma.Register(s.api, huma.Operation{
		OperationID: "get-job-diagnostics",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{job_id}/diagnostics",
		Summary:     "Job Diagnostics",
		Description: "Classify a job's failure from its retained output and return operator guidance",
		Tags:        []string{"jobs", "diagnostics"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id" example:"porch-3" doc:"Job identifier"`
	}) (*models.JobDiagnosticsResponse, error) {
		status, err := s.supervisor.GetStatus(input.JobID)
		if err != nil {
			return nil, mapRelayError(err)
		}
		tail, err := s.supervisor.JobOutput(input.JobID)
		if err != nil {
			return nil, mapRelayError(err)
		}

		category := diagnostics.Classify(status.Error + "\n" + strings.Join(tail, "\n"))
		return &models.JobDiagnosticsResponse{
			Body: models.JobDiagnosticsData{
				JobID:      status.ID,
				State:      string(status.State),
				Error:      status.Error,
				Category:   category,
				Hint:       diagnostics.Hint(category),
				OutputTail: tail,
			},
		}, nil
	})
}

// mapRelayError maps supervisor errors to HTTP errors
func mapRelayError(err error) error {
	msg := err.Error()
	switch relay.ErrorCode(err) {
	case relay.ErrCodeInvalidConfig:
		return huma.Error400BadRequest(msg, err)
	case relay.ErrCodeCameraNotFound, relay.ErrCodeJobNotFound:
		return huma.Error404NotFound(msg, err)
	case relay.ErrCodeRestartInProgress:
		return huma.Error409Conflict(msg, err)
	case relay.ErrCodeStartTimeout:
		return huma.Error504GatewayTimeout(msg, err)
	case relay.ErrCodeProcessExit:
		return huma.Error502BadGateway(msg, err)
	case relay.ErrCodeMonitorFailure:
		return huma.Error500InternalServerError(msg, err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
