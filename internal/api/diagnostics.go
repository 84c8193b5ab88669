package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relayd/internal/api/models"
	"github.com/smazurov/relayd/internal/diagnostics"
)

// registerDiagnosticsRoutes registers connectivity probes and process
// inspection endpoints
func (s *Server) registerDiagnosticsRoutes() {
	// Connectivity test
	huma.Register(s.api, huma.Operation{
		OperationID: "test-connectivity",
		Method:      http.MethodPost,
		Path:        "/api/connectivity/test",
		Summary:     "Test Connectivity",
		Description: "Probe DNS, TCP and HTTPS reachability of a camera, a configured platform, or an explicit endpoint",
		Tags:        []string{"diagnostics"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ConnectivityRequest) (*models.ConnectivityResponse, error) {
		name, endpoint, err := s.resolveProbeTarget(input.Body)
		if err != nil {
			return nil, err
		}

		report := diagnostics.TestEndpoint(ctx, name, endpoint)
		return &models.ConnectivityResponse{Body: *report}, nil
	})

	// Process report
	huma.Register(s.api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/api/diagnostics/processes",
		Summary:     "List FFmpeg Processes",
		Description: "List all ffmpeg processes on the host, cross-referenced against supervised jobs",
		Tags:        []string{"diagnostics"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.ProcessReportResponse, error) {
		report, err := s.collector.Processes(ctx, s.supervisor.TrackedPIDs())
		if err != nil {
			return nil, huma.Error500InternalServerError("process scan failed", err)
		}

		return &models.ProcessReportResponse{Body: *report}, nil
	})

	// Orphan cleanup
	huma.Register(s.api, huma.Operation{
		OperationID: "cleanup-processes",
		Method:      http.MethodPost,
		Path:        "/api/diagnostics/processes/cleanup",
		Summary:     "Clean Up Orphans",
		Description: "Kill ffmpeg processes that no supervised job owns",
		Tags:        []string{"diagnostics"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.CleanupResponse, error) {
		report, err := s.collector.CleanupOrphans(ctx, s.supervisor.TrackedPIDs())
		if err != nil {
			return nil, huma.Error500InternalServerError("orphan cleanup failed", err)
		}

		return &models.CleanupResponse{Body: *report}, nil
	})
}

// resolveProbeTarget picks the probe endpoint from the request. An explicit
// endpoint wins, then a configured platform's ingest URL, then a registered
// camera's stream URI.
func (s *Server) resolveProbeTarget(req models.ConnectivityRequestData) (name, endpoint string, err error) {
	switch {
	case req.Endpoint != "":
		return "endpoint", req.Endpoint, nil

	case req.Platform != "":
		url, ok := s.options.Platforms[req.Platform]
		if !ok || url == "" {
			return "", "", huma.Error404NotFound("platform " + req.Platform + " is not configured")
		}
		return req.Platform, url, nil

	case req.Camera != "":
		cam, ok := s.registry.GetCamera(req.Camera)
		if !ok {
			return "", "", huma.Error404NotFound("camera " + req.Camera + " not found")
		}
		return req.Camera, cam.RTSPURL(), nil

	default:
		return "", "", huma.Error400BadRequest("one of camera, platform or endpoint is required")
	}
}
