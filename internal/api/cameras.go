package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relayd/internal/api/models"
	"github.com/smazurov/relayd/internal/cameras"
)

// registerCameraRoutes registers the camera registry endpoints
func (s *Server) registerCameraRoutes() {
	// List cameras
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "Get all registered cameras, sorted by name",
		Tags:        []string{"cameras"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.CameraListResponse, error) {
		cams := s.registry.ListCameras()
		apiCams := make([]models.CameraData, len(cams))
		for i, cam := range cams {
			apiCams[i] = cameraToAPI(cam)
		}

		return &models.CameraListResponse{
			Body: models.CameraListData{
				Cameras: apiCams,
				Count:   len(apiCams),
			},
		}, nil
	})

	// Get camera
	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{name}",
		Summary:     "Get Camera",
		Description: "Get a registered camera by name",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		Name string `path:"name" example:"porch" doc:"Camera name"`
	}) (*models.CameraResponse, error) {
		cam, ok := s.registry.GetCamera(input.Name)
		if !ok {
			return nil, huma.Error404NotFound("camera " + input.Name + " not found")
		}

		return &models.CameraResponse{Body: cameraToAPI(cam)}, nil
	})

	// Register camera
	huma.Register(s.api, huma.Operation{
		OperationID: "add-camera",
		Method:      http.MethodPost,
		Path:        "/api/cameras",
		Summary:     "Add Camera",
		Description: "Register a new camera and persist it to the registry file",
		Tags:        []string{"cameras"},
		Errors:      []int{400, 401, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraRequest) (*models.CameraResponse, error) {
		cam := apiToCamera(input.Body)
		if err := s.registry.AddCamera(cam); err != nil {
			return nil, mapRegistryError(err)
		}

		stored, _ := s.registry.GetCamera(cam.Name)
		return &models.CameraResponse{Body: cameraToAPI(stored)}, nil
	})

	// Update camera
	huma.Register(s.api, huma.Operation{
		OperationID: "update-camera",
		Method:      http.MethodPut,
		Path:        "/api/cameras/{name}",
		Summary:     "Update Camera",
		Description: "Update a registered camera's configuration",
		Tags:        []string{"cameras"},
		Errors:      []int{400, 401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		Name string `path:"name" example:"porch" doc:"Camera name"`
		Body models.CameraRequestData
	}) (*models.CameraResponse, error) {
		cam := apiToCamera(input.Body)
		if err := s.registry.UpdateCamera(input.Name, cam); err != nil {
			return nil, mapRegistryError(err)
		}

		stored, _ := s.registry.GetCamera(input.Name)
		return &models.CameraResponse{Body: cameraToAPI(stored)}, nil
	})

	// Remove camera
	huma.Register(s.api, huma.Operation{
		OperationID: "remove-camera",
		Method:      http.MethodDelete,
		Path:        "/api/cameras/{name}",
		Summary:     "Remove Camera",
		Description: "Remove a camera from the registry. Running jobs for it are not stopped.",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		Name string `path:"name" example:"porch" doc:"Camera name"`
	}) (*struct{}, error) {
		if err := s.registry.RemoveCamera(input.Name); err != nil {
			return nil, mapRegistryError(err)
		}

		return &struct{}{}, nil
	})
}

// cameraToAPI converts a registry camera to API camera data. Passwords and
// stream keys stay server-side.
func cameraToAPI(cam cameras.CameraConfig) models.CameraData {
	return models.CameraData{
		Name:      cam.Name,
		Host:      cam.Host,
		Port:      cam.Port,
		Username:  cam.Username,
		Path:      cam.Path,
		Platform:  cam.Platform,
		ServerURL: cam.ServerURL,
		Autostart: cam.Autostart,
		StreamURI: cameras.RedactURI(cam.RTSPURL()),
		CreatedAt: cam.CreatedAt,
		UpdatedAt: cam.UpdatedAt,
	}
}

func apiToCamera(data models.CameraRequestData) cameras.CameraConfig {
	return cameras.CameraConfig{
		Name:       data.Name,
		Host:       data.Host,
		Port:       data.Port,
		Username:   data.Username,
		Password:   data.Password,
		Path:       data.Path,
		Platform:   data.Platform,
		StreamKeys: data.StreamKeys,
		ServerURL:  data.ServerURL,
		Autostart:  data.Autostart,
	}
}

// mapRegistryError maps registry errors to HTTP errors
func mapRegistryError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already exists"):
		return huma.Error409Conflict(msg, err)
	case strings.Contains(msg, "not found"):
		return huma.Error404NotFound(msg, err)
	case strings.Contains(msg, "cannot be empty"):
		return huma.Error400BadRequest(msg, err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
