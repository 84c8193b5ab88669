package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relayd/internal/api/models"
)

// registerPlatformRoutes registers the platform listing endpoint.
func (s *Server) registerPlatformRoutes() {
	// Get configured relay platforms
	huma.Register(s.api, huma.Operation{
		OperationID: "list-platforms",
		Method:      http.MethodGet,
		Path:        "/api/platforms",
		Summary:     "List Platforms",
		Description: "Get the configured relay platforms and their RTMP ingest URLs",
		Tags:        []string{"configuration"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.PlatformListResponse, error) {
		platforms := make([]models.PlatformData, 0, len(s.options.Platforms))
		for name, url := range s.options.Platforms {
			platforms = append(platforms, models.PlatformData{
				Name:      name,
				IngestURL: url,
			})
		}
		sort.Slice(platforms, func(i, j int) bool {
			return platforms[i].Name < platforms[j].Name
		})

		return &models.PlatformListResponse{
			Body: models.PlatformListData{
				Platforms: platforms,
				Count:     len(platforms),
			},
		}, nil
	})
}
