package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/relayd/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	// Register SSE endpoint with event type mapping
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time event stream for job lifecycle, health and recovery activity",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"job-started":              events.JobStartedEvent{},
		"job-state-changed":        events.JobStateChangedEvent{},
		"job-crashed":              events.JobCrashedEvent{},
		"job-unhealthy":            events.JobUnhealthyEvent{},
		"restart-scheduled":        events.RestartScheduledEvent{},
		"autostart-abandoned":      events.AutostartAbandonedEvent{},
		"camera-registry-reloaded": events.CameraRegistryReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Create event channel for this connection
		eventCh := make(chan any, 10)

		// Subscribe to all event types using event bus
		unsubscribers := []func(){
			events.SubscribeToChannel[events.JobStartedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.JobStateChangedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.JobCrashedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.JobUnhealthyEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.RestartScheduledEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.AutostartAbandonedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.CameraRegistryReloadedEvent](s.options.EventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Send initial connection confirmation
		if err := send.Data(events.JobStateChangedEvent{
			JobID:     "system",
			To:        "connected",
			Reason:    "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		// Keep connection alive and forward events
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				// Send event using Huma's SSE sender with error handling
				if err := send.Data(event); err != nil {
					// Connection failed, clean up and exit
					return
				}
			}
		}
	})
}
