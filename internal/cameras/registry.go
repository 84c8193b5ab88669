package cameras

// Registry defines the interface for camera data access
type Registry interface {
	// Load loads the registry from storage. Safe to call again to reload.
	Load() error

	// Save saves the registry to storage
	Save() error

	// AddCamera adds a new camera to the registry
	AddCamera(cam CameraConfig) error

	// UpdateCamera updates an existing camera
	UpdateCamera(name string, cam CameraConfig) error

	// RemoveCamera removes a camera from the registry
	RemoveCamera(name string) error

	// GetCamera retrieves a camera by name
	GetCamera(name string) (CameraConfig, bool)

	// ListCameras returns all cameras sorted by name
	ListCameras() []CameraConfig

	// AutostartCameras returns the cameras marked for fleet bring-up, sorted by name
	AutostartCameras() []CameraConfig
}
