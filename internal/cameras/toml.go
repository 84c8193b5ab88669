package cameras

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// config represents the complete camera registry file for TOML marshaling.
type config struct {
	Version int                     `toml:"version" json:"version"`
	Cameras map[string]CameraConfig `toml:"cameras" json:"cameras"`
}

// tomlRegistry implements Registry using TOML file storage.
// The mutex covers reload-from-watcher racing with API mutations.
type tomlRegistry struct {
	configPath string
	mu         sync.RWMutex
	config     *config
}

// NewTOML creates a new TOML-based camera registry.
func NewTOML(configPath string) Registry {
	if configPath == "" {
		configPath = "cameras.toml"
	}

	return &tomlRegistry{
		configPath: configPath,
		config: &config{
			Version: 1,
			Cameras: make(map[string]CameraConfig),
		},
	}
}

// Load loads the camera registry from file.
func (r *tomlRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if file exists
	if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
		// File doesn't exist, use empty config
		return nil
	}

	data, err := os.ReadFile(r.configPath)
	if err != nil {
		return fmt.Errorf("failed to read camera registry: %w", err)
	}

	fresh := &config{}
	if unmarshalErr := toml.Unmarshal(data, fresh); unmarshalErr != nil {
		return fmt.Errorf("failed to parse camera registry: %w", unmarshalErr)
	}

	if fresh.Cameras == nil {
		fresh.Cameras = make(map[string]CameraConfig)
	}
	if fresh.Version == 0 {
		fresh.Version = 1
	}

	// Normalize entries so callers never see half-filled configs
	for name, cam := range fresh.Cameras {
		if cam.Name == "" {
			cam.Name = name
		}
		if cam.Port == 0 {
			cam.Port = DefaultRTSPPort
		}
		fresh.Cameras[name] = cam
	}

	r.config = fresh
	return nil
}

// Save saves the camera registry to file.
func (r *tomlRegistry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saveLocked()
}

// saveLocked writes the registry to disk. Callers must hold at least a read lock.
func (r *tomlRegistry) saveLocked() error {
	// Ensure directory exists
	dir := filepath.Dir(r.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := toml.Marshal(r.config)
	if err != nil {
		return fmt.Errorf("failed to marshal camera registry: %w", err)
	}

	if writeErr := os.WriteFile(r.configPath, data, 0o600); writeErr != nil {
		return fmt.Errorf("failed to write camera registry: %w", writeErr)
	}

	return nil
}

// AddCamera adds a new camera to the registry.
func (r *tomlRegistry) AddCamera(cam CameraConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cam.Name == "" {
		return fmt.Errorf("camera name cannot be empty")
	}
	if cam.Host == "" {
		return fmt.Errorf("camera host cannot be empty")
	}
	if _, exists := r.config.Cameras[cam.Name]; exists {
		return fmt.Errorf("camera %s already exists", cam.Name)
	}

	if cam.Port == 0 {
		cam.Port = DefaultRTSPPort
	}

	now := time.Now()
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = now
	}
	cam.UpdatedAt = now

	r.config.Cameras[cam.Name] = cam
	return r.saveLocked()
}

// UpdateCamera updates an existing camera.
func (r *tomlRegistry) UpdateCamera(name string, updates CameraConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.config.Cameras[name]
	if !exists {
		return fmt.Errorf("camera %s not found", name)
	}

	// Preserve identity and creation time
	updates.Name = existing.Name
	updates.CreatedAt = existing.CreatedAt
	updates.UpdatedAt = time.Now()

	// Use existing values if not provided. Secrets are never returned by the
	// API, so an absent password or key set means keep, not clear.
	if updates.Host == "" {
		updates.Host = existing.Host
	}
	if updates.Port == 0 {
		updates.Port = existing.Port
	}
	if updates.Password == "" {
		updates.Password = existing.Password
	}
	if updates.Username == "" {
		updates.Username = existing.Username
	}
	if updates.StreamKeys == nil {
		updates.StreamKeys = existing.StreamKeys
	}

	r.config.Cameras[name] = updates
	return r.saveLocked()
}

// RemoveCamera removes a camera from the registry.
func (r *tomlRegistry) RemoveCamera(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.config.Cameras[name]; !exists {
		return fmt.Errorf("camera %s not found", name)
	}

	delete(r.config.Cameras, name)
	return r.saveLocked()
}

// GetCamera retrieves a camera by name.
func (r *tomlRegistry) GetCamera(name string) (CameraConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cam, exists := r.config.Cameras[name]
	return cam, exists
}

// ListCameras returns all cameras sorted by name.
func (r *tomlRegistry) ListCameras() []CameraConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cams := make([]CameraConfig, 0, len(r.config.Cameras))
	for _, cam := range r.config.Cameras {
		cams = append(cams, cam)
	}
	sortByName(cams)
	return cams
}

// AutostartCameras returns the cameras marked for fleet bring-up, sorted by name.
func (r *tomlRegistry) AutostartCameras() []CameraConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cams []CameraConfig
	for _, cam := range r.config.Cameras {
		if cam.Autostart {
			cams = append(cams, cam)
		}
	}
	sortByName(cams)
	return cams
}

func sortByName(cams []CameraConfig) {
	slices.SortFunc(cams, func(a, b CameraConfig) int {
		return strings.Compare(a.Name, b.Name)
	})
}
