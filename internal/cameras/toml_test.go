package cameras

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestRegistry creates a temporary registry for testing.
func setupTestRegistry(t *testing.T) (*tomlRegistry, string) {
	t.Helper()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test_cameras.toml")

	reg := NewTOML(testFile).(*tomlRegistry)
	return reg, testFile
}

func TestNewTOML(t *testing.T) {
	reg := NewTOML("").(*tomlRegistry)
	if reg.configPath != "cameras.toml" {
		t.Errorf("expected default path 'cameras.toml', got %s", reg.configPath)
	}

	reg = NewTOML("/custom/path.toml").(*tomlRegistry)
	if reg.configPath != "/custom/path.toml" {
		t.Errorf("expected custom path '/custom/path.toml', got %s", reg.configPath)
	}

	if reg.config == nil {
		t.Error("config should be initialized")
	}
	if reg.config.Version != 1 {
		t.Errorf("expected version 1, got %d", reg.config.Version)
	}
	if reg.config.Cameras == nil {
		t.Error("cameras map should be initialized")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	err := reg.Load()
	if err != nil {
		t.Errorf("Load should not error on non-existent file, got: %v", err)
	}

	if len(reg.config.Cameras) != 0 {
		t.Errorf("expected empty cameras map, got %d cameras", len(reg.config.Cameras))
	}
}

func TestSaveAndLoad(t *testing.T) {
	reg, testFile := setupTestRegistry(t)

	cam := CameraConfig{
		Name:      "porch",
		Host:      "192.168.1.20",
		Port:      554,
		Username:  "admin",
		Password:  "secret",
		Platform:  "youtube",
		Autostart: true,
		StreamKeys: map[string]string{
			"youtube": "yt-key",
		},
	}
	reg.config.Cameras["porch"] = cam

	err := reg.Save()
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	if _, statErr := os.Stat(testFile); os.IsNotExist(statErr) {
		t.Error("Registry file was not created")
	}

	// Create new registry and load
	reg2 := NewTOML(testFile).(*tomlRegistry)
	err = reg2.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	loaded, exists := reg2.GetCamera("porch")
	if !exists {
		t.Fatal("porch not found after load")
	}

	if loaded.Host != cam.Host {
		t.Errorf("expected Host %s, got %s", cam.Host, loaded.Host)
	}
	if loaded.Platform != cam.Platform {
		t.Errorf("expected Platform %s, got %s", cam.Platform, loaded.Platform)
	}
	if !loaded.Autostart {
		t.Error("expected Autostart to survive round trip")
	}
	if loaded.KeyFor("youtube") != "yt-key" {
		t.Errorf("expected stream key to survive round trip, got %q", loaded.KeyFor("youtube"))
	}
}

func TestLoadNormalizesEntries(t *testing.T) {
	reg, testFile := setupTestRegistry(t)

	// Hand-written file: name and port omitted per entry
	content := `version = 1

[cameras.garage]
host = "10.0.0.5"
autostart = true
`
	if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if err := reg.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cam, exists := reg.GetCamera("garage")
	if !exists {
		t.Fatal("garage not found")
	}
	if cam.Name != "garage" {
		t.Errorf("expected name filled from map key, got %q", cam.Name)
	}
	if cam.Port != DefaultRTSPPort {
		t.Errorf("expected default port %d, got %d", DefaultRTSPPort, cam.Port)
	}
}

func TestAddCamera(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	cam := CameraConfig{
		Name: "porch",
		Host: "192.168.1.20",
	}

	err := reg.AddCamera(cam)
	if err != nil {
		t.Fatalf("AddCamera failed: %v", err)
	}

	stored, exists := reg.GetCamera("porch")
	if !exists {
		t.Fatal("camera was not added")
	}
	if stored.Port != DefaultRTSPPort {
		t.Errorf("expected default port, got %d", stored.Port)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on add")
	}

	// Verify it was persisted
	reg2 := NewTOML(reg.configPath).(*tomlRegistry)
	if err := reg2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, exists := reg2.GetCamera("porch"); !exists {
		t.Error("camera was not persisted to file")
	}
}

func TestAddCameraValidation(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	if err := reg.AddCamera(CameraConfig{Host: "h"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := reg.AddCamera(CameraConfig{Name: "n"}); err == nil {
		t.Error("expected error for missing host")
	}

	if err := reg.AddCamera(CameraConfig{Name: "dup", Host: "h"}); err != nil {
		t.Fatalf("AddCamera failed: %v", err)
	}
	if err := reg.AddCamera(CameraConfig{Name: "dup", Host: "h2"}); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestUpdateCamera(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	original := CameraConfig{
		Name:      "porch",
		Host:      "192.168.1.20",
		Port:      554,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	reg.config.Cameras["porch"] = original

	updated := CameraConfig{
		Host:      "192.168.1.30",
		Platform:  "twitch",
		Autostart: true,
	}

	err := reg.UpdateCamera("porch", updated)
	if err != nil {
		t.Fatalf("UpdateCamera failed: %v", err)
	}

	stored, exists := reg.GetCamera("porch")
	if !exists {
		t.Fatal("camera disappeared after update")
	}

	if stored.Host != "192.168.1.30" {
		t.Errorf("expected updated host, got %s", stored.Host)
	}
	if stored.Platform != "twitch" {
		t.Errorf("expected updated platform, got %s", stored.Platform)
	}
	if stored.Name != "porch" {
		t.Errorf("name must be preserved, got %s", stored.Name)
	}
	if !stored.CreatedAt.Equal(original.CreatedAt) {
		t.Error("CreatedAt must be preserved across updates")
	}
	if !stored.UpdatedAt.After(original.CreatedAt) {
		t.Error("UpdatedAt should be refreshed")
	}

	if updateErr := reg.UpdateCamera("missing", updated); updateErr == nil {
		t.Error("expected error updating unknown camera")
	}
}

func TestUpdateCameraKeepsSecrets(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	reg.config.Cameras["porch"] = CameraConfig{
		Name:       "porch",
		Host:       "192.168.1.20",
		Username:   "viewer",
		Password:   "hunter2",
		StreamKeys: map[string]string{"youtube": "yt-key"},
	}

	// An update without credentials, as an API client that never saw the
	// stored secrets would send it.
	err := reg.UpdateCamera("porch", CameraConfig{Host: "192.168.1.30", Autostart: true})
	if err != nil {
		t.Fatalf("UpdateCamera failed: %v", err)
	}

	stored, _ := reg.GetCamera("porch")
	if stored.Password != "hunter2" {
		t.Errorf("password cleared by update, got %q", stored.Password)
	}
	if stored.Username != "viewer" {
		t.Errorf("username cleared by update, got %q", stored.Username)
	}
	if stored.KeyFor("youtube") != "yt-key" {
		t.Errorf("stream key cleared by update, got %q", stored.KeyFor("youtube"))
	}

	// Sending credentials replaces them.
	err = reg.UpdateCamera("porch", CameraConfig{
		Password:   "newpass",
		StreamKeys: map[string]string{"twitch": "tw-key"},
	})
	if err != nil {
		t.Fatalf("UpdateCamera failed: %v", err)
	}
	stored, _ = reg.GetCamera("porch")
	if stored.Password != "newpass" {
		t.Errorf("password not replaced, got %q", stored.Password)
	}
	if stored.KeyFor("twitch") != "tw-key" {
		t.Errorf("stream keys not replaced, got %v", stored.StreamKeys)
	}
}

func TestRemoveCamera(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	reg.config.Cameras["porch"] = CameraConfig{Name: "porch", Host: "h"}
	if err := reg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	err := reg.RemoveCamera("porch")
	if err != nil {
		t.Fatalf("RemoveCamera failed: %v", err)
	}

	if _, exists := reg.GetCamera("porch"); exists {
		t.Error("camera still exists after removal")
	}

	// Verify persistence
	reg2 := NewTOML(reg.configPath).(*tomlRegistry)
	if err := reg2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, exists := reg2.GetCamera("porch"); exists {
		t.Error("camera removal was not persisted")
	}

	if removeErr := reg.RemoveCamera("missing"); removeErr == nil {
		t.Error("expected error removing unknown camera")
	}
}

func TestListCameras(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	if got := reg.ListCameras(); len(got) != 0 {
		t.Errorf("expected 0 cameras, got %d", len(got))
	}

	reg.config.Cameras["zulu"] = CameraConfig{Name: "zulu", Host: "h1"}
	reg.config.Cameras["alpha"] = CameraConfig{Name: "alpha", Host: "h2"}
	reg.config.Cameras["mike"] = CameraConfig{Name: "mike", Host: "h3"}

	cams := reg.ListCameras()
	if len(cams) != 3 {
		t.Fatalf("expected 3 cameras, got %d", len(cams))
	}

	// Sorted by name for deterministic output
	for i, want := range []string{"alpha", "mike", "zulu"} {
		if cams[i].Name != want {
			t.Errorf("position %d: expected %s, got %s", i, want, cams[i].Name)
		}
	}
}

func TestAutostartCameras(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	reg.config.Cameras["porch"] = CameraConfig{Name: "porch", Host: "h1", Autostart: true}
	reg.config.Cameras["garage"] = CameraConfig{Name: "garage", Host: "h2", Autostart: true}
	reg.config.Cameras["lobby"] = CameraConfig{Name: "lobby", Host: "h3"}

	cams := reg.AutostartCameras()
	if len(cams) != 2 {
		t.Fatalf("expected 2 autostart cameras, got %d", len(cams))
	}
	if cams[0].Name != "garage" || cams[1].Name != "porch" {
		t.Errorf("unexpected autostart order: %s, %s", cams[0].Name, cams[1].Name)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	nestedPath := filepath.Join(tmpDir, "subdir", "nested", "cameras.toml")

	reg := NewTOML(nestedPath).(*tomlRegistry)
	reg.config.Cameras["test"] = CameraConfig{Name: "test", Host: "h"}

	err := reg.Save()
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, statErr := os.Stat(nestedPath); os.IsNotExist(statErr) {
		t.Error("Save should create nested directories")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	reg, testFile := setupTestRegistry(t)

	invalidContent := `this is not valid toml [[[`
	err := os.WriteFile(testFile, []byte(invalidContent), 0o644)
	if err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	err = reg.Load()
	if err == nil {
		t.Error("Load should fail with invalid TOML")
	}
	if err != nil && !strings.Contains(err.Error(), "parse") {
		t.Errorf("expected parse error, got: %v", err)
	}
}

func TestLoadReplacesPreviousContents(t *testing.T) {
	reg, testFile := setupTestRegistry(t)

	content := `version = 1

[cameras.porch]
host = "10.0.0.1"
`
	if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := reg.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// File replaced wholesale: porch gone, garage added
	content = `version = 1

[cameras.garage]
host = "10.0.0.2"
`
	if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to rewrite test file: %v", err)
	}
	if err := reg.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if _, exists := reg.GetCamera("porch"); exists {
		t.Error("stale camera survived reload")
	}
	if _, exists := reg.GetCamera("garage"); !exists {
		t.Error("new camera missing after reload")
	}
}
