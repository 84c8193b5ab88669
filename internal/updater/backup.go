package updater

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/relayd/internal/version"
)

const (
	backupBinaryName = "relayd.backup"
	backupMetaName   = "backup.json"
)

// backupMeta records which build the saved binary is, so status and rollback
// can name it.
type backupMeta struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
}

// backupManager keeps exactly one previous binary under the user cache dir.
// Each new backup overwrites the old one.
type backupManager struct {
	mu     sync.RWMutex
	dir    string
	meta   *backupMeta
	logger *slog.Logger
}

func newBackupManager(logger *slog.Logger) (*backupManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(home, ".cache", "relayd", "backup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	mgr := &backupManager{dir: dir, logger: logger}
	mgr.loadMeta()
	return mgr, nil
}

// loadMeta picks up a backup left by a previous run. Missing or torn
// metadata just means no backup.
func (m *backupManager) loadMeta() {
	data, err := os.ReadFile(filepath.Join(m.dir, backupMetaName))
	if err != nil {
		return
	}

	var meta backupMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		m.logger.Warn("Failed to parse backup info", "error", err)
		return
	}

	if _, err := os.Stat(filepath.Join(m.dir, backupBinaryName)); err != nil {
		m.logger.Warn("Backup metadata present but binary missing", "dir", m.dir)
		return
	}

	m.mu.Lock()
	m.meta = &meta
	m.mu.Unlock()

	m.logger.Info("Loaded backup info", "version", meta.Version)
}

// createBackup copies the running binary aside before an update overwrites it.
func (m *backupManager) createBackup() error {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	if err := copyBinary(filepath.Join(m.dir, backupBinaryName), execPath); err != nil {
		return err
	}

	meta := backupMeta{
		Version:   version.Version,
		CreatedAt: time.Now(),
		ExecPath:  execPath,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal backup info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, backupMetaName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup info: %w", err)
	}

	m.mu.Lock()
	m.meta = &meta
	m.mu.Unlock()

	m.logger.Info("Backup created", "version", meta.Version, "dir", m.dir)
	return nil
}

// restore puts the backed-up binary back at the path it was taken from.
func (m *backupManager) restore() error {
	m.mu.RLock()
	meta := m.meta
	m.mu.RUnlock()

	if meta == nil {
		return fmt.Errorf("no backup available")
	}

	if err := copyBinary(meta.ExecPath, filepath.Join(m.dir, backupBinaryName)); err != nil {
		return err
	}

	m.logger.Info("Backup restored", "version", meta.Version)
	return nil
}

func (m *backupManager) hasBackup() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta != nil
}

func (m *backupManager) backupVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meta == nil {
		return ""
	}
	return m.meta.Version
}

// copyBinary writes src over dst with executable permissions.
func copyBinary(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
