// Package artifact manages generated plugin source files on disk:
// a production registry directory, an isolated staging directory for
// candidates pending validation, and .bak backups used for rollback.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is the file-backed artifact store. Promote is the only
// operation with a production side effect.
type Store struct {
	registryDir string
	stagingDir  string
}

// New creates a Store, ensuring both directories exist.
func New(registryDir, stagingDir string) (*Store, error) {
	if registryDir == stagingDir {
		return nil, fmt.Errorf("staging dir must be distinct from registry dir")
	}
	for _, dir := range []string{registryDir, stagingDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Store{registryDir: registryDir, stagingDir: stagingDir}, nil
}

// RegistryDir returns the production directory.
func (s *Store) RegistryDir() string { return s.registryDir }

func (s *Store) productionPath(name string) string {
	return filepath.Join(s.registryDir, name+".go")
}

func (s *Store) stagingPath(name string) string {
	return filepath.Join(s.stagingDir, name+".go")
}

func (s *Store) backupPath(name string) string {
	return filepath.Join(s.registryDir, name+".go.bak")
}

// Read returns the production artifact text, or "" if none exists.
func (s *Store) Read(name string) (string, error) {
	data, err := os.ReadFile(s.productionPath(name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return string(data), nil
}

// Exists reports whether a production artifact is deployed for name.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.productionPath(name))
	return err == nil
}

// WriteStaged writes a candidate to the staging location for name,
// replacing any previous candidate.
func (s *Store) WriteStaged(name, text string) error {
	if err := os.WriteFile(s.stagingPath(name), []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to stage artifact %s: %w", name, err)
	}
	return nil
}

// ReadStaged returns the staged candidate text.
func (s *Store) ReadStaged(name string) (string, error) {
	data, err := os.ReadFile(s.stagingPath(name))
	if err != nil {
		return "", fmt.Errorf("failed to read staged artifact %s: %w", name, err)
	}
	return string(data), nil
}

// RemoveStaged discards the staged candidate, if any.
func (s *Store) RemoveStaged(name string) error {
	err := os.Remove(s.stagingPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staged artifact %s: %w", name, err)
	}
	return nil
}

// Promote backs up the current production artifact (if one exists) and
// atomically replaces it with the staged candidate. On failure the
// backup stays in place for manual recovery.
func (s *Store) Promote(name string) error {
	staged := s.stagingPath(name)
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("no staged artifact for %s: %w", name, err)
	}

	prod := s.productionPath(name)
	if _, err := os.Stat(prod); err == nil {
		data, err := os.ReadFile(prod)
		if err != nil {
			return fmt.Errorf("failed to back up %s: %w", name, err)
		}
		if err := os.WriteFile(s.backupPath(name), data, 0644); err != nil {
			return fmt.Errorf("failed to back up %s: %w", name, err)
		}
	}

	// Rename is atomic within a filesystem; staging lives under the
	// registry dir so both paths share one.
	if err := os.Rename(staged, prod); err != nil {
		return fmt.Errorf("failed to promote %s: %w", name, err)
	}
	return nil
}

// BackupExists reports whether a backup is available for name.
func (s *Store) BackupExists(name string) bool {
	_, err := os.Stat(s.backupPath(name))
	return err == nil
}

// RestoreBackup restores the backup over the current production
// artifact. Used after a promoted fix is found to regress.
func (s *Store) RestoreBackup(name string) error {
	backup := s.backupPath(name)
	if _, err := os.Stat(backup); err != nil {
		return fmt.Errorf("no backup available for %s: %w", name, err)
	}
	if err := os.Rename(backup, s.productionPath(name)); err != nil {
		return fmt.Errorf("failed to restore backup for %s: %w", name, err)
	}
	return nil
}

// Names lists all deployed production artifacts.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.registryDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := e.Name()
		if filepath.Ext(base) != ".go" {
			continue
		}
		names = append(names, base[:len(base)-3])
	}
	return names, nil
}
