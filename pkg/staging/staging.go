package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docsync/pkg/domain"
)

// Manager stages downloaded files on local disk under a base directory,
// one sub-directory per user.
type Manager struct {
	basePath string
}

// NewManager creates the base directory if missing.
func NewManager(basePath string) (*Manager, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("staging base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Manager{basePath: basePath}, nil
}

// BasePath returns the staging root.
func (m *Manager) BasePath() string {
	return m.basePath
}

// Save writes one downloaded file under the user's staging directory.
// The local name is "<remoteFileID>_<sanitized name>"; a prior staged
// copy of the same remote file is replaced, even if it was saved under
// a different display name.
func (m *Manager) Save(userID, remoteFileID, fileName string, data []byte) (domain.StagedFile, error) {
	if err := checkPathComponent(userID); err != nil {
		return domain.StagedFile{}, fmt.Errorf("user id: %w", err)
	}
	if err := checkPathComponent(remoteFileID); err != nil {
		return domain.StagedFile{}, fmt.Errorf("remote file id: %w", err)
	}
	userDir := filepath.Join(m.basePath, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return domain.StagedFile{}, fmt.Errorf("create user dir: %w", err)
	}
	target := filepath.Join(userDir, remoteFileID+"_"+sanitizeFileName(fileName))

	if err := m.removeStaleCopies(userDir, remoteFileID, target); err != nil {
		return domain.StagedFile{}, err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return domain.StagedFile{}, fmt.Errorf("write staged file: %w", err)
	}
	return domain.StagedFile{
		Path:         target,
		SizeBytes:    int64(len(data)),
		DownloadedAt: time.Now().UTC(),
	}, nil
}

// removeStaleCopies drops staged files for the same remote id saved
// under an older display name.
func (m *Manager) removeStaleCopies(userDir, remoteFileID, keep string) error {
	entries, err := os.ReadDir(userDir)
	if err != nil {
		return fmt.Errorf("read user dir: %w", err)
	}
	prefix := remoteFileID + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(userDir, entry.Name())
		if path == keep {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale copy: %w", err)
		}
	}
	return nil
}

// Exists reports whether a staged file is present at path.
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Read returns the staged bytes, or domain.ErrStagingNotFound.
func (m *Manager) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStagingNotFound, path)
		}
		return nil, fmt.Errorf("read staged file: %w", err)
	}
	return data, nil
}

// Delete removes a staged file. An already absent file is not an error;
// the returned bool says whether anything was removed.
func (m *Manager) Delete(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("delete staged file: %w", err)
}

// CleanupOlderThan removes staged files last modified more than
// maxAgeDays ago and prunes per-user directories that end up empty.
func (m *Manager) CleanupOlderThan(maxAgeDays int) (domain.CleanupReport, error) {
	if maxAgeDays < 0 {
		return domain.CleanupReport{}, fmt.Errorf("max age days must be >= 0")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	report := domain.CleanupReport{}

	users, err := os.ReadDir(m.basePath)
	if err != nil {
		return report, fmt.Errorf("read staging dir: %w", err)
	}
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		userDir := filepath.Join(m.basePath, user.Name())
		files, err := os.ReadDir(userDir)
		if err != nil {
			return report, fmt.Errorf("read user dir: %w", err)
		}
		remaining := 0
		for _, file := range files {
			if file.IsDir() {
				remaining++
				continue
			}
			info, err := file.Info()
			if err != nil {
				return report, fmt.Errorf("stat staged file: %w", err)
			}
			if !info.ModTime().Before(cutoff) {
				remaining++
				continue
			}
			if err := os.Remove(filepath.Join(userDir, file.Name())); err != nil {
				return report, fmt.Errorf("remove staged file: %w", err)
			}
			report.RemovedFiles++
			report.FreedBytes += info.Size()
		}
		if remaining == 0 {
			if err := os.Remove(userDir); err == nil {
				report.RemovedDirs++
			}
		}
	}
	return report, nil
}

// DiskUsage walks the staging tree and sums file sizes.
func (m *Manager) DiskUsage() (domain.DiskUsage, error) {
	usage := domain.DiskUsage{}
	err := filepath.WalkDir(m.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		usage.TotalBytes += info.Size()
		usage.FileCount++
		return nil
	})
	if err != nil {
		return domain.DiskUsage{}, fmt.Errorf("walk staging dir: %w", err)
	}
	return usage, nil
}

func checkPathComponent(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("must not be empty")
	}
	if value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("must not contain path separators")
	}
	return nil
}

// sanitizeFileName collapses every run of characters outside [a-zA-Z0-9]
// to a single underscore and trims underscores at the edges.
func sanitizeFileName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "file"
	}
	return out
}
