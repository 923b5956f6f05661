package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"southwinds.dev/citadel/internal/crypto"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// FileSystemStore keeps snapshot blobs as files under a base directory, one
// file per snapshot. Writes go through a temp file plus rename so a crash
// never corrupts an existing snapshot.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates the base directory if needed and returns a
// store rooted there.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", basePath, err)
	}
	return &FileSystemStore{basePath: basePath}, nil
}

func (fs *FileSystemStore) SaveSnapshot(name string, data []byte) error {
	if err := validateSnapshotName(name); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("snapshot data cannot be empty")
	}
	return writeSecureFile(fs.snapshotPath(name), data, FilePermissions)
}

func (fs *FileSystemStore) LoadSnapshot(name string) ([]byte, error) {
	if err := validateSnapshotName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.snapshotPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s does not exist", name)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return data, nil
}

func (fs *FileSystemStore) ListSnapshots() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []SnapshotInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var infos []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), snapshotExt)

		data, err := os.ReadFile(filepath.Join(fs.basePath, entry.Name()))
		if err != nil {
			continue
		}
		fileInfo, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SnapshotInfo{
			Name:       name,
			Size:       fileInfo.Size(),
			Checksum:   crypto.Checksum(data),
			ModifiedAt: fileInfo.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (fs *FileSystemStore) DeleteSnapshot(name string) error {
	if err := validateSnapshotName(name); err != nil {
		return err
	}
	path := fs.snapshotPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("snapshot %s does not exist", name)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	return nil
}

func (fs *FileSystemStore) Ping() error {
	_, err := os.Stat(fs.basePath)
	return err
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

func (fs *FileSystemStore) snapshotPath(name string) string {
	return filepath.Join(fs.basePath, name+snapshotExt)
}

// writeSecureFile writes data to path atomically with the given permissions:
// temp file in the same directory, write, sync, chmod, rename.
func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
