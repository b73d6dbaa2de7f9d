package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// LocalDestination copies archives to another directory, e.g. a mounted disk
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath: basePath,
	}
}

// Upload copies an archive into the destination directory
func (ld *LocalDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := filepath.Join(ld.basePath, filename)
	log.Printf("[LocalDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	if written != sizeBytes {
		os.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	log.Printf("[LocalDest] Upload complete: %s", filename)
	return nil
}

// Delete removes an archive from the destination directory
func (ld *LocalDestination) Delete(ctx context.Context, filename string) error {
	destPath := filepath.Join(ld.basePath, filename)
	if err := os.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns the archives in the destination directory
func (ld *LocalDestination) List(ctx context.Context) ([]BackupFile, error) {
	return listDirectory(ld.basePath)
}

// Exists reports whether an archive is present
func (ld *LocalDestination) Exists(filename string) bool {
	_, err := os.Stat(filepath.Join(ld.basePath, filename))
	return err == nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

// Close is a no-op for local destinations
func (ld *LocalDestination) Close() error {
	return nil
}

func listDirectory(dir string) ([]BackupFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}
	return files, nil
}
