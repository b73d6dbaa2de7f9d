package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

const (
	archiveExtension = ".zip"
	timestampLayout  = "2006-01-02_15-04-05"
)

// ErrArchiveExists is returned instead of replacing an existing archive
var ErrArchiveExists = errors.New("archive already exists")

// ArchiveInfo describes a finished archive
type ArchiveInfo struct {
	Filename  string
	Path      string
	SizeBytes int64
	FileCount int
	CreatedAt time.Time
}

// Archiver writes zip archives of a world directory
type Archiver struct {
	compression CompressionConfig
}

// NewArchiver creates an archiver with the given compression
func NewArchiver(compression CompressionConfig) *Archiver {
	return &Archiver{compression: normalizeCompression(compression)}
}

// ArchiveName returns the archive filename for a world at a point in time
func ArchiveName(world string, at time.Time) string {
	return fmt.Sprintf("%s_backup_%s%s", world, at.Format(timestampLayout), archiveExtension)
}

// UniqueArchiveName returns ArchiveName for at, adding a _N suffix when an
// archive taken in the same second already exists in dir. Suffixed names
// sort after the unsuffixed one.
func UniqueArchiveName(dir, world string, at time.Time) string {
	name := ArchiveName(world, at)
	stem := strings.TrimSuffix(name, archiveExtension)
	for n := 1; archiveExists(filepath.Join(dir, name)); n++ {
		name = fmt.Sprintf("%s_%d%s", stem, n, archiveExtension)
	}
	return name
}

func archiveExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsArchiveName reports whether filename looks like a backup of world
func IsArchiveName(world, filename string) bool {
	return strings.HasPrefix(filename, world+"_backup_") && strings.HasSuffix(filename, archiveExtension)
}

// CreateArchive zips worldDir into destDir/filename. Entries are rooted at the
// world directory name. The archive is written to a temp file and renamed so a
// partial archive never carries the final name. An existing archive is never
// replaced.
func (a *Archiver) CreateArchive(ctx context.Context, worldDir, destDir, filename string) (*ArchiveInfo, error) {
	info, err := os.Stat(worldDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrWorldNotFound, worldDir)
		}
		return nil, fmt.Errorf("failed to stat world directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWorldNotFound, worldDir)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(destDir, "."+filename+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	count, err := a.writeZip(ctx, tmp, worldDir)
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	finalPath := filepath.Join(destDir, filename)
	if archiveExists(finalPath) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveExists, finalPath)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	committed = true

	stat, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	return &ArchiveInfo{
		Filename:  filename,
		Path:      finalPath,
		SizeBytes: stat.Size(),
		FileCount: count,
		CreatedAt: time.Now(),
	}, nil
}

func (a *Archiver) writeZip(ctx context.Context, out io.Writer, worldDir string) (int, error) {
	zw := zip.NewWriter(out)
	registerCompressor(zw, a.compression)
	method := zipMethod(a.compression)

	root := filepath.Clean(worldDir)
	base := filepath.Dir(root)
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel), method); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		zw.Close()
		return 0, fmt.Errorf("failed to archive world: %w", err)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}
	return count, nil
}

func addFile(zw *zip.Writer, path, name string, method uint16) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = method

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	// The server may hold files open while writing; copy what is readable now.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
