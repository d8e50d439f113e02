package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Output settings
const (
	ArchiveExtension      = ".tar.gz"
	DefaultDirPermissions = 0o755
)

// Result describes where the finalized content ended up
type Result struct {
	// FinalPath is the moved content directory. When an archive was produced
	// and RemoveSourceAfterArchive is set, the directory no longer exists.
	FinalPath string

	// ArchivePath is set only when archiving was requested and succeeded
	ArchivePath string

	// SizeBytes is the total size of the produced content
	SizeBytes int64
}

// Service finalizes job output directories
type Service struct {
	// RemoveSourceAfterArchive deletes the uncompressed copy once the
	// archive is written, mirroring the downloader's own cleanup behavior
	RemoveSourceAfterArchive bool
}

// NewService creates an archiver with default cleanup behavior
func NewService() *Service {
	return &Service{RemoveSourceAfterArchive: true}
}

// Finalize moves the job's produced content from tempDir into saveRoot and,
// if archive is requested, compresses it. The move is a rename where the
// filesystem allows, with a copy fallback across devices.
func (s *Service) Finalize(tempDir, saveRoot string, archive bool) (Result, error) {
	contentRoot, err := normalizeContentRoot(tempDir)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(saveRoot, DefaultDirPermissions); err != nil {
		return Result{}, fmt.Errorf("create save root: %w", err)
	}

	finalPath := filepath.Join(saveRoot, filepath.Base(contentRoot))
	if err := moveDir(contentRoot, finalPath); err != nil {
		return Result{}, fmt.Errorf("move content: %w", err)
	}

	size, err := dirSize(finalPath)
	if err != nil {
		return Result{}, fmt.Errorf("measure content: %w", err)
	}

	result := Result{FinalPath: finalPath, SizeBytes: size}
	if !archive {
		return result, nil
	}

	archivePath := finalPath + ArchiveExtension
	if err := writeTarGz(finalPath, archivePath); err != nil {
		// Never leave a half-written archive behind
		os.Remove(archivePath)
		return Result{}, fmt.Errorf("write archive: %w", err)
	}
	result.ArchivePath = archivePath

	if s.RemoveSourceAfterArchive {
		if err := os.RemoveAll(finalPath); err != nil {
			return Result{}, fmt.Errorf("remove uncompressed copy: %w", err)
		}
	}
	return result, nil
}

// normalizeContentRoot descends into a single nested subdirectory when the
// tool wrapped its output one level deep (depth-one passthrough).
func normalizeContentRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read content dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// moveDir renames src to dst, falling back to copy+delete when the rename
// fails (typically a cross-device move to the save root).
func moveDir(src, dst string) error {
	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}

	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("rename (%v) and copy fallback both failed: %w", renameErr, err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, DefaultDirPermissions)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

// dirSize sums the sizes of all regular files under root
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
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
		total += info.Size()
		return nil
	})
	return total, err
}

// writeTarGz stream-compresses the directory into a tar.gz file
func writeTarGz(srcDir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	base := filepath.Base(srcDir)
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}
