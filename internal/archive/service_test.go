package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFinalize_MoveWithoutArchive(t *testing.T) {
	tempDir := t.TempDir()
	saveRoot := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "video.mp4"), "0123456789")
	writeFile(t, filepath.Join(tempDir, "info.json"), "{}")

	service := NewService()
	result, err := service.Finalize(tempDir, saveRoot, false)
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	if result.ArchivePath != "" {
		t.Errorf("archivePath = %q, expected empty when archiving not requested", result.ArchivePath)
	}
	if result.SizeBytes != 12 {
		t.Errorf("sizeBytes = %d, expected 12", result.SizeBytes)
	}
	if _, err := os.Stat(filepath.Join(result.FinalPath, "video.mp4")); err != nil {
		t.Errorf("moved content missing: %v", err)
	}
}

func TestFinalize_DescendsSingleNestedDir(t *testing.T) {
	tempDir := t.TempDir()
	saveRoot := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "nested", "video.mp4"), "data")

	service := NewService()
	result, err := service.Finalize(tempDir, saveRoot, false)
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	if filepath.Base(result.FinalPath) != "nested" {
		t.Errorf("finalPath = %s, expected the nested dir to become the content root", result.FinalPath)
	}
	if _, err := os.Stat(filepath.Join(result.FinalPath, "video.mp4")); err != nil {
		t.Errorf("nested content missing: %v", err)
	}
}

func TestFinalize_ArchiveProducesTarGzAndRemovesSource(t *testing.T) {
	tempDir := t.TempDir()
	saveRoot := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "video.mp4"), "payload")

	service := NewService()
	result, err := service.Finalize(tempDir, saveRoot, true)
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	if result.ArchivePath == "" {
		t.Fatal("expected archivePath to be set")
	}
	if _, err := os.Stat(result.ArchivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if _, err := os.Stat(result.FinalPath); !os.IsNotExist(err) {
		t.Error("uncompressed copy should have been removed")
	}

	// Archive must round-trip
	f, err := os.Open(result.ArchivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)

	found := false
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		if filepath.Base(header.Name) == "video.mp4" {
			data, _ := io.ReadAll(tr)
			if string(data) != "payload" {
				t.Errorf("archived content = %q, expected %q", data, "payload")
			}
			found = true
		}
	}
	if !found {
		t.Error("video.mp4 not found in archive")
	}
}

func TestFinalize_KeepSource(t *testing.T) {
	tempDir := t.TempDir()
	saveRoot := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "video.mp4"), "payload")

	service := &Service{RemoveSourceAfterArchive: false}
	result, err := service.Finalize(tempDir, saveRoot, true)
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(result.FinalPath, "video.mp4")); err != nil {
		t.Errorf("uncompressed copy missing: %v", err)
	}
}

func TestFinalize_MissingTempDir(t *testing.T) {
	service := NewService()
	_, err := service.Finalize("/nonexistent/tmp/job-x", t.TempDir(), false)
	if err == nil {
		t.Fatal("expected error for missing temp dir")
	}
}
