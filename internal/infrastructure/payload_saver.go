package infrastructure

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// DiskSaver writes payloads into the incoming directory and moves them into the
// completed directory once they are whole
type DiskSaver struct {
	incomingDir  string
	completedDir string
}

// NewDiskSaver creates a new disk saver
func NewDiskSaver(incomingDir, completedDir string) *DiskSaver {
	return &DiskSaver{incomingDir: incomingDir, completedDir: completedDir}
}

// Begin opens a partial file for a payload
func (s *DiskSaver) Begin(fileName string) (domain.Payload, error) {
	if err := os.MkdirAll(s.incomingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create incoming directory: %w", err)
	}

	file, err := os.CreateTemp(s.incomingDir, "hqmx-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create partial file: %w", err)
	}
	return &diskPayload{file: file, name: fileName, completedDir: s.completedDir}, nil
}

type diskPayload struct {
	file         *os.File
	name         string
	completedDir string
}

func (p *diskPayload) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// Commit moves the partial file to the completed directory under a free name
func (p *diskPayload) Commit() (string, error) {
	partial := p.file.Name()
	if err := p.file.Close(); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("failed to close partial file: %w", err)
	}

	destPath, err := moveToDir(partial, p.completedDir, p.name)
	if err != nil {
		os.Remove(partial)
		return "", err
	}
	return destPath, nil
}

// Abort discards the partial file
func (p *diskPayload) Abort() error {
	p.file.Close()
	return os.Remove(p.file.Name())
}

// moveToDir moves a file into dir as name, avoiding collisions with existing files
func moveToDir(src, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create completed directory: %w", err)
	}

	destPath := availablePath(filepath.Join(dir, name))
	if err := os.Rename(src, destPath); err != nil {
		// Rename fails across filesystems
		if err := copyFile(src, destPath); err != nil {
			return "", fmt.Errorf("failed to move file %s: %w", src, err)
		}
		os.Remove(src)
	}
	return destPath, nil
}

// availablePath appends " (n)" before the extension until the path is unused
func availablePath(path string) string {
	if !fileExists(path) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if !fileExists(candidate) {
			return candidate
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
