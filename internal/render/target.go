package render

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Targets opens the render target a negotiated video track is bound to.
type Targets interface {
	Open(cameraID string) (io.WriteCloser, error)
}

// New returns file targets under dir, or a discarding target when dir is
// empty.
func New(dir string) (Targets, error) {
	if dir == "" {
		return Discard{}, nil
	}
	return NewDir(dir)
}

// Dir writes each camera's elementary stream to <dir>/<id>.h264. Reopening
// a camera truncates its file.
type Dir struct {
	path string
}

func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Open(cameraID string) (io.WriteCloser, error) {
	name := fileName(cameraID)
	f, err := os.Create(filepath.Join(d.path, name))
	if err != nil {
		return nil, fmt.Errorf("open render target: %w", err)
	}
	return f, nil
}

func fileName(cameraID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, cameraID)
	if clean == "" {
		clean = "camera"
	}
	return clean + ".h264"
}

// Discard drops all media.
type Discard struct{}

func (Discard) Open(string) (io.WriteCloser, error) {
	return nopCloser{io.Discard}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
