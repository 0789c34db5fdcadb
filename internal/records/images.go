package records

import (
	"fmt"
	"os"
	"path/filepath"
)

// ImageSaver writes donation snapshots to a flat directory as
// donation_<traceID>.jpg. Bytes arrive already JPEG-encoded. Snapshots are
// keyed by the frame trace ID so they can be written before the donation row
// exists; rows are append-only and carry the path from the start.
type ImageSaver struct {
	dir string
}

// NewImageSaver ensures the images directory exists.
func NewImageSaver(dir string) (*ImageSaver, error) {
	if dir == "" {
		return nil, fmt.Errorf("image saver: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("image saver: create dir: %w", err)
	}
	return &ImageSaver{dir: dir}, nil
}

// Save writes the snapshot for a donation and returns its path.
func (s *ImageSaver) Save(traceID string, jpegBytes []byte) (string, error) {
	if len(jpegBytes) == 0 {
		return "", fmt.Errorf("save image: empty jpeg")
	}
	if traceID == "" {
		return "", fmt.Errorf("save image: empty trace id")
	}
	path := filepath.Join(s.dir, fmt.Sprintf("donation_%s.jpg", traceID))
	if err := os.WriteFile(path, jpegBytes, 0o644); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return path, nil
}
