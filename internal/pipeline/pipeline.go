// Package pipeline compresses visitor photos and manages the durable payload
// file area.
package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

// Pipeline resizes and persists photo payloads under a single base directory.
type Pipeline struct {
	baseDir      string
	maxDimension int
	jpegQuality  int
}

// New creates a Pipeline storing payloads under baseDir.
func New(baseDir string, maxDimension, jpegQuality int) (*Pipeline, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create payload directory: %w", err)
	}
	return &Pipeline{
		baseDir:      baseDir,
		maxDimension: maxDimension,
		jpegQuality:  jpegQuality,
	}, nil
}

// Process decodes a raw photo payload, bounds its dimensions, re-encodes it
// as JPEG and writes it to the payload area. Returns the stored file path.
// A payload that does not decode as an image fails here, before any network
// or queue activity.
func (p *Pipeline) Process(payload []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("payload is not a valid image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > p.maxDimension || bounds.Dy() > p.maxDimension {
		img = imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)
	}

	path := filepath.Join(p.baseDir, p.filename())
	if err := imaging.Save(img, path, imaging.JPEGQuality(p.jpegQuality)); err != nil {
		return "", fmt.Errorf("failed to write payload file: %w", err)
	}

	return path, nil
}

// Read reads a stored payload file back for (re)transmission.
func (p *Pipeline) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file: %w", err)
	}
	return data, nil
}

// ReadBase64 reads a stored payload file and returns its name and base64
// encoding, the form the visitor endpoint expects.
func (p *Pipeline) ReadBase64(path string) (name, encoded string, err error) {
	data, err := p.Read(path)
	if err != nil {
		return "", "", err
	}
	return filepath.Base(path), base64.StdEncoding.EncodeToString(data), nil
}

// Sweep deletes payload files older than grace that are not in referenced.
// Files referenced by any pending record must always appear in referenced;
// the grace window tolerates in-flight sync attempts still holding a file
// of a just-synced record. Returns the number of files removed.
func (p *Pipeline) Sweep(referenced map[string]struct{}, grace time.Duration) (int, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read payload directory: %w", err)
	}

	cutoff := time.Now().Add(-grace)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(p.baseDir, entry.Name())
		if _, ok := referenced[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err == nil {
			removed++
		}
	}

	return removed, nil
}

// Remove deletes a single payload file. Missing files are not an error.
func (p *Pipeline) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove payload file: %w", err)
	}
	return nil
}

// filename generates a collision-resistant, timestamp-derived payload name.
func (p *Pipeline) filename() string {
	return fmt.Sprintf("photo_%d_%s.jpg", time.Now().UnixNano(), uuid.NewString()[:8])
}
