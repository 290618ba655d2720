package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// uploadFrame uploads the bytes at path to the Renderer, deduplicating
// against previously uploaded content by SHA-256. Two distinct uploads
// of byte-identical content always resolve to the same Renderer
// filename, with at most one actual HTTP upload.
func (o *Orchestrator) uploadFrame(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read frame for upload: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := o.uploadRepo.GetByHash(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("check upload dedup index: %w", err)
	}
	if existing != nil {
		return existing.RendererFilename, nil
	}

	filename, err := o.renderer.UploadImage(ctx, data, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("upload frame: %w", err)
	}

	if _, err := o.uploadRepo.Store(ctx, hash, filename, filepath.Base(path)); err != nil {
		return "", fmt.Errorf("record uploaded frame: %w", err)
	}
	return filename, nil
}
