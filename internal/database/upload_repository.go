package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snappy-loop/storyreel/internal/models"
)

// UploadRepository is the upload-dedup index: content-hash to
// Renderer-assigned filename.
type UploadRepository struct {
	db *DB
}

// NewUploadRepository creates a new UploadRepository.
func NewUploadRepository(db *DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// GetByHash returns the uploaded-image record for a content hash, or
// nil if no upload has happened yet.
func (r *UploadRepository) GetByHash(ctx context.Context, hash string) (*models.UploadedImage, error) {
	var img models.UploadedImage
	var uploadedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT content_hash, renderer_filename, COALESCE(original_filename, ''), uploaded_at
		FROM uploaded_images WHERE content_hash = ?
	`, hash).Scan(&img.ContentHash, &img.RendererFilename, &img.OriginalFilename, &uploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get uploaded image: %w", err)
	}
	t, err := parseTimestamp(uploadedAt)
	if err != nil {
		return nil, err
	}
	img.UploadedAt = t
	return &img, nil
}

// Store records a new upload. Insertion is transactional with a
// uniqueness constraint on content_hash: a second concurrent insert of
// the same hash loses the race and must fall back to GetByHash.
func (r *UploadRepository) Store(ctx context.Context, hash, rendererFilename, originalFilename string) (*models.UploadedImage, error) {
	img := &models.UploadedImage{
		ContentHash:      hash,
		RendererFilename: rendererFilename,
		OriginalFilename: originalFilename,
		UploadedAt:       UTCNow(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploaded_images (content_hash, renderer_filename, original_filename, uploaded_at)
		VALUES (?, ?, ?, ?)
	`, img.ContentHash, img.RendererFilename, img.OriginalFilename, formatTimestamp(img.UploadedAt))
	if err != nil {
		return nil, fmt.Errorf("store uploaded image: %w", err)
	}
	return img, nil
}
