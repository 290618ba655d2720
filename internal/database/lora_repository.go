package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snappy-loop/storyreel/internal/models"
)

// LoRALibraryRepository gives plain CRUD access to the LoRA library
// table. The orchestrator never reads this directly; it treats LoRA
// filenames as opaque strings supplied by the caller. This exists so
// the Store owns the full table set the UI layer reads from.
type LoRALibraryRepository struct {
	db *DB
}

// NewLoRALibraryRepository creates a new LoRALibraryRepository.
func NewLoRALibraryRepository(db *DB) *LoRALibraryRepository {
	return &LoRALibraryRepository{db: db}
}

// List returns every LoRA library entry, excluding hidden ones.
func (r *LoRALibraryRepository) List(ctx context.Context) ([]*models.LoRALibraryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.base_name, COALESCE(l.high_file, ''), COALESCE(l.low_file, ''),
			COALESCE(l.friendly_name, ''), COALESCE(l.trigger_keywords, ''), l.rating
		FROM lora_library l
		WHERE NOT EXISTS (
			SELECT 1 FROM hidden_loras h WHERE h.filename = l.high_file OR h.filename = l.low_file
		)
		ORDER BY l.base_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list lora library: %w", err)
	}
	defer rows.Close()

	var out []*models.LoRALibraryEntry
	for rows.Next() {
		var e models.LoRALibraryEntry
		var rating sql.NullInt64
		if err := rows.Scan(&e.ID, &e.BaseName, &e.HighFile, &e.LowFile, &e.FriendlyName, &e.TriggerKeywords, &rating); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			e.Rating = &v
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// HideLoRA adds a filename to the hidden set, ignored on conflict.
func (r *LoRALibraryRepository) HideLoRA(ctx context.Context, filename string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO hidden_loras (filename, hidden_at) VALUES (?, ?)
	`, filename, formatTimestamp(UTCNow()))
	return err
}
