package repository

import (
	"context"
	_ "embed"

	"github.com/pesio-ai/be-documents/internal/platform/database"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
	}
	return nil
}
