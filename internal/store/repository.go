// Package store persists collected property records.
package store

import (
	"context"
	"time"

	"github.com/sells-group/collector-cli/internal/model"
)

// Repository is the persistence boundary for property records.
type Repository interface {
	// Create inserts a record and returns its storage id. Inserting a
	// property_id that already exists fails.
	Create(ctx context.Context, rec *model.PropertyRecord) (string, error)
	GetByPropertyID(ctx context.Context, propertyID string) (*model.PropertyRecord, error)
	SearchByZipcode(ctx context.Context, zipcode string, limit, offset int) ([]model.PropertyRecord, int64, error)
	GetRecentUpdates(ctx context.Context, since time.Time, limit int) ([]model.PropertyRecord, error)
	Close(ctx context.Context) error
}
