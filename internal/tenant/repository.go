package tenant

import (
	"context"
	"time"
)

// Directory answers whether a label belongs to a provisioned, active tenant.
type Directory interface {
	Exists(ctx context.Context, label string) (bool, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, label string) (bool, error)

// Exists implements Directory.
func (f DirectoryFunc) Exists(ctx context.Context, label string) (bool, error) {
	return f(ctx, label)
}

// ExistenceCache stores directory answers, positive and negative.
type ExistenceCache interface {
	// Get returns the cached answer and whether one was found.
	Get(ctx context.Context, label string) (exists bool, found bool, err error)
	Set(ctx context.Context, label string, exists bool, ttl time.Duration) error
	Invalidate(ctx context.Context, label string) error
}
