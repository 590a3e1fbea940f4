// Package store provides persistence for catalog metadata: secret types and
// secret entries. Secret material is never stored here.
package store

import (
	"context"

	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secrettype"
)

// Store is the metadata store used by the registry and the catalog.
type Store interface {
	secrettype.Store
	catalog.Store

	// Migrate creates missing tables and indexes.
	Migrate(ctx context.Context) error

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
