// Package store keeps artifacts that wait for a deferred download.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

var ErrNotFound = errors.New("not found")

// Registry records artifacts until they are downloaded or expire. Claim and
// TakeExpired remove the records they return, so every artifact is handed
// out at most once.
type Registry interface {
	Put(ctx context.Context, a model.Artifact) error
	// Claim removes and returns the artifact, ErrNotFound when unknown.
	Claim(ctx context.Context, id string) (model.Artifact, error)
	// TakeExpired removes and returns artifacts with ExpiresAt before now.
	TakeExpired(ctx context.Context, now time.Time) ([]model.Artifact, error)
	Close() error
}

// Open creates the registry selected by cfg.
func Open(ctx context.Context, cfg model.Config) (Registry, error) {
	switch backend := cfg.RegistryBackend(); backend {
	case model.RegistrySQLite:
		return OpenSQLite(ctx, cfg.RegistryPath())
	case model.RegistryRedis:
		if cfg.Registry == nil || cfg.Registry.Redis == nil {
			return nil, errors.New("registry.redis is required for the redis backend")
		}
		return OpenRedis(ctx, *cfg.Registry.Redis)
	default:
		return nil, fmt.Errorf("unsupported registry backend %q", backend)
	}
}
