package repositories

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
)

// NewRepositoryFromURL picks a Repository implementation from the scheme of connStr:
// sqlite://<path>, postgresql://... or memory://.
// migrationsDir holds one subdirectory per database type.
func NewRepositoryFromURL(ctx context.Context, connStr string, migrationsDir string) (Repository, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %v", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryRepository(), nil
	case "sqlite":
		path := u.Host + u.Path
		repository, err := NewSQLiteRepository(ctx, path, filepath.Join(migrationsDir, "sqlite"))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite repository: %v", err)
		}
		return repository, nil
	case "postgres", "postgresql":
		repository, err := NewPostgresRepository(ctx, u.String(), filepath.Join(migrationsDir, "postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres repository: %v", err)
		}
		return repository, nil
	default:
		return nil, fmt.Errorf("unknown database type %s", u.Scheme)
	}
}
