package storage

import (
	"fmt"
	"strings"

	"wopihost/internal/config"
)

// New builds the backend selected by cfg.Backend.
func New(cfg config.StorageConfig) (Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "minio", "s3":
		return NewMinIO(cfg.MinIO)
	case "azure":
		return NewAzure(cfg.Azure)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
