package db

import (
	"context"
	"fmt"

	"dutydesk/config"
)

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		store, err := NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "firestore":
		store, err := NewFirestoreDB(ctx, cfg.ProjectID, cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
