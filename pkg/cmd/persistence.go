// Package cmd holds construction helpers shared by the binaries: picking a
// definition store and an event bus from configuration strings.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/citygrid/sentinel/pkg/persistence"
	"github.com/citygrid/sentinel/pkg/persistence/file"
	"github.com/citygrid/sentinel/pkg/persistence/postgres"
)

// NewStore selects a store implementation from the database URL scheme:
// "postgres://..." connects to PostgreSQL, anything else is treated as a
// file-system root.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Store, error) {
	switch parseStoreProvider(databaseURL) {
	case "postgres":
		store, err := postgres.NewStore(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}

		return store, nil
	default:
		return file.NewStore(databaseURL), nil
	}
}

func parseStoreProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch provider {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "file"
	}
}
