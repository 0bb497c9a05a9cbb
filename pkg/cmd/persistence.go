package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence picks the store from the URL scheme. Anything without a known scheme is a directory
// for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
