package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/connections"
	"github.com/dukex/flowpilot/pkg/extraction"
	"github.com/dukex/flowpilot/pkg/persistence"
)

const tenantCacheNamespace = "flowpilot:tenants"

// NewTenantResolver caches tenant lookups in redis when redisURL is set and in process memory otherwise.
func NewTenantResolver(
	repository persistence.ConnectionRepository,
	redisURL string,
	ttl time.Duration,
	logger *slog.Logger,
) (*connections.Resolver, error) {
	var cache connections.Cache = connections.NewMemoryCache(ttl)

	if redisURL != "" {
		redisCache, err := connections.NewRedisCacheFromURL(redisURL, tenantCacheNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to create tenant cache: %w", err)
		}

		cache = redisCache
	}

	return connections.NewResolver(repository, cache, ttl, logger), nil
}

// NewExtractor returns the field extraction client, or a no-op extractor when no endpoint is configured.
func NewExtractor(endpoint string, timeout time.Duration) extraction.Extractor {
	if endpoint == "" {
		return extraction.NoopExtractor{}
	}

	return extraction.NewHTTPExtractor(endpoint, timeout)
}
