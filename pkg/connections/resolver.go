package connections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/persistence"
)

const unknownTenant = "-"

// Resolver looks up tenants through the connection repository with a read-through cache. Unknown accounts
// are cached for a shorter time so a newly connected account is picked up quickly.
type Resolver struct {
	repository  persistence.ConnectionRepository
	cache       Cache
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

func NewResolver(repository persistence.ConnectionRepository, cache Cache, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		repository:  repository,
		cache:       cache,
		ttl:         ttl,
		negativeTTL: ttl / 10,
		logger:      logger.With("module", "connections"),
	}
}

// Resolve returns the tenant owning the account, or ok=false when no tenant does.
func (r *Resolver) Resolve(ctx context.Context, provider, externalAccountID string) (string, bool, error) {
	if externalAccountID == "" {
		return "", false, nil
	}

	key := provider + ":" + externalAccountID

	cached, found, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "connection cache read failed", "error", err)
	} else if found {
		return r.decode(cached)
	}

	companyID, err := r.repository.CompanyByAccount(ctx, provider, externalAccountID)
	if err != nil && !persistence.IsConnectionNotFound(err) {
		return "", false, fmt.Errorf("failed to resolve %s account %s: %w", provider, externalAccountID, err)
	}

	value, ttl := companyID, r.ttl
	if err != nil {
		value, ttl = unknownTenant, r.negativeTTL
	}

	if setErr := r.cache.Set(ctx, key, value, ttl); setErr != nil {
		r.logger.WarnContext(ctx, "connection cache write failed", "error", setErr)
	}

	return r.decode(value)
}

func (r *Resolver) decode(value string) (string, bool, error) {
	if value == unknownTenant {
		return "", false, nil
	}

	return value, true, nil
}
