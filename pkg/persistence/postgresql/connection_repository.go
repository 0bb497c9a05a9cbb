package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
)

// ConnectionRepository handles integration connection database operations.
type ConnectionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository(db *sql.DB, logger *slog.Logger) *ConnectionRepository {
	return &ConnectionRepository{db: db, logger: logger}
}

// Save links an external account to a tenant, replacing any previous owner.
func (cr *ConnectionRepository) Save(ctx context.Context, connection *models.IntegrationConnection) error {
	query := `
		INSERT INTO integration_connections (provider, external_account_id, company_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, external_account_id) DO UPDATE SET
			company_id = EXCLUDED.company_id
	`

	_, err := cr.db.ExecContext(ctx, query, connection.Provider, connection.ExternalAccountID, connection.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to save integration connection: %w", err)
	}

	return nil
}

// CompanyByAccount returns the tenant owning the external account.
func (cr *ConnectionRepository) CompanyByAccount(ctx context.Context, provider, externalAccountID string) (string, error) {
	query := `
		SELECT company_id
		FROM integration_connections
		WHERE provider = $1 AND external_account_id = $2
	`

	var companyID string

	err := cr.db.QueryRowContext(ctx, query, provider, externalAccountID).Scan(&companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.ErrConnectionNotFound
		}

		return "", fmt.Errorf("failed to query integration connection: %w", err)
	}

	return companyID, nil
}
