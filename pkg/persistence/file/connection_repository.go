package file

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
)

// ConnectionRepository stores one file per provider account.
type ConnectionRepository struct {
	root string
}

func NewConnectionRepository(root string) *ConnectionRepository {
	return &ConnectionRepository{root: root}
}

func (cr *ConnectionRepository) path(provider, externalAccountID string) string {
	return filepath.Join(cr.root, "connections", safeName(provider), safeName(externalAccountID)+".json")
}

func (cr *ConnectionRepository) Save(_ context.Context, connection *models.IntegrationConnection) error {
	return writeJSON(cr.path(connection.Provider, connection.ExternalAccountID), connection)
}

func (cr *ConnectionRepository) CompanyByAccount(_ context.Context, provider, externalAccountID string) (string, error) {
	var connection models.IntegrationConnection

	found, err := readJSON(cr.path(provider, externalAccountID), &connection)
	if err != nil {
		return "", fmt.Errorf("failed to fetch connection: %w", err)
	}

	if !found {
		return "", persistence.ErrConnectionNotFound
	}

	return connection.CompanyID, nil
}
