// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/config"
	"lendingcore/internal/inventory"
)

// CatalogClient confirms catalog items exist before inventory registers a
// copy of them. Errors mean "could not tell".
type CatalogClient struct {
	gate *gate
}

var _ inventory.ItemLookup = (*CatalogClient)(nil)

func NewCatalogClient(cfg config.ClientConfig, hc *http.Client, log *zap.Logger) *CatalogClient {
	return &CatalogClient{gate: newGate("catalog", cfg, hc, log)}
}

func (c *CatalogClient) ItemExists(ctx context.Context, itemID uuid.UUID) (bool, error) {
	r, err := c.gate.get(ctx, fmt.Sprintf("/items/%s", itemID))
	if err != nil {
		return false, err
	}
	switch r.status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("catalog item %s: unexpected status %d", itemID, r.status)
	}
}
