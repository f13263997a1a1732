package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/circulation"
	"lendingcore/internal/config"
)

// InventoryClient is the circulation.CopyAvailabilityGate over the inventory
// service's copy endpoints.
type InventoryClient struct {
	gate *gate
}

var _ circulation.CopyAvailabilityGate = (*InventoryClient)(nil)

func NewInventoryClient(cfg config.ClientConfig, hc *http.Client, log *zap.Logger) *InventoryClient {
	return &InventoryClient{gate: newGate("inventory", cfg, hc, log)}
}

func (c *InventoryClient) Exists(ctx context.Context, copyID uuid.UUID) (bool, error) {
	r, err := c.gate.get(ctx, fmt.Sprintf("/copies/%s/exists", copyID))
	if err != nil {
		return false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	if r.status != http.StatusOK {
		return false, fmt.Errorf("%w: inventory exists: status %d", circulation.ErrGateUnavailable, r.status)
	}
	ok, err := flag(r.body, "exists")
	if err != nil {
		return false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	return ok, nil
}

// IsAvailable answers false for an unknown copy.
func (c *InventoryClient) IsAvailable(ctx context.Context, copyID uuid.UUID) (bool, error) {
	available, _, err := c.availability(ctx, copyID)
	return available, err
}

// Validate asks once; the availability endpoint answers 404 for a copy it
// does not know.
func (c *InventoryClient) Validate(ctx context.Context, copyID uuid.UUID) error {
	available, found, err := c.availability(ctx, copyID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", circulation.ErrCopyNotFound, copyID)
	}
	if !available {
		return fmt.Errorf("%w: %s", circulation.ErrCopyNotAvailable, copyID)
	}
	return nil
}

func (c *InventoryClient) availability(ctx context.Context, copyID uuid.UUID) (available, found bool, err error) {
	r, err := c.gate.get(ctx, fmt.Sprintf("/copies/%s/available", copyID))
	if err != nil {
		return false, false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	switch r.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, false, nil
	default:
		return false, false, fmt.Errorf("%w: inventory available: status %d", circulation.ErrGateUnavailable, r.status)
	}
	ok, err := flag(r.body, "available")
	if err != nil {
		return false, false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	return ok, true, nil
}

func (c *InventoryClient) NotifyLoaned(ctx context.Context, copyID uuid.UUID) circulation.Notification {
	return c.notify(ctx, fmt.Sprintf("/copies/%s/mark-loaned", copyID))
}

func (c *InventoryClient) NotifyReturned(ctx context.Context, copyID uuid.UUID) circulation.Notification {
	return c.notify(ctx, fmt.Sprintf("/copies/%s/mark-returned", copyID))
}

// notify maps the reply onto an outcome. Any 2xx is delivered; a 4xx is the
// copy side refusing and will not change on retry.
func (c *InventoryClient) notify(ctx context.Context, path string) circulation.Notification {
	r, err := c.gate.post(ctx, path)
	switch {
	case err != nil && isTimeout(err):
		return circulation.TimedOut(err)
	case err != nil:
		return circulation.Failed(err)
	case r.status >= 200 && r.status < 300:
		return circulation.Delivered()
	case r.status >= 400 && r.status < 500:
		return circulation.Rejected(fmt.Errorf("inventory %s: status %d: %s", path, r.status, errorCode(r.body)))
	default:
		return circulation.Failed(fmt.Errorf("inventory %s: unexpected status %d", path, r.status))
	}
}

// errorCode pulls the code out of an httpx error body, if there is one.
func errorCode(body []byte) string {
	var e struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(body, &e) != nil || e.Code == "" {
		return "no detail"
	}
	return e.Code
}
