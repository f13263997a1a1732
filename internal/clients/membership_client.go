// internal/clients/membership_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/circulation"
	"lendingcore/internal/config"
)

// MembershipClient is the circulation.EligibilityGate over the membership
// service. Any failure to get an answer is ErrGateUnavailable.
type MembershipClient struct {
	gate *gate
}

var _ circulation.EligibilityGate = (*MembershipClient)(nil)

func NewMembershipClient(cfg config.ClientConfig, hc *http.Client, log *zap.Logger) *MembershipClient {
	return &MembershipClient{gate: newGate("membership", cfg, hc, log)}
}

func (c *MembershipClient) Exists(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	r, err := c.gate.get(ctx, fmt.Sprintf("/members/%s/exists", borrowerID))
	if err != nil {
		return false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	switch r.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: membership exists: status %d", circulation.ErrGateUnavailable, r.status)
	}
	ok, err := flag(r.body, "exists")
	if err != nil {
		return false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	return ok, nil
}

func (c *MembershipClient) CanBorrow(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	r, err := c.gate.get(ctx, fmt.Sprintf("/members/%s/can-borrow", borrowerID))
	if err != nil {
		return false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	if r.status != http.StatusOK {
		return false, fmt.Errorf("%w: membership can-borrow: status %d", circulation.ErrGateUnavailable, r.status)
	}
	ok, err := flag(r.body, "can_borrow")
	if err != nil {
		return false, fmt.Errorf("%w: %w", circulation.ErrGateUnavailable, err)
	}
	return ok, nil
}

func (c *MembershipClient) Validate(ctx context.Context, borrowerID uuid.UUID) error {
	exists, err := c.Exists(ctx, borrowerID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", circulation.ErrBorrowerNotFound, borrowerID)
	}
	can, err := c.CanBorrow(ctx, borrowerID)
	if err != nil {
		return err
	}
	if !can {
		return fmt.Errorf("%w: %s", circulation.ErrBorrowerNotEligible, borrowerID)
	}
	return nil
}
