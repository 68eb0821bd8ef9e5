package storage

import (
	"context"

	"github.com/iudanet/dealsync/internal/models"
)

// DealStorage defines interface for deal persistence on the server.
// Every change increments Version; callers pass the version they based
// the change on and get *StaleVersionError when it is no longer current.
type DealStorage interface {
	// CreateDeal stores a new deal with version 1
	// Returns ErrDealExists if the tenant already has a deal with this id
	CreateDeal(ctx context.Context, deal *models.Deal) error

	// GetDeal retrieves a deal of the tenant
	// Returns ErrDealNotFound if deal doesn't exist
	GetDeal(ctx context.Context, tenantID, id string) (*models.Deal, error)

	// UpdateDeal applies fn to the stored deal if its version equals baseVersion
	UpdateDeal(ctx context.Context, tenantID, id string, baseVersion int64, fn func(deal *models.Deal) error) (*models.Deal, error)

	// DeleteDeal removes the deal if its version equals baseVersion
	DeleteDeal(ctx context.Context, tenantID, id string, baseVersion int64) error
}
