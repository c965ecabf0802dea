// Package repository provides persistence for the account directory.
package repository

import (
	"context"

	"session-manager/backend/internal/account/domain"
)

// Repository is the account directory contract consumed by the auth service
// and the session store's stats aggregation.
type Repository interface {
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIDSet(ctx context.Context, ids []string) ([]*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
}
