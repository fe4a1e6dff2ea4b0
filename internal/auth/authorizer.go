package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/repository"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

// Caller identifies the authenticated principal of a request. Identity is
// established by the gateway; this service only enforces capability checks.
type Caller struct {
	ClientID uuid.UUID
	Elevated bool
}

// Authorizer decides whether a caller may act on a platform account.
type Authorizer struct {
	directory repository.PlatformDirectory
}

// NewAuthorizer constructs an authorizer over the platform directory.
func NewAuthorizer(directory repository.PlatformDirectory) *Authorizer {
	return &Authorizer{directory: directory}
}

// CanAccessPlatform returns nil when the caller may act on the platform.
// Elevated callers pass unconditionally; others must own the platform's
// client. Unknown platforms surface ErrNotFound.
func (a *Authorizer) CanAccessPlatform(ctx context.Context, caller Caller, platformID uuid.UUID) error {
	if caller.Elevated {
		return nil
	}

	platform, err := a.directory.Get(ctx, platformID)
	if err != nil {
		return err
	}

	if platform.ClientID != caller.ClientID {
		return fmt.Errorf("%w: platform %s belongs to another client", apperrors.ErrForbidden, platformID)
	}
	return nil
}
