package service

import (
	"time"

	"storefront-api/internal/config"
	"storefront-api/internal/models"
)

// AccessPolicy holds the two lifetimes of the elevated access workflow.
type AccessPolicy struct {
	PendingTTL    time.Duration
	GrantDuration time.Duration
}

// PolicyTable selects the policy of each elevated role.
type PolicyTable map[models.Role]AccessPolicy

func DefaultPolicies() PolicyTable {
	return PolicyTable{
		models.RoleAdmin:   {PendingTTL: 30 * time.Minute, GrantDuration: 12 * time.Hour},
		models.RolePartner: {PendingTTL: 30 * time.Minute, GrantDuration: 720 * time.Hour},
	}
}

func PoliciesFromConfig(cfg config.ElevatedAccessConfig) PolicyTable {
	return PolicyTable{
		models.RoleAdmin:   {PendingTTL: cfg.Admin.PendingTTL, GrantDuration: cfg.Admin.GrantDuration},
		models.RolePartner: {PendingTTL: cfg.Partner.PendingTTL, GrantDuration: cfg.Partner.GrantDuration},
	}
}

func (t PolicyTable) Lookup(role models.Role) (AccessPolicy, error) {
	p, ok := t[role]
	if !ok || !role.Elevated() {
		return AccessPolicy{}, newError(ErrInvalidInput, "Elevated access is not available for role "+string(role))
	}
	return p, nil
}
