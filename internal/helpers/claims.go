package helpers

import "github.com/joshua-takyi/fieldbook/internal/models"

type EnhancedClaims struct {
	*CustomClaims
	Role   models.Role `json:"role"`
	UserID string      `json:"id"`
	Email  string      `json:"email,omitempty"`
}

// ClaimsRole picks a role from the token itself. Supabase puts "authenticated" in the
// top-level role claim, so application roles are read from app_metadata first.
func ClaimsRole(c *CustomClaims) models.Role {
	if c == nil {
		return models.RoleUser
	}
	if len(c.AppMetadata.Roles) > 0 {
		return models.ParseRole(c.AppMetadata.Roles[0])
	}
	return models.ParseRole(c.Role)
}

func (ec *EnhancedClaims) Permits(c models.Capability) bool {
	return ec.Role.Permits(c)
}

func (ec *EnhancedClaims) Requester() models.Requester {
	return models.Requester{UserID: ec.UserID, Role: ec.Role}
}
