package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const ProfileTable = "profiles"

// GetProfile loads a profile row. With an access token the query runs as that user.
func (su *SupabaseRepo) GetProfile(ctx context.Context, id uuid.UUID, accessToken string) (*Profile, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("invalid UUID")
	}

	client, err := su.GetAuthenticatedClient(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated client: %v", err)
	}

	raw, status, err := execute(ctx, client.From(ProfileTable).
		Select("id,email,username,role,created_at", "", false).
		Eq("id", id.String()).
		Execute)
	if err != nil {
		if status != 0 {
			return nil, fmt.Errorf("postgrest error: status=%d body=%s err=%v", status, string(raw), err)
		}
		return nil, fmt.Errorf("failed to get profile by ID: %w", err)
	}

	// Supabase returns an array even for single results
	var profiles []Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile rows: %v", err)
	}
	if len(profiles) == 0 {
		return nil, ErrNotFound
	}
	return &profiles[0], nil
}

func (su *SupabaseRepo) GetRole(ctx context.Context, userID, accessToken string) (Role, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return RoleUser, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	profile, err := su.GetProfile(ctx, id, accessToken)
	if err != nil {
		return RoleUser, err
	}
	return ParseRole(profile.Role), nil
}
