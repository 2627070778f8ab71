package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/greenloop/pickup-coordinator/internal/pickup"
)

type userGetter interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*pickup.User, error)
}

// RepoResolver resolves display names through the user table.
type RepoResolver struct {
	users userGetter
}

func NewRepoResolver(users userGetter) *RepoResolver {
	return &RepoResolver{users: users}
}

func (r *RepoResolver) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := r.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}
