package auth

import (
	"context"
	"errors"
)

// Profile is the current user's view of themselves.
type Profile struct {
	User        User             `json:"user"`
	Memberships []MembershipView `json:"memberships"`
	UserType    string           `json:"user_type"`
}

// CurrentUserProfile returns the caller with active memberships. user_type is
// "client" when every active membership is CLIENT, otherwise "employee".
func (s *Service) CurrentUserProfile(ctx context.Context, p Principal) (*Profile, error) {
	user, err := s.store.Users().Find(ctx, p.User.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("user not found")
	}
	if err != nil {
		return nil, wrapInternal(err)
	}
	all, err := s.store.Memberships().ListForUser(ctx, user.ID)
	if err != nil {
		return nil, wrapInternal(err)
	}
	memberships := activeOnly(all)
	return &Profile{User: *user, Memberships: memberships, UserType: userType(memberships)}, nil
}

func userType(memberships []MembershipView) string {
	if len(memberships) == 0 {
		return "client"
	}
	for _, m := range memberships {
		if m.Role.IsStaff() {
			return "employee"
		}
	}
	return "client"
}
