package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/auxora-tech/casa-saas/internal/ids"
)

// NewUserInput is the credential store contract for account creation. An
// empty Password creates a passwordless account.
type NewUserInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"first_name" validate:"required,max=150"`
	LastName  string `json:"last_name" validate:"required,max=150"`
	Password  string `json:"password" validate:"max=128"`
}

func (in *NewUserInput) normalize() {
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
}

// validate checks the input and the password policy when a password is supplied.
func (in *NewUserInput) validate() error {
	if err := validateInput(in); err != nil {
		return err
	}
	if in.Password != "" {
		if msg := CheckPasswordPolicy(in.Password); msg != "" {
			return fieldError("password", msg)
		}
	}
	return nil
}

// CreateUser creates an active, unverified account. A taken email is a
// ValidationError on the email field.
func (s *Service) CreateUser(ctx context.Context, in NewUserInput) (*User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := s.hashOptional(in.Password)
	if err != nil {
		return nil, err
	}
	var user *User
	err = s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		user, err = s.insertUser(ctx, tx, in, hash, true, false)
		return err
	})
	if errors.Is(err, ErrConflict) {
		return nil, fieldError("email", "a user with this email already exists")
	}
	if err != nil {
		return nil, wrapInternal(err)
	}
	return user, nil
}

func (s *Service) hashOptional(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", internal(err)
	}
	return hash, nil
}

// insertUser writes a normalised user row inside tx.
func (s *Service) insertUser(ctx context.Context, tx Store, in NewUserInput, hash string, active, verified bool) (*User, error) {
	now := s.now().UTC()
	u := &User{
		ID:            ids.NewAt(now),
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		PasswordHash:  hash,
		IsActive:      active,
		EmailVerified: verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Users().Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate returns the user whose password matches, or nil for any mismatch,
// unknown email and passwordless account alike. Errors are reserved for store failures.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, _, err := s.authenticate(ctx, email, password)
	return user, err
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*User, string, error) {
	user, err := s.store.Users().FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify("", password)
		return nil, "unknown_email", nil
	}
	if err != nil {
		return nil, "", err
	}
	if !user.HasPassword() {
		s.hasher.Verify("", password)
		return nil, "passwordless_account", nil
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return nil, "bad_password", nil
	}
	return user, "", nil
}
