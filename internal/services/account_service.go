package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

var (
	// ErrSlugTaken is returned when the requested account ID already exists.
	ErrSlugTaken = errors.New("services: account ID is already taken")
	// ErrIdentityAlreadyLinked is returned when the identity behind the
	// session already owns a user account.
	ErrIdentityAlreadyLinked = errors.New("services: identity is already linked to an account")
)

// AccountService handles account onboarding and organization creation.
// Account IDs are caller-chosen slugs, so uniqueness is checked up front to
// give a usable error; the primary key constraint remains the backstop.
type AccountService struct {
	accounts *repositories.AccountRepository
}

// NewAccountService creates a new AccountService
func NewAccountService(accounts *repositories.AccountRepository) *AccountService {
	return &AccountService{accounts: accounts}
}

// CreateUserAccount onboards the identity behind a session into a USER
// account. One identity maps to at most one user account.
func (s *AccountService) CreateUserAccount(ctx context.Context, id, displayName, email, identityID string) (*models.Account, error) {
	if err := validation.ValidateSlug(id); err != nil {
		return nil, err
	}

	linked, err := s.accounts.GetAccountByIdentityID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("check identity link: %w", err)
	}
	if linked != nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityAlreadyLinked, linked.ID)
	}

	account := &models.Account{
		ID:          id,
		Type:        models.AccountTypeUser,
		DisplayName: displayName,
		IdentityID:  &identityID,
	}
	if email != "" {
		account.Email = &email
	}
	return s.create(ctx, account)
}

// CreateOrganization creates an ORGANIZATION account. Organizations have no
// identity of their own; they are operated through memberships.
func (s *AccountService) CreateOrganization(ctx context.Context, id, displayName, email string) (*models.Account, error) {
	if err := validation.ValidateSlug(id); err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:          id,
		Type:        models.AccountTypeOrganization,
		DisplayName: displayName,
	}
	if email != "" {
		account.Email = &email
	}
	return s.create(ctx, account)
}

func (s *AccountService) create(ctx context.Context, account *models.Account) (*models.Account, error) {
	existing, err := s.accounts.GetAccountByID(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("check account ID: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrSlugTaken, account.ID)
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}
