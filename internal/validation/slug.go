// Package validation implements request-payload validation for the DataHub
// Registry: identifier slugs, membership roles, and API key expiration.
// Validation failures are recoverable "bad request" conditions; handlers map
// them to 400, never to an authorization denial.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

const (
	// SlugMinLength and SlugMaxLength bound account and repository IDs.
	SlugMinLength = 3
	SlugMaxLength = 40
)

// slugPattern matches lowercase alphanumeric slugs with interior hyphens.
// Length is checked separately so the error message can name the real problem.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var (
	// ErrInvalidSlug is returned for malformed account or repository IDs.
	ErrInvalidSlug = errors.New("validation: invalid identifier slug")
	// ErrExpiryNotFuture is returned when an API key expiration is not strictly in the future.
	ErrExpiryNotFuture = errors.New("validation: expiration must be in the future")
	// ErrInvalidRole is returned for unrecognised membership roles.
	ErrInvalidRole = errors.New("validation: invalid membership role")
	// ErrInvalidFlag is returned for unrecognised account flags.
	ErrInvalidFlag = errors.New("validation: invalid account flag")
)

// ValidateSlug checks an account or repository identifier: 3-40 characters,
// lowercase letters, digits, and interior hyphens only.
func ValidateSlug(slug string) error {
	if len(slug) < SlugMinLength {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidSlug, slug, SlugMinLength)
	}
	if len(slug) > SlugMaxLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidSlug, slug, SlugMaxLength)
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric with interior hyphens", ErrInvalidSlug, slug)
	}
	return nil
}

// ValidateExpiry checks that an API key expiration instant is strictly in the
// future relative to now.
func ValidateExpiry(expires, now time.Time) error {
	if !expires.After(now) {
		return fmt.Errorf("%w: %s is not after %s", ErrExpiryNotFuture, expires.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return nil
}

// ValidateRole checks a membership role value.
func ValidateRole(role models.MembershipRole) error {
	if !models.ValidMembershipRoles()[role] {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}

// ValidateFlags checks a set of account flags.
func ValidateFlags(flags []models.AccountFlag) error {
	valid := models.ValidAccountFlags()
	for _, f := range flags {
		if !valid[f] {
			return fmt.Errorf("%w: %q", ErrInvalidFlag, f)
		}
	}
	return nil
}
