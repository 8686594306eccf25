package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	firebaseauth "firebase.google.com/go/v4/auth"
	"golang.org/x/text/language"

	domain "github.com/khadamat/api/internal/domain"
	"github.com/khadamat/api/internal/platform/auth"
	"github.com/khadamat/api/internal/repositories"
)

var (
	// ErrUserInvalidInput indicates invalid profile input data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserInvalidDisplayName indicates the supplied display name failed validation.
	ErrUserInvalidDisplayName = errors.New("user: invalid display name")
	// ErrUserInvalidLanguageTag indicates the supplied locale tag is invalid.
	ErrUserInvalidLanguageTag = errors.New("user: invalid language tag")
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users    repositories.UserRepository
	Firebase auth.UserGetter
	Clock    func() time.Time
}

type userService struct {
	users    repositories.UserRepository
	firebase auth.UserGetter
	clock    func() time.Time
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &userService{
		users:    deps.Users,
		firebase: deps.Firebase,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

// GetProfile fetches the profile document for a user. When the document
// does not exist yet and a Firebase client is configured, the profile is
// seeded from the identity provider record on first access.
func (s *userService) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !isNotFound(err) || s.firebase == nil {
		return UserProfile{}, mapUserRepositoryError(err)
	}

	record, err := s.firebase.GetUser(ctx, userID)
	if err != nil {
		return UserProfile{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	fresh := profileFromFirebase(record, s.clock())
	fresh.UID = userID
	saved, err := s.users.EnsureExists(ctx, fresh)
	if err != nil {
		return UserProfile{}, mapUserRepositoryError(err)
	}
	return saved, nil
}

// EnsureProfile creates the profile document when absent and returns the
// stored record otherwise. Called on every authenticated request path so
// orders always reference an existing user.
func (s *userService) EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (UserProfile, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return UserProfile{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}

	locale := ""
	if trimmed := strings.TrimSpace(cmd.Locale); trimmed != "" {
		canonical, err := canonicaliseLanguageTag(trimmed)
		if err != nil {
			return UserProfile{}, err
		}
		locale = canonical
	}

	now := s.clock()
	profile := UserProfile{
		UID:         uid,
		Email:       normalizeOptionalString(cmd.Email),
		DisplayName: normalizeOptionalString(cmd.DisplayName),
		Phone:       normalizeOptionalString(cmd.Phone),
		Locale:      locale,
		Roles:       normaliseRoleList(cmd.Roles),
		Loyalty: domain.LoyaltyBalance{
			Level: domain.DefaultLoyaltyLevel,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	saved, err := s.users.EnsureExists(ctx, profile)
	if err != nil {
		return UserProfile{}, mapUserRepositoryError(err)
	}
	return saved, nil
}

// UpdateProfile applies a partial update to mutable profile fields. Nil
// pointers leave the stored value untouched.
func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return UserProfile{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return UserProfile{}, mapUserRepositoryError(err)
	}

	changed := false
	if cmd.DisplayName != nil {
		name := strings.TrimSpace(*cmd.DisplayName)
		if err := validateDisplayName(name); err != nil {
			return UserProfile{}, err
		}
		if profile.DisplayName == nil || *profile.DisplayName != name {
			profile.DisplayName = &name
			changed = true
		}
	}
	if cmd.Phone != nil {
		phone := strings.TrimSpace(*cmd.Phone)
		if profile.Phone == nil || *profile.Phone != phone {
			if phone == "" {
				profile.Phone = nil
			} else {
				profile.Phone = &phone
			}
			changed = true
		}
	}
	if cmd.Locale != nil {
		canonical, err := canonicaliseLanguageTag(strings.TrimSpace(*cmd.Locale))
		if err != nil {
			return UserProfile{}, err
		}
		if profile.Locale != canonical {
			profile.Locale = canonical
			changed = true
		}
	}

	if !changed {
		return profile, nil
	}

	profile.UpdatedAt = s.clock()
	saved, err := s.users.UpdateProfile(ctx, profile)
	if err != nil {
		return UserProfile{}, mapUserRepositoryError(err)
	}
	return saved, nil
}

func validateDisplayName(name string) error {
	if name == "" {
		return ErrUserInvalidDisplayName
	}
	length := utf8.RuneCountInString(name)
	if length < 2 || length > 100 {
		return ErrUserInvalidDisplayName
	}
	return nil
}

func canonicaliseLanguageTag(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errors.Join(ErrUserInvalidLanguageTag, err)
	}
	return parsed.String(), nil
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normaliseRoleList(roles []string) []string {
	set := map[string]struct{}{auth.RoleUser: {}}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		set[role] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for role := range set {
		result = append(result, role)
	}
	slices.Sort(result)
	return result
}

func profileFromFirebase(record *firebaseauth.UserRecord, now time.Time) domain.UserProfile {
	profile := domain.UserProfile{
		Roles: []string{auth.RoleUser},
		Loyalty: domain.LoyaltyBalance{
			Level: domain.DefaultLoyaltyLevel,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record == nil {
		return profile
	}

	if record.UserInfo != nil {
		profile.UID = strings.TrimSpace(record.UserInfo.UID)
		if email := strings.ToLower(strings.TrimSpace(record.UserInfo.Email)); email != "" {
			profile.Email = &email
		}
		if name := strings.TrimSpace(record.UserInfo.DisplayName); name != "" {
			profile.DisplayName = &name
		}
		if phone := strings.TrimSpace(record.UserInfo.PhoneNumber); phone != "" {
			profile.Phone = &phone
		}
	}
	if locale, ok := record.CustomClaims["locale"].(string); ok {
		if canonical, err := canonicaliseLanguageTag(locale); err == nil {
			profile.Locale = canonical
		}
	}
	profile.Roles = normaliseRoleList(rolesFromClaims(record.CustomClaims))

	return profile
}

func rolesFromClaims(claims map[string]any) []string {
	var roles []string
	if value, ok := claims["role"].(string); ok {
		roles = append(roles, value)
	}
	switch raw := claims["roles"].(type) {
	case []any:
		for _, item := range raw {
			if str, ok := item.(string); ok {
				roles = append(roles, str)
			}
		}
	case []string:
		roles = append(roles, raw...)
	}
	return roles
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func mapUserRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	return err
}
