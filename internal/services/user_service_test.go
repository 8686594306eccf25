package services

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	domain "github.com/khadamat/api/internal/domain"
)

type stubFirebase struct {
	record *firebaseauth.UserRecord
	err    error
}

func (s *stubFirebase) GetUser(_ context.Context, _ string) (*firebaseauth.UserRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func newUserFixture(t *testing.T, firebase *stubFirebase) (UserService, *fakeUsersRepo) {
	t.Helper()
	users := newFakeUsersRepo()
	svc, err := NewUserService(UserServiceDeps{
		Users:    users,
		Firebase: firebase,
		Clock:    func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}
	return svc, users
}

func TestEnsureProfileCreatesWithDefaultLevel(t *testing.T) {
	svc, _ := newUserFixture(t, nil)

	email := "user@example.com"
	profile, err := svc.EnsureProfile(context.Background(), EnsureProfileCommand{
		UID:    "uid-1",
		Email:  &email,
		Locale: "ar_SA",
	})
	if err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	if profile.Loyalty.Level != domain.DefaultLoyaltyLevel {
		t.Fatalf("expected default level, got %s", profile.Loyalty.Level)
	}
	if profile.Loyalty.Points != 0 || profile.Loyalty.PointsUsed != 0 {
		t.Fatalf("expected zero balance for fresh profile, got %+v", profile.Loyalty)
	}
	if profile.Locale != "ar-SA" {
		t.Fatalf("expected canonical locale ar-SA, got %s", profile.Locale)
	}
	if len(profile.Roles) != 1 || profile.Roles[0] != "user" {
		t.Fatalf("expected base user role, got %v", profile.Roles)
	}
}

func TestEnsureProfileKeepsExistingRecord(t *testing.T) {
	svc, users := newUserFixture(t, nil)
	users.users["uid-1"] = domain.UserProfile{
		UID:     "uid-1",
		Loyalty: domain.LoyaltyBalance{Points: 40, Level: "silver"},
	}

	profile, err := svc.EnsureProfile(context.Background(), EnsureProfileCommand{UID: "uid-1"})
	if err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	if profile.Loyalty.Points != 40 || profile.Loyalty.Level != "silver" {
		t.Fatalf("expected stored record untouched, got %+v", profile.Loyalty)
	}
}

func TestUpdateProfileValidatesInput(t *testing.T) {
	svc, users := newUserFixture(t, nil)
	users.users["uid-1"] = domain.UserProfile{UID: "uid-1"}

	short := "x"
	_, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UID: "uid-1", DisplayName: &short})
	if !errors.Is(err, ErrUserInvalidDisplayName) {
		t.Fatalf("expected display name validation, got %v", err)
	}

	badLocale := "no_such_tag_%%"
	_, err = svc.UpdateProfile(context.Background(), UpdateProfileCommand{UID: "uid-1", Locale: &badLocale})
	if !errors.Is(err, ErrUserInvalidLanguageTag) {
		t.Fatalf("expected language tag validation, got %v", err)
	}

	name := "Sara Ahmed"
	locale := "en_US"
	updated, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UID: "uid-1", DisplayName: &name, Locale: &locale})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.DisplayName == nil || *updated.DisplayName != "Sara Ahmed" {
		t.Fatalf("expected display name saved, got %+v", updated.DisplayName)
	}
	if updated.Locale != "en-US" {
		t.Fatalf("expected canonical locale, got %s", updated.Locale)
	}
}

func TestGetProfileSeedsFromFirebase(t *testing.T) {
	firebase := &stubFirebase{record: &firebaseauth.UserRecord{
		UserInfo: &firebaseauth.UserInfo{
			UID:         "uid-1",
			Email:       "User@Example.com",
			DisplayName: "Sara",
		},
		CustomClaims: map[string]any{"locale": "ar", "roles": []any{"admin"}},
	}}
	svc, users := newUserFixture(t, firebase)

	profile, err := svc.GetProfile(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Email == nil || *profile.Email != "user@example.com" {
		t.Fatalf("expected lowercased email, got %+v", profile.Email)
	}
	if profile.Locale != "ar" {
		t.Fatalf("expected locale from claims, got %s", profile.Locale)
	}
	if len(profile.Roles) != 2 {
		t.Fatalf("expected admin and user roles, got %v", profile.Roles)
	}
	if _, ok := users.users["uid-1"]; !ok {
		t.Fatalf("expected seeded profile persisted")
	}

	firebase.err = errors.New("no such user")
	if _, err := svc.GetProfile(context.Background(), "uid-2"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found for unknown identity, got %v", err)
	}
}
