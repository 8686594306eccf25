package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/khadamat/api/internal/platform/auth"
	"github.com/khadamat/api/internal/platform/httpx"
	"github.com/khadamat/api/internal/services"
)

const maxProfileBodySize = 32 * 1024

var errNoEditableFields = errors.New("no editable fields provided")

// MeHandlers exposes authenticated profile endpoints for the current user.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Put("/", h.updateProfile)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxProfileBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd, err := parseUpdateProfileRequest(body, identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	updated, err := h.users.UpdateProfile(ctx, cmd)
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(updated)})
}

// parseUpdateProfileRequest decodes a partial profile update. Absent fields
// stay nil so the service only touches what the client sent. Explicit JSON
// null clears an optional field.
func parseUpdateProfileRequest(data []byte, uid string) (services.UpdateProfileCommand, error) {
	cmd := services.UpdateProfileCommand{UID: uid}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cmd, errors.New("invalid JSON payload")
	}
	if len(raw) == 0 {
		return cmd, errNoEditableFields
	}

	updateFields := 0
	for key, value := range raw {
		switch key {
		case "display_name":
			if isJSONNull(value) {
				return cmd, errors.New("display_name must not be null")
			}
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return cmd, errors.New("display_name must be a string")
			}
			cmd.DisplayName = &name
			updateFields++
		case "phone":
			if isJSONNull(value) {
				empty := ""
				cmd.Phone = &empty
			} else {
				var phone string
				if err := json.Unmarshal(value, &phone); err != nil {
					return cmd, errors.New("phone must be a string")
				}
				cmd.Phone = &phone
			}
			updateFields++
		case "locale":
			if isJSONNull(value) {
				return cmd, errors.New("locale must not be null")
			}
			var locale string
			if err := json.Unmarshal(value, &locale); err != nil {
				return cmd, errors.New("locale must be a string")
			}
			cmd.Locale = &locale
			updateFields++
		default:
			return cmd, fmt.Errorf("field %q is not editable", key)
		}
	}

	if updateFields == 0 {
		return cmd, errNoEditableFields
	}
	return cmd, nil
}

type meResponse struct {
	Profile profilePayload `json:"profile"`
}

type profilePayload struct {
	UID         string                `json:"uid"`
	Email       string                `json:"email,omitempty"`
	DisplayName string                `json:"display_name,omitempty"`
	Phone       string                `json:"phone,omitempty"`
	Locale      string                `json:"locale,omitempty"`
	Roles       []string              `json:"roles"`
	Loyalty     loyaltyBalancePayload `json:"loyalty"`
	CreatedAt   string                `json:"created_at,omitempty"`
	UpdatedAt   string                `json:"updated_at,omitempty"`
}

func buildProfilePayload(profile services.UserProfile) profilePayload {
	roles := profile.Roles
	if len(roles) == 0 {
		roles = []string{}
	}
	return profilePayload{
		UID:         strings.TrimSpace(profile.UID),
		Email:       stringOrEmpty(profile.Email),
		DisplayName: stringOrEmpty(profile.DisplayName),
		Phone:       stringOrEmpty(profile.Phone),
		Locale:      strings.TrimSpace(profile.Locale),
		Roles:       roles,
		Loyalty:     buildBalancePayload(profile.Loyalty),
		CreatedAt:   formatTime(profile.CreatedAt),
		UpdatedAt:   formatTime(profile.UpdatedAt),
	}
}

func writeUserProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidDisplayName):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_display_name", "display name must be between 2 and 100 characters", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserInvalidLanguageTag):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_locale", "locale must be a valid language tag", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "profile not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to process profile request", http.StatusInternalServerError))
	}
}
