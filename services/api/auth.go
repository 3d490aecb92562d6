package apisvc

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core/user"
)

// Auth endpoints
const (
	PathLogin                = "/api/auth/login"
	PathLogout               = "/api/auth/logout"
	PathMe                   = "/api/auth/me"
	PathUpdateProfile        = "/api/auth/update-profile"
	PathUpdateProfilePicture = "/api/auth/update-profile-picture"
	PathChangePassword       = "/api/auth/change-password"
	PathDeactivateAccount    = "/api/auth/deactivate-account"
)

type LoginResponse struct {
	AccessToken      string      `json:"access_token"`
	User             user.Record `json:"user"`
	NeedsConsent     bool        `json:"needs_consent,omitempty"`
	AccessRestricted bool        `json:"access_restricted,omitempty"`
	AccessMessage    string      `json:"access_message,omitempty"`
}

// Login posts the credentials to the public login endpoint. No bearer token is sent.
// A restricted institution yields an *AccessRestrictedError; other non-2xx responses an *Error.
func (c *Client) Login(ctx context.Context, form user.LoginForm) (LoginResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, PathLogin, form)
	if err != nil {
		return LoginResponse{}, err
	}

	var data LoginResponse
	if err = Decode(resp, &data); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden && apiErr.Message == "Access restricted" {
			return LoginResponse{}, &AccessRestrictedError{Message: apiErr.Detail}
		}
		return LoginResponse{}, err
	}
	if data.AccessRestricted {
		return data, &AccessRestrictedError{Message: data.AccessMessage}
	}
	if data.NeedsConsent {
		// the token must not be used before consent is recorded
		return data, ErrConsentRequired
	}
	if data.AccessToken == "" {
		return data, errors.New("login response has no access token")
	}
	return data, nil
}

// Logout notifies the backend. The backend does not revoke tokens, so failures are harmless.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.Request(ctx, http.MethodPost, PathLogout, nil)
	if err != nil {
		return err
	}
	return Decode(resp, nil)
}

func (c *Client) Me(ctx context.Context) (user.Record, error) {
	resp, err := c.Request(ctx, http.MethodGet, PathMe, nil)
	if err != nil {
		return user.Record{}, err
	}
	var usr user.Record
	err = Decode(resp, &usr)
	return usr, err
}

func (c *Client) UpdateProfile(ctx context.Context, up user.UpdateProfile) error {
	resp, err := c.Request(ctx, http.MethodPost, PathUpdateProfile, up)
	if err != nil {
		return err
	}
	return Decode(resp, nil)
}

func (c *Client) UpdateProfilePicture(ctx context.Context, upp user.UpdateProfilePicture) error {
	resp, err := c.Request(ctx, http.MethodPost, PathUpdateProfilePicture, upp)
	if err != nil {
		return err
	}
	return Decode(resp, nil)
}

func (c *Client) ChangePassword(ctx context.Context, cp user.ChangePassword) error {
	body := map[string]string{
		"current_password": cp.CurrentPassword,
		"new_password":     cp.NewPassword,
	}
	resp, err := c.Request(ctx, http.MethodPost, PathChangePassword, body)
	if err != nil {
		return err
	}
	return Decode(resp, nil)
}

func (c *Client) DeactivateAccount(ctx context.Context) error {
	resp, err := c.Request(ctx, http.MethodPost, PathDeactivateAccount, nil)
	if err != nil {
		return err
	}
	return Decode(resp, nil)
}
