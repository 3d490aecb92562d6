package apisvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/user"
	inmemstore "github.com/chitterchatter/portal/storage/tokenstore/inmem"
	"github.com/chitterchatter/portal/testutil"
)

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := inmemstore.New()
	client := NewClient(srv.URL+"/api", store, nil)

	t.Run("no token", func(t *testing.T) {
		resp, err := client.Request(context.Background(), http.MethodGet, "/api/auth/me", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, "/api/auth/me", gotPath, "duplicated /api segment must be dropped")
		assert.Empty(t, got.Get("Authorization"))
		assert.Equal(t, "application/json", got.Get("Content-Type"))
		assert.NotEmpty(t, got.Get(requestIDHeader))
	})

	t.Run("bearer token", func(t *testing.T) {
		store.Set(core.KeyAccessToken, "tok")
		resp, err := client.Request(context.Background(), http.MethodGet, "/api/auth/me", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, "Bearer tok", got.Get("Authorization"))
		// 401 is handed back untouched
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		val, ok := store.Get(core.KeyAccessToken)
		assert.True(t, ok)
		assert.Equal(t, "tok", val)
	})
}

func TestRequestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, inmemstore.New(), nil)
	_, err := client.Request(context.Background(), http.MethodGet, "/api/auth/me", nil)
	assert.Error(t, err)
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error key", http.StatusBadRequest, `{"error":"bad"}`, "bad"},
		{"message key", http.StatusNotFound, `{"message":"missing"}`, "missing"},
		{"not json", http.StatusBadGateway, `<html>`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.WriteHeader(tc.status)
			_, _ = rec.WriteString(tc.body)

			err := CheckResponse(rec.Result())
			require.Error(t, err)
			apiErr, ok := err.(*Error)
			require.True(t, ok)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.wantMsg, apiErr.Message)
			assert.Equal(t, tc.status, StatusCode(err))
		})
	}
}

func TestAuthEndpoints(t *testing.T) {
	backend := testutil.NewBackend()
	defer backend.Close()

	student := backend.AddUser(testutil.NewStudent("Sam", "Student", "sam@example.com"), "Passw0rd!")
	restricted := backend.AddUser(testutil.NewInstructor("Rae", "Restricted", "rae@example.com"), "Passw0rd!")
	backend.Restrict(restricted.ID, "Your institution has paused access")
	consent := backend.AddUser(testutil.NewStudent("Cleo", "Consent", "cleo@example.com"), "Passw0rd!")
	backend.RequireConsent(consent.ID)

	ctx := context.Background()
	store := inmemstore.New()
	client := NewClient(backend.URL(), store, nil)

	t.Run("login", func(t *testing.T) {
		tests := []struct {
			name       string
			form       user.LoginForm
			wantStatus int
			check      func(t *testing.T, resp LoginResponse, err error)
		}{
			{
				name: "wrong password",
				form: user.LoginForm{Email: student.Email, Password: "nope"},
				check: func(t *testing.T, _ LoginResponse, err error) {
					assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
				},
			},
			{
				name: "restricted",
				form: user.LoginForm{Email: restricted.Email, Password: "Passw0rd!"},
				check: func(t *testing.T, _ LoginResponse, err error) {
					_, ok := err.(*AccessRestrictedError)
					assert.True(t, ok, "got %v", err)
				},
			},
			{
				name: "needs consent",
				form: user.LoginForm{Email: consent.Email, Password: "Passw0rd!"},
				check: func(t *testing.T, resp LoginResponse, err error) {
					assert.Equal(t, ErrConsentRequired, err)
					assert.True(t, resp.NeedsConsent)
					assert.Empty(t, resp.AccessToken)
				},
			},
			{
				name: "ok",
				form: user.LoginForm{Email: student.Email, Password: "Passw0rd!"},
				check: func(t *testing.T, resp LoginResponse, err error) {
					require.NoError(t, err)
					assert.NotEmpty(t, resp.AccessToken)
					assert.Equal(t, student.ID, resp.User.ID)
					assert.Equal(t, user.RoleStudent, resp.User.Role())
				},
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				resp, err := client.Login(ctx, tc.form)
				tc.check(t, resp, err)
			})
		}
	})

	store.Set(core.KeyAccessToken, backend.Token(student.ID))

	t.Run("me", func(t *testing.T) {
		usr, err := client.Me(ctx)
		require.NoError(t, err)
		assert.Equal(t, "sam@example.com", usr.Email)
	})

	t.Run("update profile", func(t *testing.T) {
		require.NoError(t, client.UpdateProfile(ctx, user.UpdateProfile{FirstName: "Samuel", LastName: "Student"}))
		usr, _ := backend.User(student.ID)
		assert.Equal(t, "Samuel", usr.FirstName)
	})

	t.Run("update picture", func(t *testing.T) {
		require.NoError(t, client.UpdateProfilePicture(ctx, user.UpdateProfilePicture{ProfilePicture: "plum.png"}))
		err := client.UpdateProfilePicture(ctx, user.UpdateProfilePicture{ProfilePicture: "kiwi.png"})
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("change password", func(t *testing.T) {
		err := client.ChangePassword(ctx, user.ChangePassword{CurrentPassword: "wrong", NewPassword: "N3wPassword"})
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
		require.NoError(t, client.ChangePassword(ctx, user.ChangePassword{CurrentPassword: "Passw0rd!", NewPassword: "N3wPassword"}))

		_, err = client.Login(ctx, user.LoginForm{Email: student.Email, Password: "N3wPassword"})
		assert.NoError(t, err)
	})

	t.Run("logout", func(t *testing.T) {
		assert.NoError(t, client.Logout(ctx))
	})

	t.Run("deactivate", func(t *testing.T) {
		require.NoError(t, client.DeactivateAccount(ctx))
		_, err := client.Me(ctx)
		assert.Equal(t, http.StatusForbidden, StatusCode(err))
	})
}

func TestLoginResponseDecoding(t *testing.T) {
	raw := `{"access_token":"tok","user":{"id":3,"email":"m@example.com","is_master":true,"is_student":true}}`
	var resp LoginResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, user.RoleMaster, resp.User.Role())
}
