package echoportal

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/session"
)

const cookiePrefix = "cc_"

type cookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

// cookieStore keeps the session in one cookie per key on the current request/response.
// Values written during the request are visible to later reads of the same request.
type cookieStore struct {
	ctx     echo.Context
	opts    cookieOptions
	pending map[string]*string // nil: removed during this request
}

var _ core.TokenStore = (*cookieStore)(nil)

func newCookieStore(ctx echo.Context, opts cookieOptions) *cookieStore {
	return &cookieStore{ctx: ctx, opts: opts, pending: make(map[string]*string)}
}

func (s *cookieStore) Get(key string) (string, bool) {
	if val, ok := s.pending[key]; ok {
		if val == nil {
			return "", false
		}
		return *val, true
	}

	cookie, err := s.ctx.Cookie(cookiePrefix + key)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (s *cookieStore) Set(key, value string) {
	s.pending[key] = &value

	maxAge := s.opts.MaxAge
	if key == core.KeyAccessToken {
		// the token cookie never outlives the token
		if exp, err := session.TokenExpiry(value); err == nil {
			if ttl := time.Until(exp); ttl < maxAge {
				maxAge = ttl
			}
		}
	}
	if maxAge < time.Second {
		maxAge = time.Second
	}
	s.ctx.SetCookie(s.cookie(key, base64.RawURLEncoding.EncodeToString([]byte(value)), int(maxAge/time.Second)))
}

func (s *cookieStore) Remove(keys ...string) {
	for _, key := range keys {
		s.pending[key] = nil
		s.ctx.SetCookie(s.cookie(key, "", -1))
	}
}

func (s *cookieStore) cookie(key, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     cookiePrefix + key,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   s.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
