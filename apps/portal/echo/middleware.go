package echoportal

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/route"
	"github.com/chitterchatter/portal/core/session"
	"github.com/chitterchatter/portal/core/user"
	apisvc "github.com/chitterchatter/portal/services/api"
	redisstore "github.com/chitterchatter/portal/storage/tokenstore/redis"
)

const (
	contextSessionKey = "portalSession"
	browserIDCookie   = cookiePrefix + "bid"

	storeCookie = "cookie"
	storeRedis  = "redis"
)

var errNoSession = errors.New("portal session not found in echo.Context")

// browserSession is everything a request knows about its browser.
type browserSession struct {
	store  core.TokenStore
	api    *apisvc.Client
	sess   *session.Service
	logger core.Logger
}

func getBrowserSession(ctx echo.Context) (*browserSession, error) {
	if bs, ok := ctx.Get(contextSessionKey).(*browserSession); ok {
		return bs, nil
	}
	return nil, errNoSession
}

// contextUser returns the logged-in user of the request, for logging.
func contextUser(ctx echo.Context) (user.Record, bool) {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return user.Record{}, false
	}
	st := bs.sess.State()
	if st.User == nil {
		return user.Record{}, false
	}
	return *st.User, true
}

// sessionMiddleware builds the token store, backend client and session of the browser,
// then resolves the session before the handler runs.
func (s *Server) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		store, err := s.tokenStore(ctx)
		if err != nil {
			return errors.Wrap(err, "opening session store")
		}

		api := apisvc.NewClient(s.deps.Conf.API.BaseURL, store, s.deps.HTTPClient)
		bs := &browserSession{
			store:  store,
			api:    api,
			sess:   session.NewService(store, api, s.deps.Logger),
			logger: s.deps.Logger,
		}
		ctx.Set(contextSessionKey, bs)

		bs.sess.Resolve(ctx.Request().Context())
		return next(ctx)
	}
}

func (s *Server) tokenStore(ctx echo.Context) (core.TokenStore, error) {
	conf := s.deps.Conf
	switch conf.Server.Store {
	case storeRedis:
		if s.deps.Redis == nil {
			// misconfigured: no request can be served
			return nil, core.NewShutdownError("redis session store selected without a redis client")
		}
		return redisstore.New(ctx.Request().Context(), s.deps.Redis, s.browserID(ctx), conf.Redis.TTL, s.deps.Logger), nil
	case storeCookie, "":
		return newCookieStore(ctx, cookieOptions{Secure: conf.Server.SecureCookies, MaxAge: conf.Server.CookieMaxAge}), nil
	default:
		return nil, core.NewShutdownError(fmt.Sprintf("unknown session store %q", conf.Server.Store))
	}
}

// browserID returns the id namespacing the browser's server-side session, issuing one if needed.
func (s *Server) browserID(ctx echo.Context) string {
	if cookie, err := ctx.Cookie(browserIDCookie); err == nil {
		if _, err = uuid.Parse(cookie.Value); err == nil {
			return cookie.Value
		}
	}

	id := uuid.NewString()
	ctx.SetCookie(&http.Cookie{
		Name:     browserIDCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.deps.Conf.Redis.TTL.Seconds()),
		Secure:   s.deps.Conf.Server.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// guardMiddleware admits the request only for the given roles (any authenticated role when empty).
func guardMiddleware(roles ...user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			bs, err := getBrowserSession(ctx)
			if err != nil {
				return err
			}

			decision := route.Guard(bs.sess.State(), ctx.Request().URL.RequestURI(), roles...)
			switch decision.Action {
			case route.Render:
				return next(ctx)
			case route.Suspend:
				// resolution completes within the request; only reachable if it was skipped
				ctx.Response().Header().Set(echo.HeaderRetryAfter, "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session is still loading")
			default:
				return ctx.Redirect(http.StatusSeeOther, decision.Location)
			}
		}
	}
}
