package echoportal

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/route"
	"github.com/chitterchatter/portal/core/user"
)

type ServerDeps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	// Redis backs the session store when Conf.Server.Store is "redis".
	Redis *redis.Client
	// HTTPClient talks to the backend; nil means http.DefaultClient.
	HTTPClient     *http.Client
	DisableReqLogs bool
}

type Server struct {
	deps     ServerDeps
	app      *echo.Echo
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = core.NopLogger
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/healthz", s.health)
	if conf.Debug {
		s.app.GET("/debug/vars", echo.WrapHandler(expvar.Handler()))
	}

	// every page below knows the session of the browser
	app := s.app.Group("", s.sessionMiddleware)

	p := portal{
		logger:     s.deps.Logger,
		validate:   s.deps.Validate,
		translator: s.deps.Translator,
	}

	// public pages: never guarded
	app.GET(route.LoginPath, p.loginPage)
	app.POST(route.LoginPath, p.login)
	app.POST("/logout", p.logout)
	app.GET(route.RootPath, p.redirector)

	registerRolePages(app.Group("/"+user.RoleStudent.String(), guardMiddleware(user.RoleStudent)), p, studentSelection)
	registerRolePages(app.Group("/"+user.RoleInstructor.String(), guardMiddleware(user.RoleInstructor)), p, instructorSelection)
	registerRolePages(app.Group("/"+user.RoleMaster.String(), guardMiddleware(user.RoleMaster)), p, instructorSelection)
}

func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

// Errors receives the error that made the server stop listening.
func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives SIGINT, SIGTERM or a shutdown requested by a handler.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{
		"status": "ok",
		"build":  s.deps.Conf.Build,
		"env":    s.deps.Conf.Env,
	})
}
