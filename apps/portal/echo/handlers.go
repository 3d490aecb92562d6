package echoportal

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/class"
	"github.com/chitterchatter/portal/core/route"
	"github.com/chitterchatter/portal/core/user"
	apisvc "github.com/chitterchatter/portal/services/api"
)

var (
	errWrongCurrentPassword = "current password is incorrect"
	errSectionRequired      = "select a section or clear the selection"
)

type portal struct {
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
}

// Public pages

func (p portal) loginPage(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}
	next := route.SafeNext(ctx.QueryParam("next"))

	if st := bs.sess.State(); st.IsAuthenticated {
		return ctx.Redirect(http.StatusSeeOther, landing(next, st.Role))
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"next":   next,
		"fields": []string{"email", "password"},
	})
}

func (p portal) login(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}

	data := new(user.LoginForm)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = data.Validate(p.validate); err != nil {
		return err
	}

	resp, err := bs.api.Login(ctx.Request().Context(), *data)
	if err != nil {
		return err
	}
	st := bs.sess.Login(resp.AccessToken, resp.User)
	p.logger.Info("user logged in", resp.User)

	next := ctx.QueryParam("next")
	if next == "" {
		next = ctx.FormValue("next")
	}
	return ctx.Redirect(http.StatusSeeOther, landing(route.SafeNext(next), st.Role))
}

// landing is where a freshly authenticated user goes: the remembered page or their dashboard.
func landing(next string, role user.Role) string {
	if next != "" {
		return next
	}
	return route.DashboardPath(role)
}

func (p portal) logout(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}

	if bs.sess.State().IsAuthenticated {
		// best-effort: the backend does not revoke tokens
		if err = bs.api.Logout(ctx.Request().Context()); err != nil {
			p.logger.Warn("backend logout", err)
		}
	}
	bs.sess.Logout()
	return ctx.Redirect(http.StatusSeeOther, route.LoginPath)
}

func (p portal) redirector(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}
	decision := route.Redirect(bs.sess.State())
	if decision.Action == route.Suspend {
		ctx.Response().Header().Set(echo.HeaderRetryAfter, "1")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session is still loading")
	}
	return ctx.Redirect(http.StatusSeeOther, decision.Location)
}

// Settings pages (any role)

func (p portal) profile(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, bs.sess.State().User)
}

func (p portal) updateProfile(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}

	data := new(user.UpdateProfile)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = data.Validate(p.validate); err != nil {
		return err
	}
	if err = bs.api.UpdateProfile(ctx.Request().Context(), *data); err != nil {
		return err
	}
	return p.refetchedUser(ctx, bs)
}

func (p portal) updatePicture(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}

	data := new(user.UpdateProfilePicture)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = data.Validate(p.validate); err != nil {
		return err
	}
	if err = bs.api.UpdateProfilePicture(ctx.Request().Context(), *data); err != nil {
		return err
	}
	return p.refetchedUser(ctx, bs)
}

// refetchedUser refreshes the session after a profile mutation and renders the new user.
func (p portal) refetchedUser(ctx echo.Context, bs *browserSession) error {
	st := bs.sess.RefetchUser(ctx.Request().Context())
	if !st.IsAuthenticated {
		return ctx.Redirect(http.StatusSeeOther, route.LoginPath)
	}
	return ctx.JSON(http.StatusOK, st.User)
}

func (p portal) changePassword(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}

	data := new(user.ChangePassword)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = data.Validate(p.validate, *bs.sess.State().User); err != nil {
		return err
	}

	err = bs.api.ChangePassword(ctx.Request().Context(), *data)
	if apisvc.StatusCode(err) == http.StatusUnauthorized {
		// the backend answers 401 for a wrong current password; the session itself is fine
		return core.NewValidationError(nil, core.FieldError{Field: "current_password", Error: errWrongCurrentPassword})
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Password updated"})
}

func (p portal) deactivate(ctx echo.Context) error {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return err
	}

	if err = bs.api.DeactivateAccount(ctx.Request().Context()); err != nil {
		return err
	}
	p.logger.Info("account deactivated", *bs.sess.State().User)
	bs.sess.Logout()
	return ctx.Redirect(http.StatusSeeOther, route.LoginPath)
}

// Role pages

func instructorSelection(bs *browserSession) *class.Selection[class.InstructorClass] {
	return class.NewInstructorSelection(bs.sess, bs.api, bs.store, bs.logger)
}

func studentSelection(bs *browserSession) *class.Selection[class.StudentClass] {
	return class.NewStudentSelection(bs.sess, bs.api, bs.store, bs.logger)
}

type rolePages[C class.Summary] struct {
	portal
	newSelection func(bs *browserSession) *class.Selection[C]
}

func registerRolePages[C class.Summary](g *echo.Group, p portal, newSelection func(bs *browserSession) *class.Selection[C]) {
	pages := rolePages[C]{portal: p, newSelection: newSelection}

	g.GET("/dashboard", pages.dashboard)
	g.GET("/classes", pages.classes)
	g.POST("/classes/select", pages.selectClass)

	sg := g.Group("/settings")
	sg.GET("/profile", p.profile)
	sg.POST("/profile", p.updateProfile)
	sg.POST("/password", p.changePassword)
	sg.POST("/picture", p.updatePicture)
	sg.POST("/deactivate", p.deactivate)
}

// selection loads the class selection of the request's session. The caller closes it.
func (pg rolePages[C]) selection(ctx echo.Context) (*browserSession, *class.Selection[C], error) {
	bs, err := getBrowserSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	sel := pg.newSelection(bs)
	sel.Start(ctx.Request().Context())
	sel.Wait()
	return bs, sel, nil
}

type classesView[C class.Summary] struct {
	Available       []C    `json:"available"`
	Selected        *C     `json:"selected"`
	IsClassSelected bool   `json:"is_class_selected"`
	DisplayName     string `json:"display_name"`
	Params          string `json:"params"`
	HasInitialized  bool   `json:"has_initialized"`
	Error           string `json:"error,omitempty"`
}

func newClassesView[C class.Summary](st class.State[C]) classesView[C] {
	view := classesView[C]{
		Available:       st.Available,
		Selected:        st.Selected,
		IsClassSelected: st.IsClassSelected(),
		DisplayName:     st.DisplayName(),
		Params:          st.APIParams().Encode(),
		HasInitialized:  st.HasInitialized,
	}
	if view.Available == nil {
		view.Available = []C{}
	}
	if st.Err != nil {
		view.Error = st.Err.Error()
	}
	return view
}

func (pg rolePages[C]) dashboard(ctx echo.Context) error {
	bs, sel, err := pg.selection(ctx)
	if err != nil {
		return err
	}
	defer sel.Close()

	st := bs.sess.State()
	cs := sel.State()
	return ctx.JSON(http.StatusOK, echo.Map{
		"user":   st.User,
		"role":   st.Role,
		"class":  cs.DisplayName(),
		"params": cs.APIParams().Encode(),
	})
}

func (pg rolePages[C]) classes(ctx echo.Context) error {
	_, sel, err := pg.selection(ctx)
	if err != nil {
		return err
	}
	defer sel.Close()

	return ctx.JSON(http.StatusOK, newClassesView(sel.State()))
}

type selectClassRequest struct {
	SectionID int  `json:"section_id" form:"section_id"`
	Clear     bool `json:"clear" form:"clear"`
}

func (pg rolePages[C]) selectClass(ctx echo.Context) error {
	data := new(selectClassRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	if !data.Clear && data.SectionID <= 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "section_id", Error: errSectionRequired})
	}

	_, sel, err := pg.selection(ctx)
	if err != nil {
		return err
	}
	defer sel.Close()

	if data.Clear {
		sel.Select(nil)
	} else if _, err = sel.SelectBySection(data.SectionID); err != nil {
		return errors.Wrap(err, "selecting class")
	}
	return ctx.JSON(http.StatusOK, newClassesView(sel.State()))
}
