package route

import (
	"net/url"
	"strings"

	"github.com/chitterchatter/portal/core/session"
	"github.com/chitterchatter/portal/core/user"
)

const (
	LoginPath = "/login"
	RootPath  = "/"
)

type Action int

const (
	// Suspend means the session is still resolving; render nothing and decide later.
	Suspend Action = iota
	RedirectLogin
	RedirectDashboard
	Render
)

func (a Action) String() string {
	switch a {
	case Suspend:
		return "suspend"
	case RedirectLogin:
		return "redirect-login"
	case RedirectDashboard:
		return "redirect-dashboard"
	default:
		return "render"
	}
}

type Decision struct {
	Action   Action
	Location string // set for redirects
}

// Guard decides what a protected page does for the given session.
// An empty allowed list admits any authenticated role.
func Guard(st session.State, attempted string, allowed ...user.Role) Decision {
	if st.IsLoading {
		return Decision{Action: Suspend}
	}
	if !st.IsAuthenticated {
		return Decision{Action: RedirectLogin, Location: LoginURL(attempted)}
	}
	if len(allowed) > 0 && !hasRole(allowed, st.Role) {
		return Decision{Action: RedirectDashboard, Location: DashboardPath(st.Role)}
	}
	return Decision{Action: Render}
}

func hasRole(roles []user.Role, role user.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// DashboardPath is the landing page of a role.
func DashboardPath(role user.Role) string {
	return "/" + role.String() + "/dashboard"
}

// Redirect is the landing decision of the dashboard redirector once the session is settled.
func Redirect(st session.State) Decision {
	if st.IsLoading {
		return Decision{Action: Suspend}
	}
	if !st.IsAuthenticated {
		return Decision{Action: RedirectLogin, Location: LoginPath}
	}
	return Decision{Action: RedirectDashboard, Location: DashboardPath(st.Role)}
}

// LoginURL is the login page remembering the attempted location.
func LoginURL(attempted string) string {
	next := SafeNext(attempted)
	if next == "" || next == RootPath {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"next": {next}}.Encode()
}

// SafeNext returns next when it is a same-origin absolute path, "" otherwise.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if u.Path == LoginPath {
		return ""
	}
	return next
}
