package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/session"
	"github.com/chitterchatter/portal/core/user"
)

func (cli *commandLine) login(ctx context.Context, email, pwd string) error {
	form := user.LoginForm{Email: email, Password: pwd}
	if err := form.Validate(cli.validate); err != nil {
		return err
	}

	resp, err := cli.api.Login(ctx, form)
	if err != nil {
		return err
	}
	st := cli.sess.Login(resp.AccessToken, resp.User)
	cli.logger.Debug("user logged in", resp.User)

	cli.printf("Logged in as %s <%s> (%s)\n", st.User.FullName(), st.User.Email, st.Role)
	return nil
}

func (cli *commandLine) logout(ctx context.Context) error {
	if token, ok := cli.store.Get(core.KeyAccessToken); ok && token != "" {
		// best-effort: the backend does not revoke tokens
		if err := cli.api.Logout(ctx); err != nil {
			cli.logger.Warn("backend logout", err)
		}
	}
	cli.sess.Logout()
	cli.printf("Logged out\n")
	return nil
}

// authenticate resolves the persisted session against the backend.
func (cli *commandLine) authenticate(ctx context.Context) (session.State, error) {
	st := cli.sess.Resolve(ctx)
	if !st.IsAuthenticated {
		return st, errNotLoggedIn
	}
	return st, nil
}

func (cli *commandLine) whoami(ctx context.Context, offline bool) error {
	if offline {
		usr, ok := cli.sess.Restore()
		if !ok {
			return errNotLoggedIn
		}
		cli.printf("%s <%s> (%s, last known)\n", usr.FullName(), usr.Email, usr.Role())
		return nil
	}

	st, err := cli.authenticate(ctx)
	if err != nil {
		return err
	}
	cli.printf("%s <%s> (%s)\n", st.User.FullName(), st.User.Email, st.Role)

	token, _ := cli.sess.Token()
	exp, err := session.TokenExpiry(token)
	switch {
	case err == nil:
		cli.printf("Session expires %s\n", exp.Local().Format(time.RFC1123))
	case errors.Is(err, session.ErrNoExpiry):
		cli.printf("Session does not expire\n")
	default:
		cli.logger.Debug("reading token expiry", err)
	}
	return nil
}
