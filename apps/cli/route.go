package main

import (
	"context"

	"github.com/chitterchatter/portal/core/route"
	"github.com/chitterchatter/portal/core/user"
)

// guard prints what the portal would do with a visit to path by the current user.
func (cli *commandLine) guard(ctx context.Context, path, allow string) error {
	st := cli.sess.Resolve(ctx)

	decision := route.Guard(st, path, user.ParseRoles(allow)...)
	if decision.Location != "" {
		cli.printf("%s %s\n", decision.Action, decision.Location)
	} else {
		cli.printf("%s\n", decision.Action)
	}
	return nil
}
