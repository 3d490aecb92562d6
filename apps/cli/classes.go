package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core/class"
	"github.com/chitterchatter/portal/core/user"
)

// listRole picks the class list for the requested role, defaulting to the user's own.
func listRole(requested string, actual user.Role) (user.Role, error) {
	if requested == "" {
		return actual, nil
	}
	role := user.ParseRole(requested)
	if role == "" {
		return "", errors.Errorf("unknown role %q", requested)
	}
	if (role == user.RoleStudent) != (actual == user.RoleStudent) {
		return "", errors.Errorf("%s classes are not available to a %s", role, actual)
	}
	return role, nil
}

func (cli *commandLine) classes(ctx context.Context, role string) error {
	st, err := cli.authenticate(ctx)
	if err != nil {
		return err
	}
	r, err := listRole(role, st.Role)
	if err != nil {
		return err
	}

	if r == user.RoleStudent {
		return printClasses(ctx, cli, class.NewStudentSelection(cli.sess, cli.api, cli.store, cli.logger))
	}
	return printClasses(ctx, cli, class.NewInstructorSelection(cli.sess, cli.api, cli.store, cli.logger))
}

func (cli *commandLine) selectClass(ctx context.Context, sectionID int, reset bool) error {
	st, err := cli.authenticate(ctx)
	if err != nil {
		return err
	}

	if st.Role == user.RoleStudent {
		return selectSection(ctx, cli, class.NewStudentSelection(cli.sess, cli.api, cli.store, cli.logger), sectionID, reset)
	}
	return selectSection(ctx, cli, class.NewInstructorSelection(cli.sess, cli.api, cli.store, cli.logger), sectionID, reset)
}

// loaded starts sel and waits for its first load. The caller closes it.
func loaded[C class.Summary](ctx context.Context, sel *class.Selection[C]) (class.State[C], error) {
	sel.Start(ctx)
	sel.Wait()
	st := sel.State()
	return st, st.Err
}

func printClasses[C class.Summary](ctx context.Context, cli *commandLine, sel *class.Selection[C]) error {
	defer sel.Close()

	st, err := loaded(ctx, sel)
	if err != nil {
		return err
	}
	if len(st.Available) == 0 {
		cli.printf("No classes\n")
		return nil
	}

	var selected int
	if st.Selected != nil {
		selected = (*st.Selected).Summary().SectionID
	}
	for _, c := range st.Available {
		b := c.Summary()
		mark := " "
		if b.SectionID == selected {
			mark = "*"
		}
		cli.printf("%s %6d  %-24s %s\n", mark, b.SectionID, b.DisplayName(), b.Title)
	}
	cli.printf("Selected: %s\n", st.DisplayName())
	return nil
}

func selectSection[C class.Summary](ctx context.Context, cli *commandLine, sel *class.Selection[C], sectionID int, reset bool) error {
	defer sel.Close()

	if _, err := loaded(ctx, sel); err != nil {
		return err
	}
	if reset {
		sel.Select(nil)
	} else if _, err := sel.SelectBySection(sectionID); err != nil {
		return err
	}
	cli.printf("Selected: %s\n", sel.DisplayName())
	return nil
}
