package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/session"
	apisvc "github.com/chitterchatter/portal/services/api"
)

const requestTimeout = 15 * time.Second

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp        = errors.New("help provided")
	errNotLoggedIn = errors.New("not logged in: run `chitter login -email EMAIL`")
)

type commandLine struct {
	store    core.TokenStore
	api      *apisvc.Client
	sess     *session.Service
	logger   core.Logger
	validate *validator.Validate
	out      io.Writer
}

func newCommandLine(store core.TokenStore, api *apisvc.Client, logger core.Logger, validate *validator.Validate, out io.Writer) *commandLine {
	return &commandLine{
		store:    store,
		api:      api,
		sess:     session.NewService(store, api, logger),
		logger:   logger,
		validate: validate,
		out:      out,
	}
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	fmt.Fprintf(cli.out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  login -email EMAIL                 - log in; the password is prompted next\n")
	cli.printf("  logout                             - end the session\n")
	cli.printf("  whoami [-offline]                  - show the current user\n")
	cli.printf("  classes [-role ROLE]               - list the classes of the current user\n")
	cli.printf("  select -section ID | -clear        - select a class section, or all classes\n")
	cli.printf("  route -path PATH [-allow R1,R2]    - show where PATH takes the current user\n")
}

func (cli *commandLine) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// parse turns -h into errHelp.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return errHelp
		}
		return err
	}
	return nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	loginCmd := cli.flagSet("login")
	loginEmail := loginCmd.String("email", "", "The user's email. The password will be prompted next.")

	logoutCmd := cli.flagSet("logout")

	whoamiCmd := cli.flagSet("whoami")
	whoamiOffline := whoamiCmd.Bool("offline", false, "Show the last known user without contacting the backend.")

	classesCmd := cli.flagSet("classes")
	classesRole := classesCmd.String("role", "", "List the classes as this role (student|instructor|master). Defaults to the user's role.")

	selectCmd := cli.flagSet("select")
	selectSection := selectCmd.Int("section", 0, "The section to select.")
	selectClear := selectCmd.Bool("clear", false, "Clear the selection (All Classes).")

	routeCmd := cli.flagSet("route")
	routePath := routeCmd.String("path", "", "The page to visit.")
	routeAllow := routeCmd.String("allow", "", "Comma separated roles allowed on the page. Any authenticated user when empty.")

	switch args[1] {
	case "login":
		if err := parse(loginCmd, args[2:]); err != nil {
			return err
		}
		if *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		cli.printf("Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		cli.printf("\n")
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *loginEmail, string(pwd))
	case "logout":
		if err := parse(logoutCmd, args[2:]); err != nil {
			return err
		}
		return cli.logout(ctx)
	case "whoami":
		if err := parse(whoamiCmd, args[2:]); err != nil {
			return err
		}
		return cli.whoami(ctx, *whoamiOffline)
	case "classes":
		if err := parse(classesCmd, args[2:]); err != nil {
			return err
		}
		return cli.classes(ctx, *classesRole)
	case "select":
		if err := parse(selectCmd, args[2:]); err != nil {
			return err
		}
		if *selectClear == (*selectSection > 0) {
			selectCmd.Usage()
			return errHelp
		}
		return cli.selectClass(ctx, *selectSection, *selectClear)
	case "route":
		if err := parse(routeCmd, args[2:]); err != nil {
			return err
		}
		if *routePath == "" {
			routeCmd.Usage()
			return errHelp
		}
		return cli.guard(ctx, *routePath, *routeAllow)
	default:
		cli.printUsage()
		return errHelp
	}
}
