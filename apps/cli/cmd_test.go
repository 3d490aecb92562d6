package main

import (
	"bytes"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/class"
	"github.com/chitterchatter/portal/core/user"
	apisvc "github.com/chitterchatter/portal/services/api"
	filestore "github.com/chitterchatter/portal/storage/tokenstore/file"
	"github.com/chitterchatter/portal/testutil"
)

const password = "Passw0rd!"

// translations can only be registered once per translator
var validate = func() *validator.Validate {
	v := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(v, translator)
	user.InitValidators(v, translator)
	return v
}()

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
	extra      interface{}
}

type extra struct {
	pwd string
}

func setup(t *testing.T) (*commandLine, *filestore.Store, *testutil.Backend, *bytes.Buffer) {
	t.Helper()

	backend := testutil.NewBackend()
	t.Cleanup(backend.Close)

	store, err := filestore.Open(filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, err)

	out := new(bytes.Buffer)
	cli := newCommandLine(store, apisvc.NewClient(backend.URL(), store, nil), core.NopLogger, validate, out)
	return cli, store, backend, out
}

func mockPassword(tt cliTest) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		if extra, ok := tt.extra.(extra); ok {
			return []byte(extra.pwd), nil
		}
		return nil, nil
	}
}

func runTests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"chitter"}, tt.args...)
		mockPassword(tt)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Equal(t, tt.wantErrStr, err.Error())
				}
			default:
				assert.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, _, _, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp, wantOut: "Usage:"},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "help flag", args: []string{"whoami", "-h"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"logout", "-lol"}, wantErrStr: "flag provided but not defined: -lol"},
		{name: "login: no email", args: []string{"login"}, wantErr: errHelp},
		{name: "login: no password", args: []string{"login", "-email", "sam@example.com"}, wantErr: errHelp},
		{name: "select: no args", args: []string{"select"}, wantErr: errHelp},
		{name: "select: section and clear", args: []string{"select", "-section", "2", "-clear"}, wantErr: errHelp},
		{name: "route: no path", args: []string{"route"}, wantErr: errHelp},
	}
	runTests(t, cli, out, tests)
}

func Test_commandLine_login(t *testing.T) {
	cli, store, backend, out := setup(t)

	backend.AddUser(testutil.NewStudent("Sam", "Student", "sam@example.com"), password)
	pending := backend.AddUser(testutil.NewStudent("Pat", "Pending", "pat@example.com"), password)
	backend.RequireConsent(pending.ID)
	restricted := backend.AddUser(testutil.NewInstructor("Rae", "Restricted", "rae@example.com"), password)
	backend.Restrict(restricted.ID, "Contact your administrator")

	tests := []cliTest{
		{name: "consent required", args: []string{"login", "-email", "pat@example.com"}, extra: extra{pwd: password}, wantErr: apisvc.ErrConsentRequired},
		{
			name:       "access restricted",
			args:       []string{"login", "-email", "rae@example.com"},
			extra:      extra{pwd: password},
			wantErrStr: "access restricted: Contact your administrator",
		},
		{name: "wrong password", args: []string{"login", "-email", "sam@example.com"}, extra: extra{pwd: "nope"}, wantErrStr: "Status 401: Invalid email or password"},
		{
			name:    "ok",
			args:    []string{"login", "-email", " SAM@example.com "},
			extra:   extra{pwd: password},
			wantOut: "Logged in as Sam Student <sam@example.com> (student)",
		},
	}
	runTests(t, cli, out, tests)

	token, ok := store.Get(core.KeyAccessToken)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	t.Run("invalid email", func(t *testing.T) {
		readPasswordFunc = func(int) ([]byte, error) { return []byte(password), nil }
		err := cli.run([]string{"chitter", "login", "-email", "sam"})
		var verrs validator.ValidationErrors
		assert.ErrorAs(t, err, &verrs)
	})
}

func Test_commandLine_session(t *testing.T) {
	cli, store, backend, out := setup(t)

	instructor := backend.AddUser(testutil.NewInstructor("Ina", "Instructor", "ina@example.com"), password)

	runTests(t, cli, out, []cliTest{
		{name: "whoami: logged out", args: []string{"whoami"}, wantErr: errNotLoggedIn},
		{name: "whoami offline: logged out", args: []string{"whoami", "-offline"}, wantErr: errNotLoggedIn},
		{name: "route: logged out", args: []string{"route", "-path", "/instructor/classes"}, wantOut: "redirect-login /login?next=%2Finstructor%2Fclasses"},
		{name: "login", args: []string{"login", "-email", instructor.Email}, extra: extra{pwd: password}},
		{name: "whoami", args: []string{"whoami"}, wantOut: "Ina Instructor <ina@example.com> (instructor)\nSession expires"},
		{name: "whoami offline", args: []string{"whoami", "-offline"}, wantOut: "(instructor, last known)"},
		{name: "route: allowed", args: []string{"route", "-path", "/instructor/classes", "-allow", "instructor,master"}, wantOut: "render"},
		{name: "route: wrong role", args: []string{"route", "-path", "/student/classes", "-allow", "student"}, wantOut: "redirect-dashboard /instructor/dashboard"},
		{name: "logout", args: []string{"logout"}, wantOut: "Logged out"},
		{name: "logout again", args: []string{"logout"}, wantOut: "Logged out"},
		{name: "whoami after logout", args: []string{"whoami"}, wantErr: errNotLoggedIn},
	})

	for _, key := range core.SessionKeys {
		_, ok := store.Get(key)
		assert.False(t, ok, key)
	}

	t.Run("expired token", func(t *testing.T) {
		store.Set(core.KeyAccessToken, backend.ExpiredToken(instructor.ID))
		assert.ErrorIs(t, cli.run([]string{"chitter", "whoami"}), errNotLoggedIn)
		_, ok := store.Get(core.KeyAccessToken)
		assert.False(t, ok)
	})
}

func Test_commandLine_classes(t *testing.T) {
	cli, store, backend, out := setup(t)

	instructor := backend.AddUser(testutil.NewInstructor("Ina", "Instructor", "ina@example.com"), password)
	backend.SetInstructorClasses(instructor.ID,
		class.InstructorClass{Base: testutil.NewClassBase(1, 11)},
		class.InstructorClass{Base: testutil.NewClassBase(2, 21)},
	)
	student := backend.AddUser(testutil.NewStudent("Sam", "Student", "sam@example.com"), password)
	backend.SetStudentClasses(student.ID, class.StudentClass{Base: testutil.NewClassBase(1, 11), InstructorName: "Ina Instructor"})

	runTests(t, cli, out, []cliTest{
		{name: "logged out", args: []string{"classes"}, wantErr: errNotLoggedIn},
		{name: "login instructor", args: []string{"login", "-email", instructor.Email}, extra: extra{pwd: password}},
		{name: "list", args: []string{"classes"}, wantOut: "Selected: All Classes"},
		{name: "student list as instructor", args: []string{"classes", "-role", "student"}, wantErrStr: "student classes are not available to a instructor"},
		{name: "unknown role", args: []string{"classes", "-role", "dean"}, wantErrStr: "unknown role \"dean\""},
		{name: "select", args: []string{"select", "-section", "21"}, wantOut: "Selected: CS102 - Section 21"},
		{name: "list shows selection", args: []string{"classes", "-role", "master"}, wantOut: "*     21  CS102 - Section 21"},
		{name: "select unknown section", args: []string{"select", "-section", "99"}, wantErr: class.ErrNotFound},
		{name: "clear", args: []string{"select", "-clear"}, wantOut: "Selected: All Classes"},
	})

	_, ok := store.Get(core.KeyInstructorSelectedClass)
	assert.False(t, ok)

	t.Run("backend failure", func(t *testing.T) {
		backend.Fail(class.PathInstructorClasses, http.StatusInternalServerError, "boom")
		defer backend.Recover(class.PathInstructorClasses)

		var statusErr *class.StatusError
		err := cli.run([]string{"chitter", "classes"})
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	})

	runTests(t, cli, out, []cliTest{
		{name: "switch to student", args: []string{"login", "-email", student.Email}, extra: extra{pwd: password}},
		{name: "single class auto-selected", args: []string{"classes"}, wantOut: "Selected: CS101 - Section 11"},
	})
	section, _ := store.Get(core.KeyStudentSelectedClass)
	assert.Equal(t, "11", section)
}
