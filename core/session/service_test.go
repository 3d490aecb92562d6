package session_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/session"
	"github.com/chitterchatter/portal/core/user"
	apisvc "github.com/chitterchatter/portal/services/api"
	inmemstore "github.com/chitterchatter/portal/storage/tokenstore/inmem"
	"github.com/chitterchatter/portal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	states []session.State
}

func (r *recorder) record(st session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) phases() []session.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make([]session.Phase, len(r.states))
	for i, st := range r.states {
		phases[i] = st.Phase
	}
	return phases
}

func newTestService(t *testing.T, backend *testutil.Backend) (*session.Service, *inmemstore.Store, *recorder) {
	t.Helper()
	store := inmemstore.New()
	svc := session.NewService(store, apisvc.NewClient(backend.URL(), store, nil), nil)
	rec := new(recorder)
	svc.Subscribe(rec.record)
	return svc, store, rec
}

func TestInitialState(t *testing.T) {
	svc := session.NewService(inmemstore.New(), nil, nil)
	st := svc.State()
	assert.Equal(t, session.Unresolved, st.Phase)
	assert.True(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)
	assert.Empty(t, st.Role)
}

func TestResolve(t *testing.T) {
	backend := testutil.NewBackend()
	defer backend.Close()
	instructor := backend.AddUser(testutil.NewInstructor("Ina", "Instructor", "ina@example.com"), "Passw0rd!")

	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		svc, _, rec := newTestService(t, backend)
		before := backend.Hits(session.PathMe)

		st := svc.Resolve(ctx)
		assert.Equal(t, session.Unauthenticated, st.Phase)
		assert.False(t, st.IsLoading)
		assert.Equal(t, before, backend.Hits(session.PathMe), "no request without a token")
		assert.Equal(t, []session.Phase{session.Unauthenticated}, rec.phases())
	})

	t.Run("valid token", func(t *testing.T) {
		svc, store, rec := newTestService(t, backend)
		store.Set(core.KeyAccessToken, backend.Token(instructor.ID))

		st := svc.Resolve(ctx)
		require.Equal(t, session.Authenticated, st.Phase)
		assert.True(t, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
		assert.Equal(t, user.RoleInstructor, st.Role)
		assert.Equal(t, instructor.ID, st.User.ID)
		assert.Equal(t, []session.Phase{session.Resolving, session.Authenticated}, rec.phases())

		role, _ := store.Get(core.KeyUserRole)
		assert.Equal(t, "instructor", role)
		restored, ok := svc.Restore()
		assert.True(t, ok)
		assert.Equal(t, instructor.Email, restored.Email)
	})

	t.Run("expired token logs out", func(t *testing.T) {
		svc, store, _ := newTestService(t, backend)
		store.Set(core.KeyAccessToken, backend.ExpiredToken(instructor.ID))
		store.Set(core.KeyInstructorSelectedClass, "4")

		st := svc.Resolve(ctx)
		assert.Equal(t, session.Unauthenticated, st.Phase)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("backend down logs out", func(t *testing.T) {
		down := testutil.NewBackend()
		down.Close()

		store := inmemstore.New()
		store.Set(core.KeyAccessToken, "tok")
		svc := session.NewService(store, apisvc.NewClient(down.URL(), store, nil), nil)

		st := svc.Resolve(ctx)
		assert.Equal(t, session.Unauthenticated, st.Phase)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("server error logs out", func(t *testing.T) {
		backend.Fail(session.PathMe, http.StatusInternalServerError, "boom")
		defer backend.Recover(session.PathMe)

		svc, store, _ := newTestService(t, backend)
		store.Set(core.KeyAccessToken, backend.Token(instructor.ID))

		st := svc.Resolve(ctx)
		assert.Equal(t, session.Unauthenticated, st.Phase)
		_, ok := store.Get(core.KeyAccessToken)
		assert.False(t, ok)
	})
}

func TestLogoutIdempotent(t *testing.T) {
	backend := testutil.NewBackend()
	defer backend.Close()
	student := backend.AddUser(testutil.NewStudent("Sam", "Student", "sam@example.com"), "Passw0rd!")

	svc, store, rec := newTestService(t, backend)
	svc.Login(backend.Token(student.ID), student)
	store.Set(core.KeyStudentSelectedClass, "7")

	first := svc.Logout()
	second := svc.Logout()

	assert.Equal(t, first, second)
	assert.Equal(t, session.Unauthenticated, second.Phase)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []session.Phase{session.Authenticated, session.Unauthenticated}, rec.phases(), "second logout must not publish")
}

func TestLogin(t *testing.T) {
	backend := testutil.NewBackend()
	defer backend.Close()
	master := backend.AddUser(testutil.NewMaster("Max", "Master", "max@example.com"), "Passw0rd!")

	svc, store, _ := newTestService(t, backend)
	before := backend.Hits(session.PathMe)
	token := backend.Token(master.ID)

	st := svc.Login(token, master)
	assert.Equal(t, session.Authenticated, st.Phase)
	assert.Equal(t, user.RoleMaster, st.Role)
	assert.Equal(t, before, backend.Hits(session.PathMe), "login does not refetch the user")

	stored, _ := store.Get(core.KeyAccessToken)
	assert.Equal(t, token, stored)
	got, ok := svc.Token()
	assert.True(t, ok)
	assert.Equal(t, token, got)
}

func TestStaleResolutionDiscarded(t *testing.T) {
	backend := testutil.NewBackend()
	defer backend.Close()
	first := backend.AddUser(testutil.NewInstructor("Ina", "Instructor", "ina@example.com"), "Passw0rd!")
	second := backend.AddUser(testutil.NewStudent("Sam", "Student", "sam@example.com"), "Passw0rd!")

	tests := []struct {
		name      string
		interrupt func(svc *session.Service)
		wantPhase session.Phase
		wantUser  int
	}{
		{"logout wins", func(svc *session.Service) { svc.Logout() }, session.Unauthenticated, 0},
		{"login wins", func(svc *session.Service) { svc.Login(backend.Token(second.ID), second) }, session.Authenticated, second.ID},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := newTestService(t, backend)
			store.Set(core.KeyAccessToken, backend.Token(first.ID))

			hits := backend.Hits(session.PathMe)
			release := backend.Hold(session.PathMe)
			defer release()

			done := make(chan session.State)
			go func() { done <- svc.Resolve(context.Background()) }()

			require.Eventually(t, func() bool { return backend.Hits(session.PathMe) > hits }, time.Second, 5*time.Millisecond)
			tc.interrupt(svc)
			release()

			<-done
			st := svc.State()
			assert.Equal(t, tc.wantPhase, st.Phase)
			if tc.wantUser == 0 {
				assert.Nil(t, st.User)
				assert.Equal(t, 0, store.Len())
			} else {
				require.NotNil(t, st.User)
				assert.Equal(t, tc.wantUser, st.User.ID)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	svc := session.NewService(inmemstore.New(), nil, nil)
	var calls int
	unsubscribe := svc.Subscribe(func(session.State) { calls++ })

	svc.Login("tok", user.Record{ID: 1})
	unsubscribe()
	svc.Logout()

	assert.Equal(t, 1, calls)
}

func TestRestoreUnreadable(t *testing.T) {
	store := inmemstore.New()
	store.Set(core.KeyUser, "{broken")
	svc := session.NewService(store, nil, nil)

	_, ok := svc.Restore()
	assert.False(t, ok)
}
