package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/user"
)

// PathMe is the "who am I" endpoint.
const PathMe = "/api/auth/me"

type Phase int

const (
	Unresolved Phase = iota
	Resolving
	Authenticated
	Unauthenticated
)

func (p Phase) String() string {
	switch p {
	case Resolving:
		return "resolving"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unresolved"
	}
}

// State is a snapshot of the session.
type State struct {
	Phase           Phase
	IsLoading       bool
	IsAuthenticated bool
	Role            user.Role // "" unless authenticated
	User            *user.Record
}

// Requester sends authenticated requests; see apisvc.Client.
type Requester interface {
	Request(ctx context.Context, method, path string, body interface{}) (*http.Response, error)
}

// Service owns the authentication state of one browser (or CLI user).
type Service struct {
	store  core.TokenStore
	api    Requester
	logger core.Logger

	mu      sync.Mutex
	epoch   uint64
	phase   Phase
	loading bool
	token   string
	usr     *user.Record

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(State)
}

func NewService(store core.TokenStore, api Requester, logger core.Logger) *Service {
	if logger == nil {
		logger = core.NopLogger
	}
	return &Service{
		store:   store,
		api:     api,
		logger:  logger,
		phase:   Unresolved,
		loading: true,
	}
}

func (svc *Service) State() State {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.snapshot()
}

// snapshot must be called with svc.mu held.
func (svc *Service) snapshot() State {
	st := State{
		Phase:           svc.phase,
		IsLoading:       svc.loading,
		IsAuthenticated: svc.token != "" && svc.usr != nil,
	}
	if svc.usr != nil {
		usr := *svc.usr
		st.User = &usr
		if st.IsAuthenticated {
			st.Role = usr.Role()
		}
	}
	return st
}

// Subscribe registers fn to be called with every new State. The returned func unsubscribes.
// Subscribers run synchronously on the goroutine that changed the state, in subscription order.
// Changes made on different goroutines may be delivered out of order; State returns the latest.
func (svc *Service) Subscribe(fn func(State)) func() {
	svc.subsMu.Lock()
	defer svc.subsMu.Unlock()

	svc.nextSub++
	id := svc.nextSub
	svc.subs = append(svc.subs, subscriber{id: id, fn: fn})

	return func() {
		svc.subsMu.Lock()
		defer svc.subsMu.Unlock()
		for i, sub := range svc.subs {
			if sub.id == id {
				svc.subs = append(svc.subs[:i:i], svc.subs[i+1:]...)
				return
			}
		}
	}
}

func (svc *Service) publish(st State) {
	svc.subsMu.Lock()
	subs := make([]subscriber, len(svc.subs))
	copy(subs, svc.subs)
	svc.subsMu.Unlock()

	for _, sub := range subs {
		sub.fn(st)
	}
}

// Resolve checks the persisted token against the backend.
// Without a token the session becomes Unauthenticated without a network call.
// A rejected token or a network failure is treated as a logout.
// A resolution overtaken by Login, Logout or another Resolve is discarded.
func (svc *Service) Resolve(ctx context.Context) State {
	token, ok := svc.store.Get(core.KeyAccessToken)

	svc.mu.Lock()
	svc.epoch++
	epoch := svc.epoch
	if !ok || token == "" {
		svc.phase = Unauthenticated
		svc.loading = false
		svc.token = ""
		svc.usr = nil
		st := svc.snapshot()
		svc.mu.Unlock()
		svc.publish(st)
		return st
	}
	svc.phase = Resolving
	st := svc.snapshot()
	svc.mu.Unlock()
	svc.publish(st)

	usr, err := svc.fetchMe(ctx)
	if err != nil {
		svc.logger.Info("session invalid; logging out", err)
		return svc.logout(epoch)
	}

	svc.mu.Lock()
	if epoch != svc.epoch {
		st = svc.snapshot()
		svc.mu.Unlock()
		svc.logger.Debug("discarding stale session resolution")
		return st
	}
	svc.phase = Authenticated
	svc.loading = false
	svc.token = token
	svc.usr = &usr
	st = svc.snapshot()
	svc.persistHints(usr)
	svc.mu.Unlock()

	svc.publish(st)
	return st
}

// RefetchUser re-runs the resolution, e.g. after the profile was changed.
func (svc *Service) RefetchUser(ctx context.Context) State {
	return svc.Resolve(ctx)
}

func (svc *Service) fetchMe(ctx context.Context) (user.Record, error) {
	resp, err := svc.api.Request(ctx, http.MethodGet, PathMe, nil)
	if err != nil {
		return user.Record{}, errors.Wrap(err, "requesting current user")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return user.Record{}, errors.Errorf("current user: status %d", resp.StatusCode)
	}
	var usr user.Record
	if err = json.NewDecoder(resp.Body).Decode(&usr); err != nil {
		return user.Record{}, errors.Wrap(err, "decoding current user")
	}
	return usr, nil
}

// Login records a successful login. The caller already holds fresh user data, so the backend is not asked again.
func (svc *Service) Login(token string, usr user.Record) State {
	svc.mu.Lock()
	svc.epoch++
	svc.store.Set(core.KeyAccessToken, token)
	svc.persistHints(usr)
	svc.phase = Authenticated
	svc.loading = false
	svc.token = token
	svc.usr = &usr
	st := svc.snapshot()
	svc.mu.Unlock()

	svc.publish(st)
	return st
}

// Logout clears every persisted key and the in-memory state. Calling it again is a no-op.
func (svc *Service) Logout() State {
	svc.mu.Lock()
	svc.epoch++
	epoch := svc.epoch
	svc.mu.Unlock()
	return svc.logout(epoch)
}

func (svc *Service) logout(epoch uint64) State {
	svc.mu.Lock()
	if epoch != svc.epoch {
		st := svc.snapshot()
		svc.mu.Unlock()
		return st
	}
	svc.store.Remove(core.SessionKeys...)
	changed := svc.phase != Unauthenticated || svc.loading || svc.token != "" || svc.usr != nil
	svc.phase = Unauthenticated
	svc.loading = false
	svc.token = ""
	svc.usr = nil
	st := svc.snapshot()
	svc.mu.Unlock()

	if changed {
		svc.publish(st)
	}
	return st
}

// persistHints must be called with svc.mu held.
func (svc *Service) persistHints(usr user.Record) {
	svc.store.Set(core.KeyUserRole, usr.Role().String())
	if data, err := json.Marshal(usr); err == nil {
		svc.store.Set(core.KeyUser, string(data))
	} else {
		svc.logger.Warn("encoding user hint", err)
	}
}

// Restore returns the last-known user from the persisted hint. It does not authenticate the session.
func (svc *Service) Restore() (user.Record, bool) {
	data, ok := svc.store.Get(core.KeyUser)
	if !ok || data == "" {
		return user.Record{}, false
	}
	var usr user.Record
	if err := json.Unmarshal([]byte(data), &usr); err != nil {
		svc.logger.Debug("discarding unreadable user hint", err)
		return user.Record{}, false
	}
	return usr, true
}

// Token returns the bearer token of an authenticated session.
func (svc *Service) Token() (string, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.token, svc.token != ""
}
