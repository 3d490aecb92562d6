package class

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/session"
	"github.com/chitterchatter/portal/core/user"
)

var (
	ErrNotFound     = errors.New("class not found")
	ErrUnauthorized = errors.New("not allowed to list classes")
)

// StatusError is a non-2xx answer of the classes endpoint.
type StatusError struct {
	Code int
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("Failed to load classes: %d", err.Code)
}

// Session is the part of session.Service a Selection depends on.
type Session interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
}

// Options parameterize a Selection per role.
type Options struct {
	Path     string
	StoreKey string
	// Eligible reports whether the (authenticated) session may list these classes.
	Eligible func(session.State) bool
}

var (
	InstructorOptions = Options{
		Path:     PathInstructorClasses,
		StoreKey: core.KeyInstructorSelectedClass,
		Eligible: func(st session.State) bool { return st.IsAuthenticated },
	}
	StudentOptions = Options{
		Path:     PathStudentClasses,
		StoreKey: core.KeyStudentSelectedClass,
		Eligible: func(st session.State) bool { return st.IsAuthenticated && st.Role == user.RoleStudent },
	}
)

// State is a snapshot of a Selection.
type State[C Summary] struct {
	Available      []C
	Selected       *C
	IsLoading      bool
	HasInitialized bool
	Err            error
}

func (st State[C]) IsClassSelected() bool {
	return st.Selected != nil
}

func (st State[C]) DisplayName() string {
	if st.Selected == nil {
		return AllClassesName
	}
	return (*st.Selected).Summary().DisplayName()
}

func (st State[C]) APIParams() url.Values {
	if st.Selected == nil {
		return Params(nil)
	}
	b := (*st.Selected).Summary()
	return Params(&b)
}

// Selection tracks the classes visible to the session's user and the one currently selected.
// It follows the session: it loads once the session is authenticated (and eligible)
// and resets when it is not.
type Selection[C Summary] struct {
	sess   Session
	api    session.Requester
	store  core.TokenStore
	logger core.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup

	mu             sync.Mutex
	epoch          uint64
	eligible       bool
	loadedFor      int // user ID
	available      []C
	selected       *C
	loading        bool
	hasInitialized bool
	err            error
}

func New[C Summary](sess Session, api session.Requester, store core.TokenStore, logger core.Logger, opts Options) *Selection[C] {
	if logger == nil {
		logger = core.NopLogger
	}
	return &Selection[C]{
		sess:   sess,
		api:    api,
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

func NewInstructorSelection(sess Session, api session.Requester, store core.TokenStore, logger core.Logger) *Selection[InstructorClass] {
	return New[InstructorClass](sess, api, store, logger, InstructorOptions)
}

func NewStudentSelection(sess Session, api session.Requester, store core.TokenStore, logger core.Logger) *Selection[StudentClass] {
	return New[StudentClass](sess, api, store, logger, StudentOptions)
}

// Start subscribes to the session and reacts to its current state.
// Loads run in the background under ctx; use Wait to observe a settled state.
func (s *Selection[C]) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.unsub = s.sess.Subscribe(s.onSession)
	s.onSession(s.sess.State())
}

// Close unsubscribes from the session and cancels in-flight loads.
func (s *Selection[C]) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Wait blocks until background loads have completed.
func (s *Selection[C]) Wait() {
	s.wg.Wait()
}

// onSession reacts to a session change. Snapshots can arrive out of order when the session
// changes on several goroutines, so the current session state is read under s.mu instead.
func (s *Selection[C]) onSession(session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sess.State()
	// the session is still deciding; nothing to react to yet
	if st.Phase == session.Unresolved || st.Phase == session.Resolving {
		return
	}

	if !st.IsAuthenticated || !s.opts.Eligible(st) {
		s.clearLocked()
		s.eligible = false
		s.loadedFor = 0
		return
	}

	if s.eligible && s.loadedFor == st.User.ID {
		return
	}
	if s.eligible {
		// another user signed in without a logout in between
		s.clearLocked()
	}
	s.eligible = true
	s.loadedFor = st.User.ID
	s.loading = true
	s.err = nil
	epoch := s.epoch
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		_ = s.load(s.ctx, epoch)
	}()
}

// clearLocked must be called with s.mu held.
func (s *Selection[C]) clearLocked() {
	s.epoch++
	s.available = nil
	s.selected = nil
	s.loading = false
	s.hasInitialized = false
	s.err = nil
}

// Refresh re-fetches the classes without resetting HasInitialized.
func (s *Selection[C]) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.eligible {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.err = nil
	epoch := s.epoch
	s.mu.Unlock()

	return s.load(ctx, epoch)
}

func (s *Selection[C]) load(ctx context.Context, epoch uint64) (err error) {
	defer func() {
		s.mu.Lock()
		if epoch == s.epoch {
			if err != nil {
				s.err = err
			}
			s.loading = false
			s.hasInitialized = true
		}
		s.mu.Unlock()
	}()

	resp, err := s.api.Request(ctx, http.MethodGet, s.opts.Path, nil)
	if err != nil {
		s.logger.Warn("loading classes", err)
		return errors.Wrap(err, "loading classes")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.mu.Lock()
		if epoch == s.epoch {
			s.store.Remove(s.opts.StoreKey)
			s.selected = nil
		}
		s.mu.Unlock()
		return errors.Wrapf(ErrUnauthorized, "status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Code: resp.StatusCode}
	}

	var classes []C
	if err = json.NewDecoder(resp.Body).Decode(&classes); err != nil {
		return errors.Wrap(err, "decoding classes")
	}
	if classes == nil {
		classes = []C{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.logger.Debug("discarding stale class list")
		return nil
	}
	s.available = classes
	s.restoreLocked()
	return nil
}

// restoreLocked picks the selection after a successful load: the persisted section if still listed,
// else the only class, else none. Must be called with s.mu held.
func (s *Selection[C]) restoreLocked() {
	var toSelect *C
	if saved, ok := s.store.Get(s.opts.StoreKey); ok && saved != "" {
		for i := range s.available {
			if strconv.Itoa(s.available[i].Summary().SectionID) == saved {
				cls := s.available[i]
				toSelect = &cls
				break
			}
		}
	}
	if toSelect == nil && len(s.available) == 1 {
		cls := s.available[0]
		toSelect = &cls
	}

	s.selected = toSelect
	if toSelect != nil {
		s.store.Set(s.opts.StoreKey, strconv.Itoa((*toSelect).Summary().SectionID))
	} else {
		// drop a persisted section that is no longer listed
		s.store.Remove(s.opts.StoreKey)
	}
}

// Select sets (or, with nil, clears) the selected class and its persisted hint together.
func (s *Selection[C]) Select(cls *C) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cls == nil {
		s.selected = nil
		s.store.Remove(s.opts.StoreKey)
		return
	}
	c := *cls
	s.selected = &c
	s.store.Set(s.opts.StoreKey, strconv.Itoa(c.Summary().SectionID))
}

// SelectBySection selects the available class with the given section ID.
func (s *Selection[C]) SelectBySection(sectionID int) (C, error) {
	s.mu.Lock()
	var found *C
	for i := range s.available {
		if s.available[i].Summary().SectionID == sectionID {
			cls := s.available[i]
			found = &cls
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		var zero C
		return zero, errors.Wrapf(ErrNotFound, "section %d", sectionID)
	}
	s.Select(found)
	return *found, nil
}

func (s *Selection[C]) State() State[C] {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State[C]{
		IsLoading:      s.loading,
		HasInitialized: s.hasInitialized,
		Err:            s.err,
	}
	if s.available != nil {
		st.Available = make([]C, len(s.available))
		copy(st.Available, s.available)
	}
	if s.selected != nil {
		c := *s.selected
		st.Selected = &c
	}
	return st
}

func (s *Selection[C]) IsClassSelected() bool { return s.State().IsClassSelected() }
func (s *Selection[C]) DisplayName() string   { return s.State().DisplayName() }
func (s *Selection[C]) APIParams() url.Values { return s.State().APIParams() }
