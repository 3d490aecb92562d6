// Package testutil provides an in-process fake of the ChitterChatter REST backend.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/chitterchatter/portal/core/class"
	"github.com/chitterchatter/portal/core/user"
)

var (
	SecretKey = []byte("secret")
	TokenTTL  = 10 * time.Minute
)

type account struct {
	usr          user.Record
	passwordHash []byte
	needsConsent bool
	restricted   string
}

type failure struct {
	status  int
	message string
}

// Backend is a fake backend serving the auth and class endpoints over httptest.
// All fixtures may be changed while it serves.
type Backend struct {
	Server *httptest.Server
	app    *echo.Echo

	mu                sync.Mutex
	nextID            int
	accounts          map[int]*account
	instructorClasses map[int][]class.InstructorClass
	studentClasses    map[int][]class.StudentClass
	failures          map[string]failure
	gates             map[string]chan struct{}
	hits              map[string]int
}

// NewBackend starts a fake backend; it is closed by Close.
func NewBackend() *Backend {
	b := &Backend{
		app:               echo.New(),
		nextID:            1,
		accounts:          make(map[int]*account),
		instructorClasses: make(map[int][]class.InstructorClass),
		studentClasses:    make(map[int][]class.StudentClass),
		failures:          make(map[string]failure),
		gates:             make(map[string]chan struct{}),
		hits:              make(map[string]int),
	}
	b.setup()
	b.Server = httptest.NewServer(b.app)
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) Close() { b.Server.Close() }

func (b *Backend) setup() {
	b.app.HideBanner = true
	b.app.Use(b.instrument)

	auth := b.app.Group("/api/auth")
	auth.POST("/login", b.login)
	auth.POST("/logout", b.logout)
	auth.GET("/me", b.me, b.authenticated)
	auth.POST("/update-profile", b.updateProfile, b.authenticated)
	auth.POST("/update-profile-picture", b.updateProfilePicture, b.authenticated)
	auth.POST("/change-password", b.changePassword, b.authenticated)
	auth.POST("/deactivate-account", b.deactivateAccount, b.authenticated)

	b.app.GET(class.PathInstructorClasses, b.listInstructorClasses, b.authenticated)
	b.app.GET(class.PathStudentClasses, b.listStudentClasses, b.authenticated)
}

// AddUser registers usr with the given password and returns it with its ID set.
func (b *Backend) AddUser(usr user.Record, password string) user.Record {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if usr.ID == 0 {
		usr.ID = b.nextID
	}
	if usr.ID >= b.nextID {
		b.nextID = usr.ID + 1
	}
	b.accounts[usr.ID] = &account{usr: usr, passwordHash: hash}
	return usr
}

// RequireConsent makes logins of userID answer needs_consent without a token.
func (b *Backend) RequireConsent(userID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[userID]; ok {
		acc.needsConsent = true
	}
}

// Restrict makes logins of userID fail with "Access restricted".
func (b *Backend) Restrict(userID int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[userID]; ok {
		acc.restricted = message
	}
}

func (b *Backend) User(userID int) (user.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[userID]
	if !ok {
		return user.Record{}, false
	}
	return acc.usr, true
}

func (b *Backend) SetInstructorClasses(userID int, classes ...class.InstructorClass) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instructorClasses[userID] = classes
}

func (b *Backend) SetStudentClasses(userID int, classes ...class.StudentClass) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.studentClasses[userID] = classes
}

// Fail makes every request to path answer status until Recover is called.
func (b *Backend) Fail(path string, status int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = failure{status: status, message: message}
}

func (b *Backend) Recover(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, path)
}

// Hold blocks requests to path until the returned release func is called.
func (b *Backend) Hold(path string) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[path] = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.gates[path] == gate {
				delete(b.gates, path)
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Hits is the number of requests received for path.
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// Token returns a signed access token for userID, valid for TokenTTL.
func (b *Backend) Token(userID int) string {
	return signToken(userID, time.Now().Add(TokenTTL))
}

// ExpiredToken returns a correctly signed token that expired an hour ago.
func (b *Backend) ExpiredToken(userID int) string {
	return signToken(userID, time.Now().Add(-time.Hour))
}

func signToken(userID int, exp time.Time) string {
	claims := jwt.StandardClaims{
		Subject:   strconv.Itoa(userID),
		Issuer:    "ChitterChatter",
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: exp.Unix(),
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(SecretKey)
	if err != nil {
		panic(err)
	}
	return ss
}

// Middleware

func (b *Backend) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		path := ctx.Request().URL.Path

		b.mu.Lock()
		b.hits[path]++
		gate := b.gates[path]
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Request().Context().Done():
				return ctx.Request().Context().Err()
			}
		}

		b.mu.Lock()
		fail, failing := b.failures[path]
		b.mu.Unlock()
		if failing {
			return ctx.JSON(fail.status, echo.Map{"error": fail.message})
		}
		return next(ctx)
	}
}

const contextUserKey = "user"

func (b *Backend) authenticated(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		header := ctx.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "Missing token"})
		}

		claims := new(jwt.StandardClaims)
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(tok *jwt.Token) (interface{}, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return SecretKey, nil
		})
		if err != nil {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid token"})
		}

		id, _ := strconv.Atoi(claims.Subject)
		b.mu.Lock()
		acc, ok := b.accounts[id]
		b.mu.Unlock()
		if !ok {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "User not found"})
		}
		if acc.usr.IsActive != nil && !*acc.usr.IsActive {
			return ctx.JSON(http.StatusForbidden, echo.Map{"error": "Account deactivated"})
		}
		ctx.Set(contextUserKey, id)
		return next(ctx)
	}
}

func contextUserID(ctx echo.Context) int {
	id, _ := ctx.Get(contextUserKey).(int)
	return id
}

// Handlers

func (b *Backend) login(ctx echo.Context) error {
	var form struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := ctx.Bind(&form); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request"})
	}

	b.mu.Lock()
	var acc *account
	for _, a := range b.accounts {
		if strings.EqualFold(a.usr.Email, form.Email) {
			acc = a
			break
		}
	}
	var found account
	if acc != nil {
		found = *acc
	}
	b.mu.Unlock()

	if acc == nil || bcrypt.CompareHashAndPassword(found.passwordHash, []byte(form.Password)) != nil {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid email or password"})
	}
	if found.usr.IsActive != nil && !*found.usr.IsActive {
		return ctx.JSON(http.StatusForbidden, echo.Map{"error": "Account deactivated"})
	}
	if found.restricted != "" {
		return ctx.JSON(http.StatusForbidden, echo.Map{"error": "Access restricted", "message": found.restricted})
	}
	if found.needsConsent {
		return ctx.JSON(http.StatusOK, echo.Map{"needs_consent": true, "user": found.usr})
	}

	now := time.Now().UTC()
	b.mu.Lock()
	acc.usr.LastLogin = &now
	usr := acc.usr
	b.mu.Unlock()

	return ctx.JSON(http.StatusOK, echo.Map{"access_token": b.Token(usr.ID), "user": usr})
}

func (b *Backend) logout(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Logged out"})
}

func (b *Backend) me(ctx echo.Context) error {
	usr, _ := b.User(contextUserID(ctx))
	return ctx.JSON(http.StatusOK, usr)
}

func (b *Backend) updateProfile(ctx echo.Context) error {
	var form user.UpdateProfile
	if err := ctx.Bind(&form); err != nil || strings.TrimSpace(form.FirstName) == "" || strings.TrimSpace(form.LastName) == "" {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "First and last name are required"})
	}

	b.mu.Lock()
	acc := b.accounts[contextUserID(ctx)]
	acc.usr.FirstName = form.FirstName
	acc.usr.LastName = form.LastName
	usr := acc.usr
	b.mu.Unlock()
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Profile updated", "user": usr})
}

func (b *Backend) updateProfilePicture(ctx echo.Context) error {
	var form user.UpdateProfilePicture
	if err := ctx.Bind(&form); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request"})
	}
	valid := false
	for _, pic := range user.ProfilePictures {
		if pic == form.ProfilePicture {
			valid = true
			break
		}
	}
	if !valid {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid profile picture selection"})
	}

	b.mu.Lock()
	acc := b.accounts[contextUserID(ctx)]
	acc.usr.ProfilePicture = form.ProfilePicture
	acc.usr.ProfilePictureURL = "/static/profile_pics/" + form.ProfilePicture
	usr := acc.usr
	b.mu.Unlock()
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Profile picture updated", "user": usr})
}

func (b *Backend) changePassword(ctx echo.Context) error {
	var form struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := ctx.Bind(&form); err != nil || form.CurrentPassword == "" || form.NewPassword == "" {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "Current and new password are required"})
	}

	b.mu.Lock()
	acc := b.accounts[contextUserID(ctx)]
	hash := acc.passwordHash
	b.mu.Unlock()

	if bcrypt.CompareHashAndPassword(hash, []byte(form.CurrentPassword)) != nil {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "Current password is incorrect"})
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(form.NewPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}

	b.mu.Lock()
	acc.passwordHash = newHash
	b.mu.Unlock()
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Password updated"})
}

func (b *Backend) deactivateAccount(ctx echo.Context) error {
	inactive := false
	b.mu.Lock()
	b.accounts[contextUserID(ctx)].usr.IsActive = &inactive
	b.mu.Unlock()
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Account deactivated"})
}

func (b *Backend) listInstructorClasses(ctx echo.Context) error {
	id := contextUserID(ctx)
	usr, _ := b.User(id)
	if usr.Role() == user.RoleStudent {
		return ctx.JSON(http.StatusForbidden, echo.Map{"error": "Instructor access required"})
	}

	b.mu.Lock()
	classes := append([]class.InstructorClass{}, b.instructorClasses[id]...)
	b.mu.Unlock()
	return ctx.JSON(http.StatusOK, classes)
}

func (b *Backend) listStudentClasses(ctx echo.Context) error {
	id := contextUserID(ctx)
	usr, _ := b.User(id)
	if usr.Role() != user.RoleStudent {
		return ctx.JSON(http.StatusForbidden, echo.Map{"error": "Student access required"})
	}

	b.mu.Lock()
	classes := append([]class.StudentClass{}, b.studentClasses[id]...)
	b.mu.Unlock()
	return ctx.JSON(http.StatusOK, classes)
}

// Fixtures

func NewStudent(first, last, email string) user.Record {
	return user.Record{FirstName: first, LastName: last, Email: email, IsStudent: true}
}

func NewInstructor(first, last, email string) user.Record {
	return user.Record{FirstName: first, LastName: last, Email: email, IsInstructor: true}
}

func NewMaster(first, last, email string) user.Record {
	return user.Record{FirstName: first, LastName: last, Email: email, IsInstructor: true, IsMaster: true}
}

// NewClassBase returns a class/section pairing with predictable codes.
func NewClassBase(classID, sectionID int) class.Base {
	return class.Base{
		ClassID:     classID,
		SectionID:   sectionID,
		CourseCode:  "CS" + strconv.Itoa(100+classID),
		Title:       "Course " + strconv.Itoa(classID),
		SectionCode: strconv.Itoa(sectionID),
		Term:        &class.Term{ID: 1, Name: "Fall 2026", Code: "F26"},
	}
}
