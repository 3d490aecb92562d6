package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chitterchatter/portal/core"
)

// Roles
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleMaster     Role = "master"
)

var AllRoles = []Role{RoleStudent, RoleInstructor, RoleMaster}

// ParseRole returns the Role named by s, or "" if s is not a known role.
func ParseRole(s string) Role {
	s = core.CleanString(s, true /* lower */)
	for _, r := range AllRoles {
		if string(r) == s {
			return r
		}
	}
	return ""
}

// ParseRoles parses a comma separated list of roles, skipping unknown ones.
func ParseRoles(s string) []Role {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		if r := ParseRole(part); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func (r Role) String() string { return string(r) }

// DeriveRole computes the Role from the user flags. IsInstructor never changes the outcome.
func DeriveRole(isMaster, isStudent bool) Role {
	switch {
	case isMaster:
		return RoleMaster
	case isStudent:
		return RoleStudent
	default:
		return RoleInstructor
	}
}

// Record is the user as returned by the backend.
type Record struct {
	ID                int        `json:"id"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Email             string     `json:"email"`
	IsStudent         bool       `json:"is_student"`
	IsInstructor      bool       `json:"is_instructor"`
	IsMaster          bool       `json:"is_master"`
	IsActive          *bool      `json:"is_active,omitempty"`
	ProfilePicture    string     `json:"profile_picture"`
	ProfilePictureURL string     `json:"profile_picture_url"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
}

func (u Record) Role() Role {
	return DeriveRole(u.IsMaster, u.IsStudent)
}

func (u Record) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LoginForm contains the credentials posted to the login endpoint.
type LoginForm struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

func (lf *LoginForm) Validate(validate *validator.Validate) error {
	lf.Email = core.CleanString(lf.Email, true /* lower */)
	return validate.Struct(lf)
}

// UpdateProfile defines what information may be provided to modify the current user's profile.
type UpdateProfile struct {
	FirstName string `json:"first_name" form:"first_name" validate:"required,notblank"`
	LastName  string `json:"last_name" form:"last_name" validate:"required,notblank"`
}

func (up *UpdateProfile) Validate(validate *validator.Validate) error {
	up.FirstName = core.CleanString(up.FirstName)
	up.LastName = core.CleanString(up.LastName)
	return validate.Struct(up)
}

// ProfilePictures are the icons the backend accepts.
var ProfilePictures = []string{
	"apple.png", "blueberry.png", "lemon.png", "lychee.png",
	"melon.png", "orange.png", "pear.png", "plum.png",
}

type UpdateProfilePicture struct {
	ProfilePicture string `json:"profile_picture" form:"profile_picture" validate:"required,profilepic"`
}

func (upp *UpdateProfilePicture) Validate(validate *validator.Validate) error {
	upp.ProfilePicture = core.CleanString(upp.ProfilePicture, true /* lower */)
	return validate.Struct(upp)
}

type ChangePassword struct {
	CurrentPassword string `json:"current_password" form:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" form:"new_password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" form:"password_confirm" validate:"required,eqfield=NewPassword"`

	// user attributes the new password must not resemble
	FirstName string `json:"-" validate:"-"`
	LastName  string `json:"-" validate:"-"`
	Email     string `json:"-" validate:"-"`
}

// Validate applies the password policy. `usr` is the current user, used for the similarity check.
func (cp *ChangePassword) Validate(validate *validator.Validate, usr Record) error {
	cp.FirstName = usr.FirstName
	cp.LastName = usr.LastName
	cp.Email = usr.Email
	return validate.Struct(cp)
}
