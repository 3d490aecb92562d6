package user

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/chitterchatter/portal/core"
)

var (
	profilePicTag  = "profilepic"
	profilePicText = "invalid profile picture selection"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must be at least %d characters long", pwdMinLen)

	pwdUpperTag  = "pwdupper"
	pwdUpperText = "password must contain at least one uppercase letter"

	pwdLowerTag  = "pwdlower"
	pwdLowerText = "password must contain at least one lowercase letter"

	pwdDigitTag  = "pwddigit"
	pwdDigitText = "password must contain at least one number"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	pwdSameTag  = "pwdsame"
	pwdSameText = "new password must differ from the current password"
)

// InitValidators registers the user validators. core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(profilePicTag, profilePicValidation)
	core.RegisterCustomTranslation(validate, translator, profilePicTag, profilePicText)

	validate.RegisterStructValidation(changePasswordStructValidation, ChangePassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdUpperTag, pwdUpperText)
	core.RegisterCustomTranslation(validate, translator, pwdLowerTag, pwdLowerText)
	core.RegisterCustomTranslation(validate, translator, pwdDigitTag, pwdDigitText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdSameTag, pwdSameText)
}

// Custom Validators

func profilePicValidation(fl validator.FieldLevel) bool {
	pics := make([]string, len(ProfilePictures))
	copy(pics, ProfilePictures)
	sort.Strings(pics)
	pic := fl.Field().String()
	idx := sort.SearchStrings(pics, pic)
	return idx < len(pics) && pics[idx] == pic
}

func changePasswordStructValidation(sl validator.StructLevel) {
	cp, ok := sl.Current().Interface().(ChangePassword)
	if !ok || cp.NewPassword == "" {
		return
	}
	if cp.NewPassword == cp.CurrentPassword {
		sl.ReportError(cp.NewPassword, "new_password", "NewPassword", pwdSameTag, "")
		return
	}
	validatePassword(cp.NewPassword, sl, cp.FirstName, cp.LastName, cp.Email)
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - at least 1 upper, 1 lower and 1 digit
// - no user attrs similarity
func validatePassword(pwd string, sl validator.StructLevel, usrAttrs ...string) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "new_password", "NewPassword", tag, "")
	}

	if len(pwd) < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}

	var hasUpper, hasLower, hasDig bool
	for _, char := range pwd {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasDig = true
		}
	}
	switch {
	case !hasUpper:
		reportErr(pwdUpperTag)
		return
	case !hasLower:
		reportErr(pwdLowerTag)
		return
	case !hasDig:
		reportErr(pwdDigitTag)
		return
	}

	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		pass, usrAttr = strings.ToLower(pass), strings.ToLower(usrAttr)
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(usrAttr, "")).QuickRatio()
	}
	for _, attr := range usrAttrs {
		if getRatio(pwd, attr) >= pwdMaxSim {
			reportErr(pwdAttrSimTag)
			return
		}
	}
}
