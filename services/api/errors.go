package apisvc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrConsentRequired = errors.New("consent required: complete onboarding before signing in")
)

// Error is a non-2xx backend response.
type Error struct {
	StatusCode int
	Message    string
	Detail     string // "message" of a body that also carries "error"
}

func (err *Error) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("Status %d", err.StatusCode)
	}
	return fmt.Sprintf("Status %d: %s", err.StatusCode, err.Message)
}

// SessionInvalid reports whether the backend rejected the credentials of the request.
func (err *Error) SessionInvalid() bool {
	return err.StatusCode == http.StatusUnauthorized || err.StatusCode == http.StatusForbidden
}

// AccessRestrictedError is returned by Login when the institution has restricted access.
type AccessRestrictedError struct {
	Message string
}

func (err *AccessRestrictedError) Error() string {
	if err.Message == "" {
		return "access restricted"
	}
	return "access restricted: " + err.Message
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CheckResponse returns an *Error for non-2xx responses. It consumes the body on error.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &Error{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		} else {
			apiErr.Detail = body.Message
		}
	}
	return apiErr
}

// StatusCode returns the backend status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
