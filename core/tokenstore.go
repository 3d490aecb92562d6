package core

// Persisted keys owned by the session layer.
const (
	KeyAccessToken             = "access_token"
	KeyUserRole                = "user_role"
	KeyUser                    = "user"
	KeyInstructorSelectedClass = "instructor_selected_class"
	KeyStudentSelectedClass    = "student_selected_class"
)

// SessionKeys is the entire durable state of a session. Logout removes all of them in one call.
var SessionKeys = []string{
	KeyAccessToken,
	KeyUserRole,
	KeyUser,
	KeyInstructorSelectedClass,
	KeyStudentSelectedClass,
}

// TokenStore is a narrow key-value store over persistent, per-browser (or per-user) storage.
// None of its operations fail: backend errors are logged by the implementation
// and a failed Get reads as absent.
type TokenStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	// Remove removes all given keys as a single step.
	Remove(keys ...string)
}
