package class

import (
	"fmt"
	"net/url"
	"strconv"
)

// Endpoints listing the classes visible to the current user.
const (
	PathInstructorClasses = "/api/instructors/classes"
	PathStudentClasses    = "/api/students/classes"
)

// AllClassesName is the display name used when no class is selected.
const AllClassesName = "All Classes"

type Term struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Base describes one class/section pairing.
type Base struct {
	ClassID     int    `json:"class_id"`
	SectionID   int    `json:"section_id"`
	CourseCode  string `json:"course_code"`
	Title       string `json:"title"`
	SectionCode string `json:"section_code"`
	Institution string `json:"institution,omitempty"`
	Term        *Term  `json:"term"`
}

func (b Base) Summary() Base { return b }

func (b Base) DisplayName() string {
	return fmt.Sprintf("%s - Section %s", b.CourseCode, b.SectionCode)
}

// Summary is implemented by every class variant through the embedded Base.
type Summary interface {
	Summary() Base
}

type InstructorClass struct {
	Base
	StudentCount int `json:"student_count"`
	CaseCount    int `json:"case_count"`
}

type StudentClass struct {
	Base
	InstructorName string `json:"instructor_name"`
}

// Params returns the query parameters filtering downstream lists by the given class.
// A nil class yields empty params, meaning "All Classes".
func Params(b *Base) url.Values {
	v := make(url.Values)
	if b != nil {
		v.Set("class_id", strconv.Itoa(b.ClassID))
		v.Set("section_id", strconv.Itoa(b.SectionID))
	}
	return v
}
