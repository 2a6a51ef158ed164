// Package exam runs timed circuit exams: teachers create them, students join
// with a short code and submit a circuit that is evaluated and auto-scored.
package exam

import (
	"slices"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
)

// Exam is a timed task published under a join code.
type Exam struct {
	ID          string                  `json:"id"`
	Code        string                  `json:"code"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	TimeLimit   int                     `json:"time_limit"` // seconds
	ValidUntil  time.Time               `json:"valid_until"`
	Components  []circuit.ComponentType `json:"components"`
	CreatedBy   string                  `json:"created_by"`
	Active      bool                    `json:"active"`
}

// Allows reports whether parts of type t may be used. An exam without a
// component list allows every part.
func (e Exam) Allows(t circuit.ComponentType) bool {
	return len(e.Components) == 0 || slices.Contains(e.Components, t)
}

// Duration returns the time limit.
func (e Exam) Duration() time.Duration { return time.Duration(e.TimeLimit) * time.Second }

// Submission is one student's answer to an exam.
type Submission struct {
	ID          string          `json:"id"`
	ExamCode    string          `json:"exam_code"`
	StudentCode string          `json:"student_code"`
	Circuit     circuit.Circuit `json:"circuit"`
	SubmittedAt time.Time       `json:"submitted_at"`
	AutoSubmit  bool            `json:"auto_submit"`
	Score       *int            `json:"score,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
	Reviewed    bool            `json:"reviewed"`
}

// CreateRequest is what a teacher fills in to publish an exam.
type CreateRequest struct {
	Title            string                  `json:"title" validate:"required,max=120"`
	Description      string                  `json:"description" validate:"max=2000"`
	TimeLimitMinutes int                     `json:"time_limit_minutes" validate:"min=1,max=480"`
	ValidUntil       time.Time               `json:"valid_until" validate:"required"`
	Components       []circuit.ComponentType `json:"components" validate:"dive,component"`
}

// Attempt is a student's running exam session.
type Attempt struct {
	Exam        Exam      `json:"exam"`
	StudentCode string    `json:"student_code"`
	StartedAt   time.Time `json:"started_at"`
	Deadline    time.Time `json:"deadline"`
}

// Remaining returns how much of the time limit is left at now, never negative.
func Remaining(e Exam, startedAt, now time.Time) time.Duration {
	left := e.Duration() - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}
