package exam

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(filepath.Join(t.TempDir(), "exams.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLExamRoundTrip(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	e := Exam{
		ID: "e1", Code: "ABC234", Title: "Traffic light", TimeLimit: 1200,
		ValidUntil: now.Add(time.Hour),
		Components: []circuit.ComponentType{circuit.TypeLEDRed, circuit.TypeResistor},
		CreatedBy:  "t1", Active: true,
	}
	if err := s.CreateExam(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetExam(ctx, "ABC234")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "e1" || got.Title != e.Title || got.TimeLimit != 1200 || !got.Active ||
		len(got.Components) != 2 || got.Components[1] != circuit.TypeResistor || !got.ValidUntil.Equal(e.ValidUntil) {
		t.Fatalf("exam = %+v", got)
	}

	got.Active = false
	if err := s.UpdateExam(ctx, got); err != nil {
		t.Fatal(err)
	}
	if got, _ = s.GetExam(ctx, "ABC234"); got.Active {
		t.Fatal("update did not persist")
	}

	if _, err := s.GetExam(ctx, "NOPE99"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing exam: %v", err)
	}
	if err := s.UpdateExam(ctx, Exam{Code: "NOPE99"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing exam: %v", err)
	}
}

func TestSQLSubmissions(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	c := goodCircuit(t)

	later := Submission{ID: "s2", ExamCode: "ABC234", StudentCode: "S-2", Circuit: c, SubmittedAt: now.Add(time.Minute)}
	first := Submission{ID: "s1", ExamCode: "ABC234", StudentCode: "S-1", Circuit: c, SubmittedAt: now, AutoSubmit: true}
	other := Submission{ID: "s3", ExamCode: "ZZZ999", StudentCode: "S-1", SubmittedAt: now}
	for _, sub := range []Submission{later, first, other} {
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CreateSubmission(ctx, Submission{ID: "s4", ExamCode: "ABC234", StudentCode: "S-1", SubmittedAt: now}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second submission of a student: %v", err)
	}

	subs, err := s.ListSubmissions(ctx, "ABC234")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].ID != "s1" || subs[1].ID != "s2" {
		t.Fatalf("submissions = %+v", subs)
	}
	if !subs[0].AutoSubmit || len(subs[0].Circuit.Components) != 3 || len(subs[0].Circuit.Wires) != 3 {
		t.Fatalf("first = %+v", subs[0])
	}

	found, ok, err := s.FindSubmission(ctx, "ABC234", "S-2")
	if err != nil || !ok || found.ID != "s2" {
		t.Fatalf("find: %+v %v %v", found, ok, err)
	}
	if _, ok, err := s.FindSubmission(ctx, "ABC234", "S-9"); ok || err != nil {
		t.Fatalf("find missing: %v %v", ok, err)
	}

	score := 80
	found.Score, found.Feedback, found.Reviewed = &score, "tidy wiring", true
	if err := s.UpdateSubmission(ctx, found); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSubmission(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Score == nil || *got.Score != 80 || got.Feedback != "tidy wiring" || !got.Reviewed {
		t.Fatalf("reviewed = %+v", got)
	}

	if _, err := s.GetSubmission(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing submission: %v", err)
	}
	if err := s.UpdateSubmission(ctx, Submission{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing submission: %v", err)
	}

	if err := s.DeleteSubmission(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSubmission(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted submission: %v", err)
	}
	if err := s.DeleteSubmission(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete twice: %v", err)
	}
	if err := s.CreateSubmission(ctx, Submission{ID: "s5", ExamCode: "ABC234", StudentCode: "S-1", SubmittedAt: now}); err != nil {
		t.Fatalf("resubmit after delete: %v", err)
	}
}

func TestServiceOverSQL(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	svc := NewService(s,
		WithFeedback(feedback.NewLog(0)),
		WithClock(func() time.Time { return now }),
		WithCodeFunc(func() (string, error) { return "SQLX22", nil }),
	)
	if _, err := svc.Create(ctx, validRequest(), "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, "sqlx22", "S-1"); err != nil {
		t.Fatal(err)
	}
	sub, err := svc.Submit(ctx, "SQLX22", "S-1", goodCircuit(t), false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Submit(ctx, "SQLX22", "S-1", goodCircuit(t), false); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second submit: %v", err)
	}
	stored, err := s.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Score == nil || *stored.Score != 100 {
		t.Fatalf("stored = %+v", stored)
	}
}
