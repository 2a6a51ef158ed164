package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/pkg/repo"
	"github.com/WessleyAI/picolab/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Neo4jStore keeps exams as (:Exam) nodes keyed by code and submissions as
// (:Submission) nodes with the circuit serialized to JSON.
type Neo4jStore struct {
	exams       *repo.Neo4jRepo[Exam, string]
	submissions *repo.Neo4jRepo[Submission, string]
	breaker     *resilience.Breaker
}

// Neo4jOption configures a Neo4jStore.
type Neo4jOption func(*neo4jConfig)

type neo4jConfig struct {
	session func(context.Context) repo.Runner
	breaker *resilience.Breaker
}

// WithRunner replaces driver sessions, typically with a test double.
func WithRunner(f func(context.Context) repo.Runner) Neo4jOption {
	return func(c *neo4jConfig) { c.session = f }
}

// WithBreaker shares a breaker with other stores on the same database.
func WithBreaker(b *resilience.Breaker) Neo4jOption {
	return func(c *neo4jConfig) { c.breaker = b }
}

func NewNeo4jStore(driver neo4j.DriverWithContext, opts ...Neo4jOption) *Neo4jStore {
	var cfg neo4jConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.breaker == nil {
		cfg.breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	var examOpts []repo.Neo4jOption[Exam, string]
	var subOpts []repo.Neo4jOption[Submission, string]
	examOpts = append(examOpts, repo.WithIDKey[Exam, string]("code"))
	if cfg.session != nil {
		examOpts = append(examOpts, repo.WithSession[Exam, string](cfg.session))
		subOpts = append(subOpts, repo.WithSession[Submission, string](cfg.session))
	}
	return &Neo4jStore{
		exams:       repo.NewNeo4jRepo[Exam, string](driver, "Exam", examToMap, examFromRecord, examOpts...),
		submissions: repo.NewNeo4jRepo[Submission, string](driver, "Submission", submissionToMap, submissionFromRecord, subOpts...),
		breaker:     cfg.breaker,
	}
}

var _ Store = (*Neo4jStore)(nil)

// guard runs f through the breaker. Missing records and duplicate
// submissions are answers, not database failures, and do not count against it.
func (s *Neo4jStore) guard(ctx context.Context, f func(context.Context) error) error {
	var outcome error
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		err := f(ctx)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			outcome = fmt.Errorf("%w: %v", ErrNotFound, err)
			return nil
		case errors.Is(err, ErrAlreadySubmitted):
			outcome = err
			return nil
		}
		return err
	})
	if outcome != nil {
		return outcome
	}
	return err
}

// EnsureSchema creates the uniqueness constraints the store relies on: one
// exam per code and one submission per student and exam.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	return s.guard(ctx, func(ctx context.Context) error {
		if err := s.exams.EnsureUnique(ctx, "exam_code_unique", "code"); err != nil {
			return err
		}
		return s.submissions.EnsureUnique(ctx, "submission_per_student", "exam_code", "student_code")
	})
}

func (s *Neo4jStore) CreateExam(ctx context.Context, e Exam) error {
	return s.guard(ctx, func(ctx context.Context) error {
		_, err := s.exams.Create(ctx, e)
		return err
	})
}

func (s *Neo4jStore) GetExam(ctx context.Context, code string) (Exam, error) {
	var e Exam
	err := s.guard(ctx, func(ctx context.Context) (err error) {
		e, err = s.exams.Get(ctx, code)
		return err
	})
	return e, err
}

func (s *Neo4jStore) UpdateExam(ctx context.Context, e Exam) error {
	return s.guard(ctx, func(ctx context.Context) error {
		_, err := s.exams.Update(ctx, e)
		return err
	})
}

// CreateSubmission merges on (exam_code, student_code), so a second
// submission of the same student leaves the first one in place.
func (s *Neo4jStore) CreateSubmission(ctx context.Context, sub Submission) error {
	return s.guard(ctx, func(ctx context.Context) error {
		_, created, err := s.submissions.CreateUnique(ctx, sub, "exam_code", "student_code")
		if err != nil {
			return err
		}
		if !created {
			return ErrAlreadySubmitted
		}
		return nil
	})
}

func (s *Neo4jStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	var sub Submission
	err := s.guard(ctx, func(ctx context.Context) (err error) {
		sub, err = s.submissions.Get(ctx, id)
		return err
	})
	return sub, err
}

func (s *Neo4jStore) UpdateSubmission(ctx context.Context, sub Submission) error {
	return s.guard(ctx, func(ctx context.Context) error {
		_, err := s.submissions.Update(ctx, sub)
		return err
	})
}

func (s *Neo4jStore) DeleteSubmission(ctx context.Context, id string) error {
	return s.guard(ctx, func(ctx context.Context) error {
		return s.submissions.Delete(ctx, id)
	})
}

func (s *Neo4jStore) FindSubmission(ctx context.Context, examCode, student string) (Submission, bool, error) {
	var subs []Submission
	err := s.guard(ctx, func(ctx context.Context) (err error) {
		subs, err = s.submissions.List(ctx, repo.ListOpts{
			Filter: map[string]any{"exam_code": examCode, "student_code": student},
			Limit:  1,
		})
		return err
	})
	if err != nil || len(subs) == 0 {
		return Submission{}, false, err
	}
	return subs[0], true, nil
}

func (s *Neo4jStore) ListSubmissions(ctx context.Context, examCode string) ([]Submission, error) {
	var subs []Submission
	err := s.guard(ctx, func(ctx context.Context) (err error) {
		subs, err = s.submissions.List(ctx, repo.ListOpts{
			Filter:  map[string]any{"exam_code": examCode},
			OrderBy: "submitted_at",
			Limit:   1000,
		})
		return err
	})
	return subs, err
}

func examToMap(e Exam) map[string]any {
	comps := make([]string, len(e.Components))
	for i, c := range e.Components {
		comps[i] = string(c)
	}
	return map[string]any{
		"id":          e.ID,
		"code":        e.Code,
		"title":       e.Title,
		"description": e.Description,
		"time_limit":  int64(e.TimeLimit),
		"valid_until": e.ValidUntil.UTC().Format(time.RFC3339Nano),
		"components":  comps,
		"created_by":  e.CreatedBy,
		"active":      e.Active,
	}
}

func examFromRecord(rec *neo4j.Record) (Exam, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Exam{}, err
	}
	p := node.Props
	e := Exam{
		ID:          strProp(p, "id"),
		Code:        strProp(p, "code"),
		Title:       strProp(p, "title"),
		Description: strProp(p, "description"),
		TimeLimit:   int(intProp(p, "time_limit")),
		ValidUntil:  timeProp(p, "valid_until"),
		CreatedBy:   strProp(p, "created_by"),
		Active:      boolProp(p, "active"),
	}
	if list, ok := p["components"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				e.Components = append(e.Components, circuit.ComponentType(s))
			}
		}
	}
	return e, nil
}

func submissionToMap(s Submission) map[string]any {
	data, _ := json.Marshal(s.Circuit)
	m := map[string]any{
		"id":           s.ID,
		"exam_code":    s.ExamCode,
		"student_code": s.StudentCode,
		"circuit":      string(data),
		"submitted_at": s.SubmittedAt.UTC().Format(time.RFC3339Nano),
		"auto_submit":  s.AutoSubmit,
		"feedback":     s.Feedback,
		"reviewed":     s.Reviewed,
	}
	if s.Score != nil {
		m["score"] = int64(*s.Score)
	}
	return m
}

func submissionFromRecord(rec *neo4j.Record) (Submission, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Submission{}, err
	}
	p := node.Props
	s := Submission{
		ID:          strProp(p, "id"),
		ExamCode:    strProp(p, "exam_code"),
		StudentCode: strProp(p, "student_code"),
		SubmittedAt: timeProp(p, "submitted_at"),
		AutoSubmit:  boolProp(p, "auto_submit"),
		Feedback:    strProp(p, "feedback"),
		Reviewed:    boolProp(p, "reviewed"),
	}
	if raw := strProp(p, "circuit"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Circuit); err != nil {
			return Submission{}, fmt.Errorf("exam: decode circuit of %s: %w", s.ID, err)
		}
	}
	if v, ok := p["score"].(int64); ok {
		score := int(v)
		s.Score = &score
	}
	return s, nil
}

func strProp(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func intProp(p map[string]any, key string) int64 {
	n, _ := p[key].(int64)
	return n
}

func boolProp(p map[string]any, key string) bool {
	b, _ := p[key].(bool)
	return b
}

func timeProp(p map[string]any, key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, strProp(p, key))
	return t
}
