package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
	"github.com/WessleyAI/picolab/engine/sim"
	"github.com/WessleyAI/picolab/pkg/fn"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Student-facing feedback messages.
const (
	MsgSubmitted     = "Exam submitted successfully!"
	MsgAutoSubmitted = "Time's up! Exam auto-submitted."
)

const codeAttempts = 5

// Indexer receives every stored submission, e.g. for similarity search, and
// forgets deleted ones.
type Indexer interface {
	IndexSubmission(ctx context.Context, s Submission, res sim.Result) error
	RemoveSubmission(ctx context.Context, id string) error
}

// Service implements the exam workflow on top of a Store.
type Service struct {
	store    Store
	indexer  Indexer
	eval     *sim.Evaluator
	log      *feedback.Log
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	newCode  func() (string, error)
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

func WithIndexer(i Indexer) Option                 { return func(s *Service) { s.indexer = i } }
func WithFeedback(l *feedback.Log) Option          { return func(s *Service) { s.log = l } }
func WithLogger(l *slog.Logger) Option             { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option        { return func(s *Service) { s.now = now } }
func WithEvaluator(e *sim.Evaluator) Option        { return func(s *Service) { s.eval = e } }
func WithCodeFunc(f func() (string, error)) Option { return func(s *Service) { s.newCode = f } }

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		eval:    sim.NewEvaluator(sim.DefaultOptions()),
		logger:  slog.Default(),
		now:     time.Now,
		newCode: GenerateCode,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.validate = newValidator()
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("component", func(fl validator.FieldLevel) bool {
		_, err := circuit.Lookup(circuit.ComponentType(fl.Field().String()))
		return err == nil
	})
	return v
}

func (s *Service) check(req CreateRequest) error {
	fields := map[string]string{}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("exam: validate: %w", err)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	if !req.ValidUntil.IsZero() && !req.ValidUntil.After(s.now()) {
		fields["ValidUntil"] = "future"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Create validates req and publishes a new active exam under a fresh code.
func (s *Service) Create(ctx context.Context, req CreateRequest, teacher string) (Exam, error) {
	if err := s.check(req); err != nil {
		return Exam{}, err
	}
	code, err := s.uniqueCode(ctx)
	if err != nil {
		return Exam{}, err
	}
	e := Exam{
		ID:          s.newID(),
		Code:        code,
		Title:       req.Title,
		Description: req.Description,
		TimeLimit:   req.TimeLimitMinutes * 60,
		ValidUntil:  req.ValidUntil,
		Components:  append([]circuit.ComponentType(nil), req.Components...),
		CreatedBy:   teacher,
		Active:      true,
	}
	if err := s.store.CreateExam(ctx, e); err != nil {
		return Exam{}, fmt.Errorf("exam: create: %w", err)
	}
	s.logger.Info("exam created", "code", e.Code, "teacher", teacher, "time_limit", e.Duration())
	return e, nil
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("exam: generate code: %w", err)
		}
		_, err = s.store.GetExam(ctx, code)
		if errors.Is(err, ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("exam: check code: %w", err)
		}
	}
	return "", fmt.Errorf("exam: no free code after %d attempts", codeAttempts)
}

// End deactivates an exam so no one else can join.
func (s *Service) End(ctx context.Context, code string) (Exam, error) {
	e, err := s.store.GetExam(ctx, NormalizeCode(code))
	if err != nil {
		return Exam{}, err
	}
	e.Active = false
	if err := s.store.UpdateExam(ctx, e); err != nil {
		return Exam{}, fmt.Errorf("exam: end: %w", err)
	}
	s.logger.Info("exam ended", "code", e.Code)
	return e, nil
}

// Join admits student to the exam with the given code. Checks run in order:
// unknown code, expiry, inactive, already submitted.
func (s *Service) Join(ctx context.Context, code, student string) (Attempt, error) {
	e, err := s.admissible(ctx, NormalizeCode(code), student, false)
	if err != nil {
		return Attempt{}, err
	}
	now := s.now()
	s.note(feedback.KindSuccess, "Joined exam: "+e.Title)
	s.note(feedback.KindInfo, fmt.Sprintf("You have %d minutes to complete the task", e.TimeLimit/60))
	return Attempt{Exam: e, StudentCode: student, StartedAt: now, Deadline: now.Add(e.Duration())}, nil
}

// admissible applies the join checks. lateOK lets a timer-forced submission
// through after the exam closed.
func (s *Service) admissible(ctx context.Context, code, student string, lateOK bool) (Exam, error) {
	e, err := s.store.GetExam(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Exam{}, ErrInvalidCode
	}
	if err != nil {
		return Exam{}, fmt.Errorf("exam: lookup %s: %w", code, err)
	}
	if !lateOK && e.ValidUntil.Before(s.now()) {
		return Exam{}, ErrExpired
	}
	if !e.Active {
		return Exam{}, ErrInactive
	}
	if student != "" {
		_, found, err := s.store.FindSubmission(ctx, code, student)
		if err != nil {
			return Exam{}, fmt.Errorf("exam: lookup submission: %w", err)
		}
		if found {
			return Exam{}, ErrAlreadySubmitted
		}
	}
	return e, nil
}

// grading is the state threaded through the submission pipeline.
type grading struct {
	code    string
	student string
	auto    bool
	exam    Exam
	circuit circuit.Circuit
	result  sim.Result
	sub     Submission
}

// Submit evaluates, scores and stores a student's circuit. auto marks a
// submission forced by the exam timer.
func (s *Service) Submit(ctx context.Context, code, student string, c circuit.Circuit, auto bool) (Submission, error) {
	pipeline := fn.Pipeline(
		fn.TracedStage[*grading, *grading]("exam.validate", s.validateStage),
		fn.TracedStage[*grading, *grading]("exam.evaluate", s.evaluateStage),
		fn.TracedStage[*grading, *grading]("exam.score", s.scoreStage),
		fn.TracedStage[*grading, *grading]("exam.persist", s.persistStage),
		fn.TapStage(s.indexStage),
	)
	g := &grading{code: NormalizeCode(code), student: student, auto: auto, circuit: c}
	out, err := pipeline(ctx, g).Unwrap()
	if err != nil {
		return Submission{}, err
	}
	msg := MsgSubmitted
	if auto {
		msg = MsgAutoSubmitted
	}
	s.note(feedback.KindSuccess, msg)
	return out.sub, nil
}

func (s *Service) validateStage(ctx context.Context, g *grading) fn.Result[*grading] {
	if g.student == "" {
		return fn.Errf[*grading]("%w: student code required", ErrInvalidRequest)
	}
	e, err := s.admissible(ctx, g.code, g.student, g.auto)
	if err != nil {
		return fn.Err[*grading](err)
	}
	if err := g.circuit.CheckConsistency(); err != nil {
		return fn.Err[*grading](err)
	}
	if err := allowedParts(e, g.circuit); err != nil {
		return fn.Err[*grading](err)
	}
	g.exam = e
	return fn.Ok(g)
}

// allowedParts rejects components the exam does not offer, keyed by
// component ID.
func allowedParts(e Exam, c circuit.Circuit) error {
	fields := map[string]string{}
	for _, comp := range c.Components {
		if !e.Allows(comp.Type) {
			fields[comp.ID] = "allowed"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (s *Service) evaluateStage(_ context.Context, g *grading) fn.Result[*grading] {
	g.result = s.eval.Evaluate(g.circuit, sim.FaultNone)
	return fn.Ok(g)
}

func (s *Service) scoreStage(_ context.Context, g *grading) fn.Result[*grading] {
	score, notes := Score(g.circuit, g.result, g.exam.Components...)
	g.sub = Submission{
		ID:          s.newID(),
		ExamCode:    g.exam.Code,
		StudentCode: g.student,
		Circuit:     sim.Apply(g.circuit, g.result),
		SubmittedAt: s.now(),
		AutoSubmit:  g.auto,
		Score:       &score,
		Feedback:    summarize(score, notes),
	}
	return fn.Ok(g)
}

func (s *Service) persistStage(ctx context.Context, g *grading) fn.Result[*grading] {
	if err := s.store.CreateSubmission(ctx, g.sub); err != nil {
		return fn.Errf[*grading]("exam: store submission: %w", err)
	}
	s.logger.Info("submission stored", "exam", g.sub.ExamCode, "student", g.sub.StudentCode, "score", *g.sub.Score)
	return fn.Ok(g)
}

// indexStage never fails the submission; a lost index entry only weakens
// similarity search.
func (s *Service) indexStage(ctx context.Context, g *grading) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexSubmission(ctx, g.sub, g.result); err != nil {
		s.logger.Warn("submission not indexed", "id", g.sub.ID, "err", err)
	}
}

// Review overrides the auto score with the teacher's grade and comments.
func (s *Service) Review(ctx context.Context, id string, score int, comments string) (Submission, error) {
	if score < 0 || score > MaxScore {
		return Submission{}, ErrInvalidScore
	}
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	sub.Score = &score
	sub.Feedback = comments
	sub.Reviewed = true
	if err := s.store.UpdateSubmission(ctx, sub); err != nil {
		return Submission{}, fmt.Errorf("exam: review: %w", err)
	}
	return sub, nil
}

// DeleteSubmission removes a submission, which lets the student submit
// again, and drops it from the index.
func (s *Service) DeleteSubmission(ctx context.Context, id string) error {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSubmission(ctx, id); err != nil {
		return fmt.Errorf("exam: delete submission: %w", err)
	}
	if s.indexer != nil {
		if err := s.indexer.RemoveSubmission(ctx, id); err != nil {
			s.logger.Warn("submission left in index", "id", id, "err", err)
		}
	}
	s.logger.Info("submission deleted", "id", id, "exam", sub.ExamCode, "student", sub.StudentCode)
	return nil
}

// Exam returns the exam published under code.
func (s *Service) Exam(ctx context.Context, code string) (Exam, error) {
	return s.store.GetExam(ctx, NormalizeCode(code))
}

// Submission returns a stored submission.
func (s *Service) Submission(ctx context.Context, id string) (Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// Submissions lists an exam's submissions, oldest first.
func (s *Service) Submissions(ctx context.Context, code string) ([]Submission, error) {
	return s.store.ListSubmissions(ctx, NormalizeCode(code))
}

func (s *Service) note(kind feedback.Kind, msg string) {
	if s.log != nil {
		s.log.Add(kind, feedback.CodeExam, msg)
	}
}
