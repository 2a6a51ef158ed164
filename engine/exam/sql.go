package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/pkg/fn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type examRow struct {
	Code        string    `gorm:"primaryKey;size:16"`
	ID          string    `gorm:"size:64;not null;uniqueIndex"`
	Title       string    `gorm:"size:120;not null"`
	Description string    `gorm:"size:2000"`
	TimeLimit   int       `gorm:"not null"`
	ValidUntil  time.Time `gorm:"not null"`
	Components  string    `gorm:"type:text"`
	CreatedBy   string    `gorm:"size:120"`
	Active      bool      `gorm:"not null"`
}

func (examRow) TableName() string { return "exams" }

type submissionRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	ExamCode    string    `gorm:"size:16;not null;uniqueIndex:idx_exam_student"`
	StudentCode string    `gorm:"size:64;not null;uniqueIndex:idx_exam_student"`
	Circuit     string    `gorm:"type:text"`
	SubmittedAt time.Time `gorm:"not null;index"`
	AutoSubmit  bool      `gorm:"not null"`
	Score       *int
	Feedback    string `gorm:"type:text"`
	Reviewed    bool   `gorm:"not null"`
}

func (submissionRow) TableName() string { return "submissions" }

// SQLStore keeps exams and submissions in a relational database through gorm.
// One student may submit once per exam; the unique index enforces it.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects to dsn and migrates the schema. postgres:// and
// postgresql:// DSNs select Postgres; anything else is a SQLite file path.
func OpenSQL(dsn string) (*SQLStore, error) {
	dialector := sqlite.Open(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("exam: open database: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore migrates the schema on db. The duplicate-submission check relies
// on db being opened with TranslateError.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&examRow{}, &submissionRow{}); err != nil {
		return nil, fmt.Errorf("exam: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) CreateExam(ctx context.Context, e Exam) error {
	row, err := toExamRow(e)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("exam: create %s: %w", e.Code, err)
	}
	return nil
}

func (s *SQLStore) GetExam(ctx context.Context, code string) (Exam, error) {
	var row examRow
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if err != nil {
		return Exam{}, notFound("exam "+code, err)
	}
	return fromExamRow(row)
}

func (s *SQLStore) UpdateExam(ctx context.Context, e Exam) error {
	row, err := toExamRow(e)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&examRow{}).Where("code = ?", e.Code).Select("*").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("exam: update %s: %w", e.Code, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: exam %s", ErrNotFound, e.Code)
	}
	return nil
}

func (s *SQLStore) CreateSubmission(ctx context.Context, sub Submission) error {
	row, err := toSubmissionRow(sub)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(&row).Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s in %s", ErrAlreadySubmitted, sub.StudentCode, sub.ExamCode)
	case err != nil:
		return fmt.Errorf("exam: create submission %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	var row submissionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		return Submission{}, notFound("submission "+id, err)
	}
	return fromSubmissionRow(row)
}

func (s *SQLStore) UpdateSubmission(ctx context.Context, sub Submission) error {
	row, err := toSubmissionRow(sub)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&submissionRow{}).Where("id = ?", sub.ID).Select("*").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("exam: update submission %s: %w", sub.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: submission %s", ErrNotFound, sub.ID)
	}
	return nil
}

func (s *SQLStore) DeleteSubmission(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&submissionRow{})
	if res.Error != nil {
		return fmt.Errorf("exam: delete submission %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) FindSubmission(ctx context.Context, examCode, student string) (Submission, bool, error) {
	var rows []submissionRow
	err := s.db.WithContext(ctx).
		Where("exam_code = ? AND student_code = ?", examCode, student).
		Limit(1).Find(&rows).Error
	if err != nil {
		return Submission{}, false, fmt.Errorf("exam: find submission: %w", err)
	}
	if len(rows) == 0 {
		return Submission{}, false, nil
	}
	sub, err := fromSubmissionRow(rows[0])
	return sub, err == nil, err
}

// ListSubmissions returns the exam's submissions, oldest first.
func (s *SQLStore) ListSubmissions(ctx context.Context, examCode string) ([]Submission, error) {
	var rows []submissionRow
	err := s.db.WithContext(ctx).Where("exam_code = ?", examCode).Order("submitted_at").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("exam: list submissions: %w", err)
	}
	return fn.Collect(fn.Map(rows, func(r submissionRow) fn.Result[Submission] {
		return fn.FromPair(fromSubmissionRow(r))
	})).Unwrap()
}

func notFound(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("exam: get %s: %w", what, err)
}

func toExamRow(e Exam) (examRow, error) {
	comps, err := json.Marshal(e.Components)
	if err != nil {
		return examRow{}, fmt.Errorf("exam: encode components: %w", err)
	}
	return examRow{
		Code:        e.Code,
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		TimeLimit:   e.TimeLimit,
		ValidUntil:  e.ValidUntil.UTC(),
		Components:  string(comps),
		CreatedBy:   e.CreatedBy,
		Active:      e.Active,
	}, nil
}

func fromExamRow(r examRow) (Exam, error) {
	e := Exam{
		ID:          r.ID,
		Code:        r.Code,
		Title:       r.Title,
		Description: r.Description,
		TimeLimit:   r.TimeLimit,
		ValidUntil:  r.ValidUntil.UTC(),
		CreatedBy:   r.CreatedBy,
		Active:      r.Active,
	}
	if r.Components != "" {
		var comps []circuit.ComponentType
		if err := json.Unmarshal([]byte(r.Components), &comps); err != nil {
			return Exam{}, fmt.Errorf("exam: decode components of %s: %w", r.Code, err)
		}
		e.Components = comps
	}
	return e, nil
}

func toSubmissionRow(s Submission) (submissionRow, error) {
	data, err := json.Marshal(s.Circuit)
	if err != nil {
		return submissionRow{}, fmt.Errorf("exam: encode circuit of %s: %w", s.ID, err)
	}
	return submissionRow{
		ID:          s.ID,
		ExamCode:    s.ExamCode,
		StudentCode: s.StudentCode,
		Circuit:     string(data),
		SubmittedAt: s.SubmittedAt.UTC(),
		AutoSubmit:  s.AutoSubmit,
		Score:       s.Score,
		Feedback:    s.Feedback,
		Reviewed:    s.Reviewed,
	}, nil
}

func fromSubmissionRow(r submissionRow) (Submission, error) {
	s := Submission{
		ID:          r.ID,
		ExamCode:    r.ExamCode,
		StudentCode: r.StudentCode,
		SubmittedAt: r.SubmittedAt.UTC(),
		AutoSubmit:  r.AutoSubmit,
		Score:       r.Score,
		Feedback:    r.Feedback,
		Reviewed:    r.Reviewed,
	}
	if r.Circuit != "" {
		if err := json.Unmarshal([]byte(r.Circuit), &s.Circuit); err != nil {
			return Submission{}, fmt.Errorf("exam: decode circuit of %s: %w", r.ID, err)
		}
	}
	return s, nil
}
