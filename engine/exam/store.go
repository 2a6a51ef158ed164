package exam

import (
	"context"
	"sort"
	"sync"

	"github.com/WessleyAI/picolab/pkg/fn"
)

// Store persists exams and submissions. Missing records yield ErrNotFound.
// CreateSubmission fails with ErrAlreadySubmitted when the student already
// has a submission for the exam; the check and the write are one step.
type Store interface {
	CreateExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, code string) (Exam, error)
	UpdateExam(ctx context.Context, e Exam) error

	CreateSubmission(ctx context.Context, s Submission) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	UpdateSubmission(ctx context.Context, s Submission) error
	DeleteSubmission(ctx context.Context, id string) error
	// FindSubmission reports the submission of student for examCode, if any.
	FindSubmission(ctx context.Context, examCode, student string) (Submission, bool, error)
	ListSubmissions(ctx context.Context, examCode string) ([]Submission, error)
}

// MemoryStore keeps everything in maps. Used offline and in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	exams       map[string]Exam
	submissions map[string]Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exams:       make(map[string]Exam),
		submissions: make(map[string]Submission),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.Code] = e
	return nil
}

func (m *MemoryStore) GetExam(_ context.Context, code string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[code]
	if !ok {
		return Exam{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) UpdateExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[e.Code]; !ok {
		return ErrNotFound
	}
	m.exams[e.Code] = e
	return nil
}

func (m *MemoryStore) CreateSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.submissions {
		if other.ExamCode == s.ExamCode && other.StudentCode == s.StudentCode {
			return ErrAlreadySubmitted
		}
	}
	s.Circuit = s.Circuit.Clone()
	m.submissions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) UpdateSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[s.ID]; !ok {
		return ErrNotFound
	}
	m.submissions[s.ID] = s
	return nil
}

func (m *MemoryStore) DeleteSubmission(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.submissions, id)
	return nil
}

func (m *MemoryStore) FindSubmission(ctx context.Context, examCode, student string) (Submission, bool, error) {
	subs, _ := m.ListSubmissions(ctx, examCode)
	for _, s := range subs {
		if s.StudentCode == student {
			return s, true, nil
		}
	}
	return Submission{}, false, nil
}

// ListSubmissions returns the exam's submissions, oldest first.
func (m *MemoryStore) ListSubmissions(_ context.Context, examCode string) ([]Submission, error) {
	m.mu.RLock()
	all := make([]Submission, 0, len(m.submissions))
	for _, s := range m.submissions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := fn.Filter(all, func(s Submission) bool { return s.ExamCode == examCode })
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
