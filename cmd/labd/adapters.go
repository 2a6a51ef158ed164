package main

import (
	"context"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/exam"
	"github.com/WessleyAI/picolab/engine/sim"
	"github.com/WessleyAI/picolab/engine/similar"
	"github.com/WessleyAI/picolab/pkg/fn"
	"github.com/WessleyAI/picolab/pkg/resilience"
)

// EvaluateSubject answers EvaluateRequest messages with a sim.Result.
const EvaluateSubject = "lab.evaluate"

// EvaluateRequest is the body of a lab.evaluate request.
type EvaluateRequest struct {
	Circuit circuit.Circuit `json:"circuit"`
	Fault   string          `json:"fault,omitempty"`
}

// evaluate runs one evaluation pass for a remote caller. The simulator
// lifecycle is not involved, so scheduled events are returned, not emitted.
func evaluate(_ context.Context, req EvaluateRequest) (sim.Result, error) {
	f, err := sim.ParseFault(req.Fault)
	if err != nil {
		return sim.Result{}, err
	}
	if err := req.Circuit.CheckConsistency(); err != nil {
		return sim.Result{}, err
	}
	return sim.Evaluate(req.Circuit, f), nil
}

// vectorIndex is the part of similar.Index the indexer writes to.
type vectorIndex interface {
	Upsert(ctx context.Context, e similar.Entry) error
	Remove(ctx context.Context, submissionID string) error
}

var indexRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     time.Second,
}

type indexJob struct {
	sub exam.Submission
	res sim.Result
}

// submissionIndexer adapts similar.Index to exam.Indexer. Writes share one
// breaker; a retried upsert counts as a single call.
type submissionIndexer struct {
	idx     vectorIndex
	breaker *resilience.Breaker
	stage   fn.Stage[indexJob, similar.Entry]
}

func newSubmissionIndexer(idx vectorIndex, b *resilience.Breaker) *submissionIndexer {
	toEntry := fn.MapStage(func(j indexJob) similar.Entry {
		return similar.Entry{
			SubmissionID: j.sub.ID,
			ExamCode:     j.sub.ExamCode,
			StudentCode:  j.sub.StudentCode,
			Vector:       similar.Features(j.sub.Circuit, j.res),
		}
	})
	upsert := func(ctx context.Context, e similar.Entry) fn.Result[similar.Entry] {
		if err := idx.Upsert(ctx, e); err != nil {
			return fn.Err[similar.Entry](err)
		}
		return fn.Ok(e)
	}
	retried := fn.RetryStage(indexRetry, fn.Stage[similar.Entry, similar.Entry](upsert))
	return &submissionIndexer{
		idx:     idx,
		breaker: b,
		stage:   fn.Then(toEntry, resilience.BreakerStage(b, retried)),
	}
}

// IndexSubmission stores the feature vector of s. Empty circuits have nothing
// to compare and are skipped.
func (i *submissionIndexer) IndexSubmission(ctx context.Context, s exam.Submission, res sim.Result) error {
	if s.Circuit.IsEmpty() {
		return nil
	}
	_, err := i.stage(ctx, indexJob{sub: s, res: res}).Unwrap()
	return err
}

// RemoveSubmission drops the vector of a deleted submission.
func (i *submissionIndexer) RemoveSubmission(ctx context.Context, id string) error {
	return i.breaker.Call(ctx, func(ctx context.Context) error {
		return i.idx.Remove(ctx, id)
	})
}
