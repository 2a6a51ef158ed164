package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the simulation lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Role is the caller's lab role.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

var (
	ErrAlreadyRunning = errors.New("simulation already running")
	ErrForbidden      = errors.New("only teachers can inject faults")
)

// Sink receives every event appended to the feedback log.
type Sink interface {
	Emit(ctx context.Context, e feedback.Event) error
}

// Timer is a pending follow-up that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. The production value wraps time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfter(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Simulator owns the simulation lifecycle, the fault selector and the
// delayed follow-up events of the last run. Safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	eval    *Evaluator
	log     *feedback.Log
	sink    Sink
	logger  *slog.Logger
	after   AfterFunc
	state   State
	fault   Fault
	gen     uint64
	pending []Timer
	last    *Result

	tracer trace.Tracer
	runs   metric.Int64Counter
	shorts metric.Int64Counter
	lit    metric.Int64Counter
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSink forwards events to s in addition to the log.
func WithSink(s Sink) Option { return func(sm *Simulator) { sm.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(sm *Simulator) { sm.logger = l } }

// WithAfterFunc replaces the timer source.
func WithAfterFunc(f AfterFunc) Option { return func(sm *Simulator) { sm.after = f } }

// WithEvaluator replaces the evaluator.
func WithEvaluator(e *Evaluator) Option { return func(sm *Simulator) { sm.eval = e } }

// NewSimulator creates an idle simulator writing to log.
func NewSimulator(log *feedback.Log, opts ...Option) *Simulator {
	s := &Simulator{
		eval:   defaultEvaluator,
		log:    log,
		logger: slog.Default(),
		after:  realAfter,
		state:  StateIdle,
		fault:  FaultNone,
		tracer: otel.Tracer("engine/sim"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = feedback.NewLog(feedback.DefaultCapacity)
	}

	meter := otel.Meter("engine/sim")
	s.runs, _ = meter.Int64Counter("picolab.sim.runs",
		metric.WithDescription("Simulation runs started"))
	s.shorts, _ = meter.Int64Counter("picolab.sim.short_circuits",
		metric.WithDescription("Runs halted by a short circuit"))
	s.lit, _ = meter.Int64Counter("picolab.sim.lit_components",
		metric.WithDescription("Components lit across all runs"))
	return s
}

// Log returns the feedback log.
func (s *Simulator) Log() *feedback.Log { return s.log }

// State returns the lifecycle state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSimulating reports whether a run is in progress.
func (s *Simulator) IsSimulating() bool { return s.State() == StateRunning }

// Last returns the evaluation of the run in progress. It reports false when
// the simulator is idle.
func (s *Simulator) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Fault returns the active fault selector.
func (s *Simulator) Fault() Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// SetFault changes the fault selector. Only teachers may do so.
func (s *Simulator) SetFault(role Role, f Fault) error {
	if role != RoleTeacher {
		return ErrForbidden
	}
	parsed, err := ParseFault(string(f))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fault = parsed
	s.mu.Unlock()
	s.logger.Info("fault selector changed", "fault", parsed.String())
	return nil
}

// Start evaluates c and moves the simulator to running. An empty circuit only
// logs the guard warning and leaves the state unchanged. Follow-up events of a
// previous run are cancelled before new ones are scheduled.
func (s *Simulator) Start(ctx context.Context, c circuit.Circuit) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "sim.start")
	defer span.End()

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	fault := s.fault
	res := s.eval.Evaluate(c, fault)
	span.SetAttributes(
		attribute.Int("sim.components", len(c.Components)),
		attribute.Int("sim.connections", len(c.Connections)),
		attribute.String("sim.fault", fault.String()),
		attribute.Bool("sim.short_circuit", res.ShortCircuit),
		attribute.Int("sim.lit", len(res.Lit)),
	)

	if c.IsEmpty() {
		stored := s.log.Append(res.Events...)
		s.mu.Unlock()
		s.emit(ctx, stored)
		return res, nil
	}

	s.cancelPendingLocked()
	s.gen++
	gen := s.gen
	s.state = StateRunning
	s.last = &res
	stored := s.log.Append(res.Events...)
	for _, sch := range res.Scheduled {
		s.pending = append(s.pending, s.after(sch.Delay, s.followUp(gen, sch)))
	}
	s.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("fault", fault.String()))
	s.runs.Add(ctx, 1, attrs)
	if res.ShortCircuit {
		s.shorts.Add(ctx, 1, attrs)
	}
	s.lit.Add(ctx, int64(len(res.Lit)), attrs)

	s.logger.Info("simulation started",
		"components", len(c.Components),
		"connections", len(c.Connections),
		"fault", fault.String(),
		"short_circuit", res.ShortCircuit,
		"lit", len(res.Lit),
	)
	s.emit(ctx, stored)
	return res, nil
}

// Stop ends a run and cancels its pending follow-ups. It reports whether a
// run was in progress.
func (s *Simulator) Stop(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	s.cancelPendingLocked()
	s.gen++
	s.state = StateIdle
	s.last = nil
	e := s.log.Add(feedback.KindInfo, feedback.CodeSimulationStopped, MsgStopped)
	s.mu.Unlock()

	s.logger.Info("simulation stopped")
	s.emit(ctx, []feedback.Event{e})
	return true
}

// Reset returns the simulator to idle with no fault and drops any pending
// follow-ups without logging.
func (s *Simulator) Reset() {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.gen++
	s.state = StateIdle
	s.last = nil
	s.fault = FaultNone
	s.mu.Unlock()
}

// followUp returns the timer callback for sch. Callbacks from a superseded
// run are ignored.
func (s *Simulator) followUp(gen uint64, sch Scheduled) func() {
	return func() {
		s.mu.Lock()
		if gen != s.gen || s.state != StateRunning {
			s.mu.Unlock()
			return
		}
		e := sch.Event
		e.Timestamp = s.eval.opts.Now()
		stored := s.log.Append(e)
		if sch.StopsSimulation {
			s.state = StateIdle
			s.gen++
			s.pending = nil
			s.last = nil
		}
		s.mu.Unlock()

		if sch.StopsSimulation {
			s.logger.Warn("simulation auto-stopped", "code", e.Code)
		}
		s.emit(context.Background(), stored)
	}
}

func (s *Simulator) cancelPendingLocked() {
	for _, t := range s.pending {
		t.Stop()
	}
	s.pending = nil
}

func (s *Simulator) emit(ctx context.Context, events []feedback.Event) {
	if s.sink == nil {
		return
	}
	for _, e := range events {
		if err := s.sink.Emit(ctx, e); err != nil {
			s.logger.Warn("feedback sink failed", "code", e.Code, "err", err)
		}
	}
}

// Apply returns a copy of c whose component flags reflect res. Structure is
// left untouched.
func Apply(c circuit.Circuit, res Result) circuit.Circuit {
	out := c.Clone()
	for i := range out.Components {
		comp := &out.Components[i]
		lit := res.Lit[comp.ID]
		comp.State.Powered = lit
		comp.State.Active = lit
		comp.State.BurnedOut = res.BurnedOut[comp.ID]
		comp.State.ShortCircuit = res.Shorted[comp.ID]
	}
	return out
}
