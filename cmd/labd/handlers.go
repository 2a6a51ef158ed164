package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/exam"
	"github.com/WessleyAI/picolab/engine/feedback"
	"github.com/WessleyAI/picolab/engine/sim"
	"github.com/WessleyAI/picolab/engine/similar"
	"github.com/WessleyAI/picolab/engine/store"
	"github.com/WessleyAI/picolab/engine/workspace"
	"github.com/WessleyAI/picolab/pkg/fn"
	"github.com/WessleyAI/picolab/pkg/mid"
	"github.com/WessleyAI/picolab/pkg/resilience"
	"golang.org/x/time/rate"
)

var (
	errBadBody     = errors.New("invalid request body")
	errTeacherOnly = errors.New("teacher role required")
	errUnavailable = errors.New("backend not configured")
)

// circuitStore is the part of store.GraphStore the API uses.
type circuitStore interface {
	SaveCircuit(ctx context.Context, name string, c circuit.Circuit) error
	LoadCircuit(ctx context.Context, name string) (circuit.Circuit, error)
	ListCircuits(ctx context.Context) ([]string, error)
	DeleteCircuit(ctx context.Context, name string) error
}

// similarity is the part of similar.Index the API uses.
type similarity interface {
	Similar(ctx context.Context, examCode string, vec []float32, exclude string, limit int) ([]similar.Match, error)
}

// server holds the shared lab state behind the HTTP API. circuits and index
// are nil when their backend is not configured.
type server struct {
	ws       *workspace.Workspace
	sim      *sim.Simulator
	log      *feedback.Log
	exams    *exam.Service
	circuits circuitStore
	index    similarity
	logger   *slog.Logger
}

func (s *server) routes(corsOrigin string, limiter *rate.Limiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/library", s.handleLibrary)

	mux.HandleFunc("GET /api/circuit", s.handleCircuit)
	mux.HandleFunc("POST /api/components", s.handlePlace)
	mux.HandleFunc("PATCH /api/components/{id}", s.handleUpdateComponent)
	mux.HandleFunc("DELETE /api/components/{id}", s.handleRemoveComponent)
	mux.HandleFunc("POST /api/wires", s.handleConnect)
	mux.HandleFunc("DELETE /api/wires/{id}", s.handleDisconnect)
	mux.HandleFunc("POST /api/pins/select", s.handleSelectPin)
	mux.HandleFunc("POST /api/undo", s.handleUndo)
	mux.HandleFunc("POST /api/redo", s.handleRedo)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	mux.Handle("POST /api/simulation/start", mid.RateLimit(limiter)(http.HandlerFunc(s.handleStart)))
	mux.HandleFunc("POST /api/simulation/stop", s.handleStop)
	mux.HandleFunc("GET /api/feedback", s.handleFeedback)
	mux.HandleFunc("DELETE /api/feedback", s.handleClearFeedback)
	mux.HandleFunc("PUT /api/fault", s.handleFault)

	mux.HandleFunc("GET /api/circuits", s.handleListCircuits)
	mux.HandleFunc("PUT /api/circuits/{name}", s.handleSaveCircuit)
	mux.HandleFunc("GET /api/circuits/{name}", s.handleLoadCircuit)
	mux.HandleFunc("DELETE /api/circuits/{name}", s.handleDeleteCircuit)

	mux.HandleFunc("POST /api/exams", s.handleCreateExam)
	mux.HandleFunc("POST /api/exams/{code}/join", s.handleJoinExam)
	mux.HandleFunc("POST /api/exams/{code}/submissions", s.handleSubmitExam)
	mux.HandleFunc("GET /api/exams/{code}/submissions", s.handleListSubmissions)
	mux.HandleFunc("POST /api/exams/{code}/end", s.handleEndExam)
	mux.HandleFunc("DELETE /api/submissions/{id}", s.handleDeleteSubmission)
	mux.HandleFunc("PUT /api/submissions/{id}/review", s.handleReview)
	mux.HandleFunc("GET /api/submissions/{id}/similar", s.handleSimilar)

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.Logger(s.logger),
		mid.CORS(corsOrigin),
		mid.OTel("labd"),
	)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func isTeacher(r *http.Request) bool {
	return sim.Role(r.Header.Get(mid.RoleHeader)) == sim.RoleTeacher
}

// examMessages are the texts shown to students for exam refusals.
var examMessages = map[error]string{
	exam.ErrInvalidCode:      "Invalid exam code",
	exam.ErrExpired:          "This exam has expired",
	exam.ErrInactive:         "This exam is no longer active",
	exam.ErrAlreadySubmitted: "You have already submitted this exam",
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, circuit.ErrComponentNotFound),
		errors.Is(err, circuit.ErrWireNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, exam.ErrNotFound),
		errors.Is(err, exam.ErrInvalidCode):
		return http.StatusNotFound
	case errors.Is(err, errBadBody),
		errors.Is(err, circuit.ErrUnknownType),
		errors.Is(err, circuit.ErrPinNotFound),
		errors.Is(err, circuit.ErrSelfConnection),
		errors.Is(err, circuit.ErrDuplicateID),
		errors.Is(err, circuit.ErrInconsistent),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, exam.ErrInvalidRequest),
		errors.Is(err, exam.ErrInvalidScore),
		errors.Is(err, sim.ErrUnknownFault):
		return http.StatusBadRequest
	case errors.Is(err, sim.ErrForbidden), errors.Is(err, errTeacherOnly):
		return http.StatusForbidden
	case errors.Is(err, sim.ErrAlreadyRunning), errors.Is(err, exam.ErrAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, exam.ErrExpired), errors.Is(err, exam.ErrInactive):
		return http.StatusGone
	case errors.Is(err, similar.ErrZeroVector):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errUnavailable), errors.Is(err, resilience.ErrBreakerOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	for sentinel, text := range examMessages {
		if errors.Is(err, sentinel) {
			msg = text
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		msg = "internal server error"
	}
	resp := map[string]any{"error": msg}
	var verr *exam.ValidationError
	if errors.As(err, &verr) {
		resp["fields"] = verr.Fields
	}
	writeJSON(w, status, resp)
}

// --- Catalog ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// libraryGroup is one palette section.
type libraryGroup struct {
	Category circuit.Category     `json:"category"`
	Parts    []circuit.Definition `json:"parts"`
}

// handleLibrary lists the catalog grouped by category, in palette order.
// With ?exam=CODE only the parts that exam allows are listed.
func (s *server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	allowed := func(circuit.Definition) bool { return true }
	if code := r.URL.Query().Get("exam"); code != "" {
		e, err := s.exams.Exam(r.Context(), code)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		allowed = func(d circuit.Definition) bool { return e.Allows(d.Type) }
	}
	groups := circuit.ByCategory()
	var order []circuit.Category
	for _, d := range circuit.Definitions() {
		if allowed(d) && !slices.Contains(order, d.Category) {
			order = append(order, d.Category)
		}
	}
	writeJSON(w, http.StatusOK, fn.Map(order, func(c circuit.Category) libraryGroup {
		return libraryGroup{Category: c, Parts: fn.Filter(groups[c], allowed)}
	}))
}

// --- Workspace ---

// circuitResponse is the editor view of the workspace.
type circuitResponse struct {
	Circuit    circuit.Circuit   `json:"circuit"`
	Selected   *circuit.Endpoint `json:"selected,omitempty"`
	CanUndo    bool              `json:"can_undo"`
	CanRedo    bool              `json:"can_redo"`
	Simulating bool              `json:"simulating"`
	Fault      sim.Fault         `json:"fault"`
}

// view reports the workspace. While a run is in progress the component flags
// of its evaluation are applied.
func (s *server) view() circuitResponse {
	c := s.ws.Snapshot()
	res, running := s.sim.Last()
	if running {
		c = sim.Apply(c, res)
	}
	resp := circuitResponse{
		Circuit:    c,
		CanUndo:    s.ws.CanUndo(),
		CanRedo:    s.ws.CanRedo(),
		Simulating: running,
		Fault:      s.sim.Fault(),
	}
	if ep, ok := s.ws.Selected(); ok {
		resp.Selected = &ep
	}
	return resp
}

func (s *server) handleCircuit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

// PlaceRequest is the JSON body for POST /api/components.
type PlaceRequest struct {
	Type circuit.ComponentType `json:"type"`
	X    float64               `json:"x"`
	Y    float64               `json:"y"`
}

func (s *server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	comp, err := s.ws.Place(req.Type, req.X, req.Y)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comp)
}

// UpdateRequest is the JSON body for PATCH /api/components/{id}. Only the
// fields present are applied, as one undo step.
type UpdateRequest struct {
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Rotate *int     `json:"rotate,omitempty"`
	Value  *string  `json:"value,omitempty"`
}

func (s *server) handleUpdateComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req UpdateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	comp, err := s.ws.Update(id, workspace.Patch{X: req.X, Y: req.Y, Rotate: req.Rotate, Value: req.Value})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func (s *server) handleRemoveComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.Remove(r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConnectRequest is the JSON body for POST /api/wires.
type ConnectRequest struct {
	From circuit.Endpoint `json:"from"`
	To   circuit.Endpoint `json:"to"`
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	wire, err := s.ws.Connect(req.From, req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire)
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.Disconnect(r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// selectResponse reports the state of the two-click wiring gesture.
type selectResponse struct {
	Selected *circuit.Endpoint `json:"selected,omitempty"`
	Wire     *circuit.Wire     `json:"wire,omitempty"`
}

func (s *server) handleSelectPin(w http.ResponseWriter, r *http.Request) {
	var ep circuit.Endpoint
	if err := decode(r, &ep); err != nil {
		s.fail(w, r, err)
		return
	}
	wire, err := s.ws.SelectPin(ep)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := selectResponse{Wire: wire}
	if sel, ok := s.ws.Selected(); ok {
		resp.Selected = &sel
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleUndo(w http.ResponseWriter, _ *http.Request) {
	s.ws.Undo()
	writeJSON(w, http.StatusOK, s.view())
}

func (s *server) handleRedo(w http.ResponseWriter, _ *http.Request) {
	s.ws.Redo()
	writeJSON(w, http.StatusOK, s.view())
}

func (s *server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.sim.Reset()
	s.ws.Reset()
	writeJSON(w, http.StatusOK, s.view())
}

// --- Simulation ---

// simulationResponse carries the evaluation and the circuit with its
// component flags applied.
type simulationResponse struct {
	Result  sim.Result      `json:"result"`
	Circuit circuit.Circuit `json:"circuit"`
	Running bool            `json:"running"`
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	c := s.ws.Snapshot()
	res, err := s.sim.Start(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationResponse{
		Result:  res,
		Circuit: sim.Apply(c, res),
		Running: s.sim.IsSimulating(),
	})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.sim.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *server) handleFeedback(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.log.Entries())
}

func (s *server) handleClearFeedback(w http.ResponseWriter, _ *http.Request) {
	s.log.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// FaultRequest is the JSON body for PUT /api/fault.
type FaultRequest struct {
	Fault string `json:"fault"`
}

func (s *server) handleFault(w http.ResponseWriter, r *http.Request) {
	var req FaultRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role := sim.Role(r.Header.Get(mid.RoleHeader))
	if err := s.sim.SetFault(role, sim.Fault(req.Fault)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]sim.Fault{"fault": s.sim.Fault()})
}

// --- Saved circuits ---

func (s *server) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	if s.circuits == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	names, err := s.circuits.ListCircuits(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"circuits": names})
}

func (s *server) handleSaveCircuit(w http.ResponseWriter, r *http.Request) {
	if s.circuits == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	name := r.PathValue("name")
	if err := s.circuits.SaveCircuit(r.Context(), name, s.ws.Snapshot()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saved": name})
}

// handleLoadCircuit replaces the workspace with a saved circuit. Loading is an
// undoable edit.
func (s *server) handleLoadCircuit(w http.ResponseWriter, r *http.Request) {
	if s.circuits == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	c, err := s.circuits.LoadCircuit(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ws.Load(c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *server) handleDeleteCircuit(w http.ResponseWriter, r *http.Request) {
	if s.circuits == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	if err := s.circuits.DeleteCircuit(r.Context(), r.PathValue("name")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Exams ---

func (s *server) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	if !isTeacher(r) {
		s.fail(w, r, errTeacherOnly)
		return
	}
	var req exam.CreateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.exams.Create(r.Context(), req, r.Header.Get(mid.UserHeader))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// StudentRequest identifies the student in exam requests.
type StudentRequest struct {
	StudentCode string `json:"student_code"`
}

func (s *server) handleJoinExam(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if err := decode(r, &req); err != nil || req.StudentCode == "" {
		s.fail(w, r, errBadBody)
		return
	}
	a, err := s.exams.Join(r.Context(), r.PathValue("code"), req.StudentCode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SubmitRequest is the JSON body for POST /api/exams/{code}/submissions.
// Without a circuit the current workspace is submitted.
type SubmitRequest struct {
	StudentCode string           `json:"student_code"`
	Circuit     *circuit.Circuit `json:"circuit,omitempty"`
	Auto        bool             `json:"auto"`
}

func (s *server) handleSubmitExam(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decode(r, &req); err != nil || req.StudentCode == "" {
		s.fail(w, r, errBadBody)
		return
	}
	c := s.ws.Snapshot()
	if req.Circuit != nil {
		c = *req.Circuit
	}
	sub, err := s.exams.Submit(r.Context(), r.PathValue("code"), req.StudentCode, c, req.Auto)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if !isTeacher(r) {
		s.fail(w, r, errTeacherOnly)
		return
	}
	subs, err := s.exams.Submissions(r.Context(), r.PathValue("code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *server) handleEndExam(w http.ResponseWriter, r *http.Request) {
	if !isTeacher(r) {
		s.fail(w, r, errTeacherOnly)
		return
	}
	e, err := s.exams.End(r.Context(), r.PathValue("code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ReviewRequest is the JSON body for PUT /api/submissions/{id}/review.
type ReviewRequest struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

func (s *server) handleReview(w http.ResponseWriter, r *http.Request) {
	if !isTeacher(r) {
		s.fail(w, r, errTeacherOnly)
		return
	}
	var req ReviewRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.exams.Review(r.Context(), r.PathValue("id"), req.Score, req.Feedback)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleDeleteSubmission discards a submission so the student can submit
// again.
func (s *server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	if !isTeacher(r) {
		s.fail(w, r, errTeacherOnly)
		return
	}
	if err := s.exams.DeleteSubmission(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const defaultSimilarLimit = 5

// handleSimilar lists the submissions of the same exam whose circuits look
// most like this one.
func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if !isTeacher(r) {
		s.fail(w, r, errTeacherOnly)
		return
	}
	if s.index == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	sub, err := s.exams.Submission(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := fn.FromPair(strconv.Atoi(r.URL.Query().Get("limit"))).UnwrapOr(defaultSimilarLimit)
	vec := similar.Features(sub.Circuit, sim.Evaluate(sub.Circuit, sim.FaultNone))
	matches, err := s.index.Similar(r.Context(), sub.ExamCode, vec, sub.ID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission_id": sub.ID, "matches": matches})
}
