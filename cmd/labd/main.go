// Package main implements the Pico Lab service: the workspace, simulator and
// exam API over HTTP, with feedback broadcast and circuit evaluation on NATS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/WessleyAI/picolab/engine/exam"
	"github.com/WessleyAI/picolab/engine/feedback"
	"github.com/WessleyAI/picolab/engine/sim"
	"github.com/WessleyAI/picolab/engine/similar"
	"github.com/WessleyAI/picolab/engine/store"
	"github.com/WessleyAI/picolab/engine/workspace"
	"github.com/WessleyAI/picolab/pkg/fn"
	"github.com/WessleyAI/picolab/pkg/natsutil"
	"github.com/WessleyAI/picolab/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"
)

// Config holds all environment-based configuration. Empty backend URLs
// disable the backend: exams are kept in memory, similarity search and the
// NATS bridge are switched off. EXAM_DB moves exams to SQL even when Neo4j
// is configured.
type Config struct {
	Port       string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	QdrantURL  string
	Collection string
	NATSURL    string
	ExamDB     string
	CORSOrigin string
	SimRate    float64
	SimBurst   int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		Neo4jURL:   envOr("NEO4J_URL", ""),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		QdrantURL:  envOr("QDRANT_URL", ""),
		Collection: envOr("QDRANT_COLLECTION", "picolab_submissions"),
		NATSURL:    envOr("NATS_URL", ""),
		ExamDB:     envOr("EXAM_DB", ""),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		SimRate:    fn.FromPair(strconv.ParseFloat(envOr("SIM_RATE", "2"), 64)).UnwrapOr(2),
		SimBurst:   fn.FromPair(strconv.Atoi(envOr("SIM_BURST", "5"))).UnwrapOr(5),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not read .env", "err", err)
	}
	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := feedback.NewLog(feedback.DefaultCapacity)
	srv := &server{logger: logger, log: log}
	var examStore exam.Store = exam.NewMemoryStore()
	examOpts := []exam.Option{exam.WithFeedback(log), exam.WithLogger(logger)}
	simOpts := []sim.Option{sim.WithLogger(logger)}

	// --- Neo4j: saved circuits and exams ---
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := waitFor(ctx, logger, "neo4j", driver.VerifyConnectivity); err != nil {
			return err
		}
		breaker := resilience.NewBreaker(resilience.BreakerOpts{
			OnStateChange: func(from, to resilience.State) {
				logger.Warn("neo4j breaker state changed", "from", from.String(), "to", to.String())
			},
		})
		srv.circuits = store.New(driver, store.WithBreaker(breaker))
		neo4jExams := exam.NewNeo4jStore(driver, exam.WithBreaker(breaker))
		if err := neo4jExams.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
		examStore = neo4jExams
	} else {
		logger.Info("NEO4J_URL not set, exams kept in memory and circuit saving disabled")
	}

	// --- SQL: exams ---
	if cfg.ExamDB != "" {
		sqlStore, err := exam.OpenSQL(cfg.ExamDB)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		examStore = sqlStore
		logger.Info("exams stored in SQL database")
	}

	// --- Qdrant: submission similarity ---
	if cfg.QdrantURL != "" {
		index, err := similar.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer index.Close()
		if err := waitFor(ctx, logger, "qdrant", index.EnsureCollection); err != nil {
			return err
		}
		srv.index = index
		breaker := resilience.NewBreaker(resilience.BreakerOpts{
			OnStateChange: func(from, to resilience.State) {
				logger.Warn("qdrant breaker state changed", "from", from.String(), "to", to.String())
			},
		})
		examOpts = append(examOpts, exam.WithIndexer(newSubmissionIndexer(index, breaker)))
	}

	// --- NATS: feedback broadcast and remote evaluation ---
	if cfg.NATSURL != "" {
		nc, err := fn.Retry(ctx, fn.DefaultRetry, func(context.Context) fn.Result[*nats.Conn] {
			return fn.FromPair(nats.Connect(cfg.NATSURL, nats.Name("labd")))
		}).Unwrap()
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()

		simOpts = append(simOpts, sim.WithSink(feedback.NewPublisher(nc, feedback.DefaultSubject)))
		sub, err := natsutil.Handle(nc, EvaluateSubject, evaluate)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", EvaluateSubject, err)
		}
		defer sub.Unsubscribe()
	}

	srv.ws = workspace.New(log, workspace.WithLogger(logger))
	srv.sim = sim.NewSimulator(log, simOpts...)
	srv.exams = exam.NewService(examStore, examOpts...)

	limiter := rate.NewLimiter(rate.Limit(cfg.SimRate), cfg.SimBurst)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.routes(cfg.CORSOrigin, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("lab server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	srv.sim.Reset()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// waitFor retries check until the backend answers or the retry budget runs out.
func waitFor(ctx context.Context, logger *slog.Logger, backend string, check func(context.Context) error) error {
	_, err := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[struct{}] {
		if err := check(ctx); err != nil {
			logger.Warn("backend not ready", "backend", backend, "err", err)
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("%s: %w", backend, err)
	}
	return nil
}
