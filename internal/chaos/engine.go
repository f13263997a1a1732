// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid, experiment aborted")

// Experiment is one hypothesis about how the lending system behaves under a
// fault, and the probes that decide whether it held.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	// SampleEvery overrides the engine's sampling interval.
	SampleEvery time.Duration
}

// Probe measures one property of the system.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether v satisfies the threshold. An unknown operator
// never holds.
func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

func (t Threshold) String() string { return fmt.Sprintf("%s %g", t.Operator, t.Value) }

// Action injects a fault, drives load, or undoes a fault.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against the last observation of Metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Failed           []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	// MTTR is the time from the first threshold violation to the first
	// sample back within it.
	MTTR *time.Duration `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  string    `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

func (r *Result) last(metric string) (float64, bool) {
	obs := r.Observations[metric]
	if len(obs) == 0 {
		return 0, false
	}
	return obs[len(obs)-1].Value, true
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	log         *zap.Logger
	sampleEvery time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{
		tracer:      otel.Tracer("lendingcore/chaos"),
		log:         log.With(zap.String("component", "chaos")),
		sampleEvery: time.Second,
	}
}

// SampleEvery sets the default interval between observations.
func (e *Engine) SampleEvery(d time.Duration) *Engine {
	if d > 0 {
		e.sampleEvery = d
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run checks the steady state, injects the method, samples the probes for
// exp.Duration, rolls back, and evaluates the assertions. Rollback runs
// even when ctx is cancelled during observation.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()
	log := e.log.With(zap.String("experiment", exp.Name))

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		log.Warn("steady state invalid", zap.Int("violations", len(violations)))
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_faults")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
			log.Warn("action failed", zap.String("action", action.Type), zap.String("target", action.Target), zap.Error(err))
		}
	}

	span.AddEvent("observing")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	rollbackCtx := context.WithoutCancel(ctx)
	for _, action := range exp.Rollback {
		if err := action.Execute(rollbackCtx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
			log.Error("rollback failed", zap.String("action", action.Type), zap.Error(err))
		}
	}

	span.AddEvent("validating_assertions")
	for _, a := range exp.Validation {
		v, ok := result.last(a.Metric)
		if !ok || !a.Condition(v) {
			result.Failed = append(result.Failed, a.Message)
		}
	}
	result.HypothesisHeld = len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	every := exp.SampleEvery
	if every <= 0 {
		every = e.sampleEvery
	}
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var violatedAt time.Time
	recovered := false
	for {
		select {
		case <-observeCtx.Done():
			// One last sample so assertions see the state at the end.
			e.sample(ctx, exp.SteadyState, result, &violatedAt, &recovered)
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result, &violatedAt, &recovered)
		}
	}
}

func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result, violatedAt *time.Time, recovered *bool) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range probes {
		v, err := p.Query(ctx)
		now := time.Now()
		if err != nil {
			result.recordError(p.Name, err)
			continue
		}
		result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: now, Value: v})

		if !p.Threshold.Holds(v) {
			if violatedAt.IsZero() {
				*violatedAt = now
			}
			result.Violations = append(result.Violations, Violation{
				Probe: p.Name, Expected: p.Threshold.String(), Actual: v, Timestamp: now,
			})
		} else if !violatedAt.IsZero() && !*recovered {
			mttr := now.Sub(*violatedAt)
			result.MTTR = &mttr
			*recovered = true
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		v, err := p.Query(ctx)
		if err != nil {
			e.log.Warn("probe failed", zap.String("probe", p.Name), zap.Error(err))
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.String(), Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !p.Threshold.Holds(v) {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.String(), Actual: v, Timestamp: time.Now()})
		}
	}
	return violations
}

func (r *Result) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: component})
}

// GameDay is a named series of experiments run back to back.
type GameDay struct {
	Name      string
	Scenarios []Experiment
	// Pause is the quiet time between experiments.
	Pause time.Duration
}

// RunGameDay runs every scenario and returns the results of those that got
// past their steady-state check. It stops early only when ctx is done.
func (e *Engine) RunGameDay(ctx context.Context, gd GameDay) ([]*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day", trace.WithAttributes(attribute.String("gameday.name", gd.Name)))
	defer span.End()

	e.log.Info("game day starting", zap.String("name", gd.Name), zap.Int("scenarios", len(gd.Scenarios)))
	var results []*Result
	for i, exp := range gd.Scenarios {
		if i > 0 && gd.Pause > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(gd.Pause):
			}
		}
		e.log.Info("experiment starting",
			zap.Int("n", i+1), zap.Int("of", len(gd.Scenarios)),
			zap.String("experiment", exp.Name), zap.String("hypothesis", exp.Hypothesis))

		res, err := e.Run(ctx, exp)
		if err != nil {
			e.log.Error("experiment aborted", zap.String("experiment", exp.Name), zap.Error(err))
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			continue
		}
		e.report(res)
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) report(r *Result) {
	fields := []zap.Field{
		zap.String("experiment", r.ExperimentName),
		zap.Bool("hypothesis_held", r.HypothesisHeld),
		zap.Int("violations", len(r.Violations)),
		zap.Int("errors", len(r.ErrorEvents)),
		zap.Duration("took", r.Duration),
	}
	if r.MTTR != nil {
		fields = append(fields, zap.Duration("mttr", *r.MTTR))
	}
	if r.HypothesisHeld {
		e.log.Info("hypothesis held", fields...)
		return
	}
	e.log.Warn("hypothesis violated", append(fields, zap.Strings("failed", r.Failed))...)
}
