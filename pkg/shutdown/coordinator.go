// Package shutdown implements the Shutdown Coordinator: a fixed,
// ordered sequence of staged handlers run with a per-stage timeout and
// fault policy, producing an accumulated final status.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stage names the fixed shutdown sequence, in order.
type Stage string

const (
	StageStopAcceptingRequests Stage = "StopAcceptingRequests"
	StageWebService            Stage = "WebService"
	StageAdapterHotReload      Stage = "AdapterHotReload"
	StagePluginHotReload       Stage = "PluginHotReload"
	StageAdapters              Stage = "Adapters"
	StagePlugins               Stage = "Plugins"
	StageWorkers               Stage = "Workers"
	StageChannels              Stage = "Channels"
	StageEngine                Stage = "Engine"
	StageLogging               Stage = "Logging"
)

// Order is the fixed stage sequence the Coordinator runs, front to
// back; a stage that fails or times out under an abort policy ends the
// run early.
var Order = []Stage{
	StageStopAcceptingRequests,
	StageWebService,
	StageAdapterHotReload,
	StagePluginHotReload,
	StageAdapters,
	StagePlugins,
	StageWorkers,
	StageChannels,
	StageEngine,
	StageLogging,
}

// FaultMode controls whether a stage failure aborts the remaining
// sequence.
type FaultMode int

const (
	ContinueOnError FaultMode = iota
	AbortOnError
)

// DefaultTimeout is the per-stage timeout applied when a stage's
// Policy does not override it.
const DefaultTimeout = 5 * time.Second

// Handler is one stage's shutdown logic.
type Handler func(ctx context.Context) error

// Policy configures one stage's timeout and fault behavior.
type Policy struct {
	Timeout   time.Duration
	FaultMode FaultMode
}

func defaultPolicy() Policy {
	return Policy{Timeout: DefaultTimeout, FaultMode: ContinueOnError}
}

// Outcome classifies how a single stage finished.
type Outcome string

const (
	OutcomeSuccess        Outcome = "Success"
	OutcomeFailedContinue Outcome = "FailedContinue"
	OutcomeFailedAbort    Outcome = "FailedAbort"
	OutcomeTimeout        Outcome = "Timeout"
)

// StageResult is the recorded outcome of running one stage.
type StageResult struct {
	Stage    Stage
	Outcome  Outcome
	Elapsed  time.Duration
	Err      error
}

// Status is the Coordinator's final, accumulated verdict.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusTimedOut  Status = "TimedOut"
)

// Coordinator runs Order's stages exactly once, guarded by a CAS so
// concurrent Shutdown() calls only ever execute the sequence a single
// time; later callers block until the first completes and then
// observe the same Results.
type Coordinator struct {
	mu       sync.Mutex
	handlers map[Stage]Handler
	policies map[Stage]Policy
	logger   *slog.Logger

	ran     atomic.Bool
	done    chan struct{}
	results []StageResult
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		handlers: make(map[Stage]Handler),
		policies: make(map[Stage]Policy),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Register wires a Handler for stage, optionally overriding its
// default Policy. Registering a Handler for an unknown Stage is a
// programmer error and panics — Order is fixed at compile time.
func (c *Coordinator) Register(stage Stage, h Handler, policy ...Policy) {
	if !validStage(stage) {
		panic(fmt.Sprintf("shutdown: unknown stage %q", stage))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[stage] = h
	if len(policy) > 0 {
		c.policies[stage] = policy[0]
	} else {
		c.policies[stage] = defaultPolicy()
	}
}

func validStage(s Stage) bool {
	for _, st := range Order {
		if st == s {
			return true
		}
	}
	return false
}

// Shutdown runs every stage in Order exactly once across all callers.
// A stage with no registered Handler is skipped (recorded as OK with
// zero elapsed time). Returns the final Status.
func (c *Coordinator) Shutdown(ctx context.Context) Status {
	if !c.ran.CompareAndSwap(false, true) {
		<-c.done
		return c.finalStatus()
	}
	defer close(c.done)

	var results []StageResult
	for _, stage := range Order {
		c.mu.Lock()
		handler, hasHandler := c.handlers[stage]
		policy, ok := c.policies[stage]
		c.mu.Unlock()
		if !ok {
			policy = defaultPolicy()
		}

		if !hasHandler {
			results = append(results, StageResult{Stage: stage, Outcome: OutcomeSuccess})
			continue
		}

		result := c.runStage(ctx, stage, handler, policy)
		results = append(results, result)

		abort := result.Outcome == OutcomeFailedAbort ||
			(result.Outcome == OutcomeTimeout && policy.FaultMode == AbortOnError)
		if abort {
			c.logger.Error("shutdown: aborting on stage failure", "component", "ShutdownCoordinator", "stage", stage, "outcome", result.Outcome, "error", result.Err)
			break
		}
	}

	c.mu.Lock()
	c.results = results
	c.mu.Unlock()

	return c.finalStatus()
}

func (c *Coordinator) runStage(ctx context.Context, stage Stage, h Handler, policy Policy) StageResult {
	stageCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- h(stageCtx)
	}()

	select {
	case err := <-errCh:
		elapsed := time.Since(start)
		if err != nil {
			outcome := OutcomeFailedContinue
			if policy.FaultMode == AbortOnError {
				outcome = OutcomeFailedAbort
			}
			c.logger.Error("shutdown: stage failed", "component", "ShutdownCoordinator", "stage", stage, "outcome", outcome, "error", err)
			return StageResult{Stage: stage, Outcome: outcome, Elapsed: elapsed, Err: err}
		}
		c.logger.Info("shutdown: stage completed", "component", "ShutdownCoordinator", "stage", stage, "elapsed", elapsed)
		return StageResult{Stage: stage, Outcome: OutcomeSuccess, Elapsed: elapsed}
	case <-stageCtx.Done():
		elapsed := time.Since(start)
		c.logger.Warn("shutdown: stage timed out", "component", "ShutdownCoordinator", "stage", stage, "timeout", policy.Timeout)
		return StageResult{Stage: stage, Outcome: OutcomeTimeout, Elapsed: elapsed, Err: stageCtx.Err()}
	}
}

func (c *Coordinator) finalStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	failedAbort, timedOut := false, false
	for _, r := range c.results {
		switch r.Outcome {
		case OutcomeFailedAbort:
			failedAbort = true
		case OutcomeTimeout:
			timedOut = true
		}
	}
	switch {
	case failedAbort:
		return StatusFailed
	case timedOut:
		return StatusTimedOut
	default:
		return StatusCompleted
	}
}

// Results returns a copy of the per-stage outcomes from the completed
// run (nil if Shutdown has not yet completed).
func (c *Coordinator) Results() []StageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StageResult, len(c.results))
	copy(out, c.results)
	return out
}
