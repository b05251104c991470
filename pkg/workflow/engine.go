// Package workflow implements event-triggered multi-step tool orchestration:
// stored workflow definitions, trigger matching, argument templating, and a
// persisted audit trail of every run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcp-suite/fabric/pkg/bus"
	"github.com/mcp-suite/fabric/pkg/mcp"
	"github.com/mcp-suite/fabric/pkg/models"
)

// Engine listens to the bus and executes matching workflows. Runs triggered
// by distinct events proceed concurrently; the steps of one run are strictly
// sequential.
type Engine struct {
	store  *Store
	pool   *mcp.Pool
	bus    *bus.Bus
	logger *slog.Logger

	mu         sync.Mutex
	baseCtx    context.Context
	baseCancel context.CancelFunc
	activeRuns map[string]context.CancelFunc
	unsub      bus.Unsubscribe

	wg sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over a store, a client pool, and the bus.
func NewEngine(store *Store, pool *mcp.Pool, b *bus.Bus, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		pool:       pool,
		bus:        b,
		logger:     slog.Default(),
		activeRuns: make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start subscribes the engine to every bus event. Run contexts derive from
// ctx, so cancelling it (or calling Stop) cancels in-flight runs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub != nil {
		return fmt.Errorf("workflow engine already started")
	}
	e.baseCtx, e.baseCancel = context.WithCancel(ctx)

	unsub, err := e.bus.SubscribePattern("**", e.onEvent)
	if err != nil {
		e.baseCancel()
		return fmt.Errorf("subscribe workflow engine: %w", err)
	}
	e.unsub = unsub
	e.logger.Info("workflow engine started")
	return nil
}

// Stop unsubscribes from the bus, cancels active runs, and waits for their
// goroutines to record terminal state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	if e.baseCancel != nil {
		e.baseCancel()
	}
	for _, cancel := range e.activeRuns {
		cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("workflow engine stopped")
}

// ActiveRuns returns the number of runs currently executing.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeRuns)
}

// onEvent is the bus pattern handler: it finds active workflows triggered by
// the event whose conditions the payload satisfies and launches a run for
// each. The handler returns after launching so it never blocks fan-out.
func (e *Engine) onEvent(ctx context.Context, event string, payload bus.Payload) error {
	// Lifecycle events never trigger workflows; a workflow triggered by its
	// own completion event would recurse.
	switch event {
	case EventWorkflowTriggered, EventWorkflowCompleted, EventWorkflowFailed:
		return nil
	}

	workflows, err := e.store.ListByTriggerEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("match workflows for %q: %w", event, err)
	}
	for _, w := range workflows {
		if !MatchConditions(w.TriggerConditions, payload) {
			continue
		}
		e.launch(w.ID, payload)
	}
	return nil
}

// Trigger executes a workflow synchronously against an explicit payload,
// bypassing condition matching. Works on inactive workflows. Returns the run
// id and the terminal run error, if any.
func (e *Engine) Trigger(ctx context.Context, workflowID string, payload map[string]any) (string, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return e.execute(ctx, w.ID, payload)
}

// launch starts an asynchronous run under the engine's base context.
func (e *Engine) launch(workflowID string, payload map[string]any) {
	e.mu.Lock()
	base := e.baseCtx
	e.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.execute(base, workflowID, payload); err != nil {
			e.logger.Warn("workflow run failed",
				"workflowId", workflowID, "error", err)
		}
	}()
}

// execute performs one full run: create the run record, publish the
// triggered event, walk the steps sequentially, and record terminal state.
// Exactly one step record carries the failure when the run fails.
func (e *Engine) execute(ctx context.Context, workflowID string, payload map[string]any) (string, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}

	run, err := e.store.CreateRun(ctx, w.ID, payload)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.trackRun(run.ID, cancel)
	defer e.forgetRun(run.ID)

	e.publish(EventWorkflowTriggered, bus.Payload{
		"workflowId":   w.ID,
		"workflowName": w.Name,
		"runId":        run.ID,
	})
	e.logger.Info("workflow triggered",
		"workflow", w.Name, "workflowId", w.ID, "runId", run.ID)

	tc := TemplateContext{Payload: payload}
	for i, spec := range w.Steps {
		if runCtx.Err() != nil {
			// A run cancelled between steps still records a failed step, so
			// every failed run carries exactly one failed step record.
			msg := fmt.Sprintf("step %d: cancelled", i)
			dbCtx := context.WithoutCancel(runCtx)
			step, recErr := e.store.CreateStep(dbCtx, run.ID, i, spec.Server, spec.Tool, spec.Arguments)
			if recErr == nil {
				recErr = e.store.FailStep(dbCtx, step.ID, msg)
			}
			if recErr != nil {
				e.logger.Warn("record cancelled step failed", "runId", run.ID, "error", recErr)
			}
			if failErr := e.failRun(run.ID, msg); failErr != nil {
				return run.ID, failErr
			}
			return run.ID, errors.New(msg)
		}

		stepErr := e.executeStep(runCtx, run.ID, i, spec, &tc)
		if stepErr != nil {
			failErr := e.failRun(run.ID, stepErr.Error())
			if failErr != nil {
				return run.ID, failErr
			}
			return run.ID, stepErr
		}
	}

	if err := e.store.CompleteRun(context.WithoutCancel(ctx), run.ID); err != nil {
		return run.ID, fmt.Errorf("complete run: %w", err)
	}
	e.publish(EventWorkflowCompleted, bus.Payload{"runId": run.ID})
	e.logger.Info("workflow completed", "workflow", w.Name, "runId", run.ID)
	return run.ID, nil
}

// executeStep resolves one step's argument templates, invokes the tool, and
// records the outcome. On success the decoded result is appended to the
// template context for later steps.
func (e *Engine) executeStep(ctx context.Context, runID string, index int, spec models.StepSpec, tc *TemplateContext) error {
	args, resolveErr := ResolveArguments(spec.Arguments, *tc)
	if resolveErr != nil {
		// The step record is still written so the audit trail shows which
		// step held the bad template.
		step, err := e.store.CreateStep(ctx, runID, index, spec.Server, spec.Tool, spec.Arguments)
		if err != nil {
			return fmt.Errorf("step %d: record: %w", index, err)
		}
		msg := fmt.Sprintf("step %d: %v", index, resolveErr)
		if err := e.store.FailStep(context.WithoutCancel(ctx), step.ID, msg); err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
		return errors.New(msg)
	}

	step, err := e.store.CreateStep(ctx, runID, index, spec.Server, spec.Tool, args)
	if err != nil {
		return fmt.Errorf("step %d: record: %w", index, err)
	}

	result, callErr := e.pool.CallTool(ctx, spec.Server, spec.Tool, args)
	if callErr != nil {
		kind := mcp.Classify(callErr)
		msg := fmt.Sprintf("step %d: %s.%s: %s: %v", index, spec.Server, spec.Tool, kind, callErr)
		if kind == mcp.ErrorKindCancelled {
			msg = fmt.Sprintf("step %d: cancelled", index)
		}
		if err := e.store.FailStep(context.WithoutCancel(ctx), step.ID, msg); err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
		return errors.New(msg)
	}

	if result.IsError {
		msg := fmt.Sprintf("step %d: %s.%s failed: %s",
			index, spec.Server, spec.Tool, mcp.ExtractText(result))
		if err := e.store.FailStep(context.WithoutCancel(ctx), step.ID, msg); err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
		return errors.New(msg)
	}

	decoded := mcp.DecodeResult(result)
	if err := e.store.CompleteStep(context.WithoutCancel(ctx), step.ID, decoded); err != nil {
		return fmt.Errorf("step %d: %w", index, err)
	}
	tc.Steps = append(tc.Steps, StepOutcome{Result: decoded})
	return nil
}

func (e *Engine) failRun(runID, msg string) error {
	// Terminal state is written outside any cancelled context.
	if err := e.store.FailRun(context.Background(), runID, msg); err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	e.publish(EventWorkflowFailed, bus.Payload{"runId": runID, "error": msg})
	return nil
}

// publish sends a lifecycle event best-effort. Registry rejections here mean
// RegisterFabricEvents was not called, which is a wiring bug worth logging.
func (e *Engine) publish(event string, payload bus.Payload) {
	if err := e.bus.Publish(context.Background(), event, payload); err != nil {
		e.logger.Warn("publish lifecycle event failed", "event", event, "error", err)
	}
}

func (e *Engine) trackRun(runID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.activeRuns[runID] = cancel
	e.mu.Unlock()
}

func (e *Engine) forgetRun(runID string) {
	e.mu.Lock()
	cancel := e.activeRuns[runID]
	delete(e.activeRuns, runID)
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
