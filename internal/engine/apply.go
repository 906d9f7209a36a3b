package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/logging"
	"github.com/terrapin-io/terrapin/internal/provider"
	"github.com/terrapin-io/terrapin/internal/state"
)

// DefaultParallelism bounds how many provider operations run at once.
const DefaultParallelism = 10

// OutcomeStatus is the terminal result of one plan node.
type OutcomeStatus string

const (
	StatusApplied   OutcomeStatus = "applied"
	StatusFailed    OutcomeStatus = "failed"
	StatusSkipped   OutcomeStatus = "skipped"
	StatusCancelled OutcomeStatus = "cancelled"
)

// ApplyEvent is one progress event in the per-node outcome stream.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "applied", "failed", "skipped", "cancelled"
	Duration time.Duration
	Error    error
}

// ApplyCallback receives apply events as they happen.
type ApplyCallback func(event ApplyEvent)

// Outcome is the settled result for one address.
type Outcome struct {
	Address  string
	Action   ir.Action
	Status   OutcomeStatus
	Duration time.Duration
	Error    error
}

// Report aggregates a whole apply cycle.
type Report struct {
	RunID     string
	Applied   int
	Failed    int
	Skipped   int
	Cancelled int
	Outcomes  []Outcome
}

// Err returns a non-nil error when any node failed or was cancelled, so
// the cycle exits non-zero while state still reflects every success.
func (r *Report) Err() error {
	if r.Failed == 0 && r.Cancelled == 0 {
		return nil
	}
	return fmt.Errorf("apply incomplete: %d applied, %d failed, %d skipped, %d cancelled",
		r.Applied, r.Failed, r.Skipped, r.Cancelled)
}

// Executor walks a plan's dependency edges with a bounded worker pool,
// invoking provider operations and writing state as each node settles.
type Executor struct {
	registry    *provider.Registry
	parallelism int
	retry       *RetryPolicy
	locks       map[string]*ir.LockEntry
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithParallelism overrides the worker pool size.
func WithParallelism(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithRetryPolicy overrides the transient-error retry policy.
func WithRetryPolicy(p *RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.retry = p }
}

// WithProviderLocks supplies the resolved provider versions stamped onto
// every record this cycle writes.
func WithProviderLocks(locks map[string]*ir.LockEntry) ExecutorOption {
	return func(e *Executor) { e.locks = locks }
}

func NewExecutor(registry *provider.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		parallelism: DefaultParallelism,
		retry:       DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply executes the plan. A node starts only after every node it
// depends on has settled; a failed or skipped dependency skips the node
// without attempting it, while unrelated subgraphs run to completion.
// Cancelling ctx stops scheduling new nodes but lets in-flight provider
// calls finish, so no call is abandoned with an unknown outcome. The
// error return is non-nil only for cycle-fatal conditions (a serial
// conflict in the state store); per-node failures live in the report.
func (e *Executor) Apply(ctx context.Context, plan *ir.Plan, tx *state.Tx, callback ApplyCallback) (*Report, error) {
	report := &Report{RunID: uuid.New().String()}
	emit := func(ev ApplyEvent) {
		if callback != nil {
			callback(ev)
		}
	}

	changeMap := make(map[string]*ir.NodeChange, len(plan.Changes))
	for _, c := range plan.Changes {
		changeMap[c.Address] = c
	}

	// Only edges to nodes actually in the plan gate execution; settled
	// no-op dependencies are already satisfied.
	deps := make(map[string][]string, len(plan.Changes))
	for _, c := range plan.Changes {
		for _, dep := range c.DependsOn {
			if _, ok := changeMap[dep]; ok {
				deps[c.Address] = append(deps[c.Address], dep)
			}
		}
	}

	statuses := make(map[string]OutcomeStatus, len(plan.Changes))
	durations := make(map[string]time.Duration, len(plan.Changes))
	nodeErrs := make(map[string]error, len(plan.Changes))

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, e.parallelism)
	var fatal error

	var wg sync.WaitGroup
	for _, change := range plan.Changes {
		wg.Add(1)
		go func(c *ir.NodeChange) {
			defer wg.Done()

			mu.Lock()
			for {
				if fatal != nil {
					statuses[c.Address] = StatusCancelled
					mu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "cancelled"})
					cond.Broadcast()
					return
				}
				settled := true
				blocked := false
				for _, dep := range deps[c.Address] {
					switch statuses[dep] {
					case StatusApplied:
					case StatusFailed, StatusSkipped, StatusCancelled:
						blocked = true
					default:
						settled = false
					}
					if blocked {
						break
					}
				}
				if blocked {
					statuses[c.Address] = StatusSkipped
					mu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped"})
					cond.Broadcast()
					return
				}
				if settled {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			if ctx.Err() != nil {
				mu.Lock()
				statuses[c.Address] = StatusCancelled
				mu.Unlock()
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "cancelled"})
				cond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			err := e.applyChange(ctx, c, tx)
			elapsed := time.Since(start)

			mu.Lock()
			durations[c.Address] = elapsed
			if err != nil {
				statuses[c.Address] = StatusFailed
				nodeErrs[c.Address] = err
				var cm *state.ConcurrentModificationError
				if errors.As(err, &cm) && fatal == nil {
					fatal = err
				}
			} else {
				statuses[c.Address] = StatusApplied
			}
			mu.Unlock()

			if err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: elapsed, Error: err})
			} else {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "applied", Duration: elapsed})
			}
			cond.Broadcast()
		}(change)
	}
	wg.Wait()

	for _, c := range plan.Changes {
		outcome := Outcome{
			Address:  c.Address,
			Action:   c.Action,
			Status:   statuses[c.Address],
			Duration: durations[c.Address],
			Error:    nodeErrs[c.Address],
		}
		report.Outcomes = append(report.Outcomes, outcome)
		switch outcome.Status {
		case StatusApplied:
			report.Applied++
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		case StatusCancelled:
			report.Cancelled++
		}
	}
	return report, fatal
}

// applyChange performs one node's provider operation and the exactly-one
// state write that must follow it. The operation context is detached
// from the run's cancellation so an in-flight call always settles, but
// it still carries the per-operation timeout.
func (e *Executor) applyChange(ctx context.Context, c *ir.NodeChange, tx *state.Tx) error {
	logging.Debug("applying change", "address", c.Address, "action", c.Action)

	timeout := DefaultTimeout
	if c.Desired != nil && c.Desired.Timeout != "" {
		if d, err := time.ParseDuration(c.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// State writes are detached from the run's cancellation too: work a
	// provider call completed must be persisted even when the interrupt
	// arrived while the call was in flight.
	persistCtx := context.WithoutCancel(ctx)

	provName := ""
	if c.Desired != nil {
		provName = c.Desired.Provider
	} else if c.Prior != nil {
		provName = c.Prior.Provider
	}
	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not loaded: %s", provName)
	}

	var attrs map[string]any
	if c.Desired != nil {
		attrs, err = e.resolveApplyAttrs(c.Desired.Attributes, tx)
		if err != nil {
			return fmt.Errorf("failed to resolve references for %s: %w", c.Address, err)
		}
	}

	switch c.Action {
	case ir.ActionCreate:
		newAttrs, err := e.create(opCtx, prov, c, attrs)
		if err != nil {
			return e.wrapOpErr(opCtx, "create", c.Address, timeout, err)
		}
		_, err = tx.Write(persistCtx, e.newRecord(c, newAttrs), 0)
		return err

	case ir.ActionUpdate:
		var applied map[string]any
		err := RetryWithBackoff(opCtx, e.retry, func() error {
			var opErr error
			applied, opErr = prov.Update(opCtx, c.Desired.Type, c.Prior.Attributes, attrs)
			return opErr
		}, IsTransientError)
		if err != nil {
			return e.wrapOpErr(opCtx, "update", c.Address, timeout, err)
		}
		_, err = tx.Write(persistCtx, e.newRecord(c, applied), c.Prior.Serial)
		return err

	case ir.ActionDestroy:
		err := RetryWithBackoff(opCtx, e.retry, func() error {
			return prov.Delete(opCtx, c.Prior.Type, c.Prior.Attributes)
		}, IsTransientError)
		if err != nil {
			return e.wrapOpErr(opCtx, "destroy", c.Address, timeout, err)
		}
		return tx.Remove(persistCtx, c.Address)

	case ir.ActionReplace:
		return e.replace(persistCtx, opCtx, prov, c, attrs, tx, timeout)
	}
	return nil
}

// replace runs the two halves of a replacement in the order the
// lifecycle chose: create the successor first when create_before_destroy
// is set, otherwise destroy the original first. Each half is persisted
// before the other is attempted, so a failure between them leaves state
// describing exactly the objects that exist: the original's record is
// gone as soon as it is destroyed, and the successor's record is present
// as soon as it is created.
func (e *Executor) replace(persistCtx, opCtx context.Context, prov provider.Provider, c *ir.NodeChange, attrs map[string]any, tx *state.Tx, timeout time.Duration) error {
	destroy := func() error {
		err := RetryWithBackoff(opCtx, e.retry, func() error {
			return prov.Delete(opCtx, c.Prior.Type, c.Prior.Attributes)
		}, IsTransientError)
		if err != nil {
			return e.wrapOpErr(opCtx, "destroy (replace)", c.Address, timeout, err)
		}
		return nil
	}

	if c.ReplaceOrder == ir.CreateThenDestroy {
		newAttrs, err := e.create(opCtx, prov, c, attrs)
		if err != nil {
			return e.wrapOpErr(opCtx, "create (replace)", c.Address, timeout, err)
		}
		if _, err := tx.Write(persistCtx, e.newRecord(c, newAttrs), c.Prior.Serial); err != nil {
			return err
		}
		return destroy()
	}

	if err := destroy(); err != nil {
		return err
	}
	if err := tx.Remove(persistCtx, c.Address); err != nil {
		return err
	}
	newAttrs, err := e.create(opCtx, prov, c, attrs)
	if err != nil {
		return e.wrapOpErr(opCtx, "create (replace)", c.Address, timeout, err)
	}
	_, err = tx.Write(persistCtx, e.newRecord(c, newAttrs), 0)
	return err
}

func (e *Executor) create(opCtx context.Context, prov provider.Provider, c *ir.NodeChange, attrs map[string]any) (map[string]any, error) {
	var newAttrs map[string]any
	err := RetryWithBackoff(opCtx, e.retry, func() error {
		var opErr error
		newAttrs, opErr = prov.Create(opCtx, c.Desired.Type, attrs)
		return opErr
	}, IsTransientError)
	return newAttrs, err
}

// wrapOpErr distinguishes a timed-out operation, whose outcome is
// unknown, from a plain failure.
func (e *Executor) wrapOpErr(opCtx context.Context, op, addr string, timeout time.Duration, err error) error {
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out for %s after %s: outcome unknown, verify the remote object manually: %w",
			op, addr, timeout, err)
	}
	return fmt.Errorf("%s failed for %s: %w", op, addr, err)
}

func (e *Executor) newRecord(c *ir.NodeChange, attrs map[string]any) *ir.Record {
	rec := &ir.Record{
		Address:      c.Address,
		Type:         c.Desired.Type,
		Name:         c.Desired.Name,
		Provider:     c.Desired.Provider,
		Attributes:   attrs,
		Dependencies: append([]string(nil), c.DependsOn...),
	}
	if c.Desired.Lifecycle != nil {
		rec.PreventDestroy = c.Desired.Lifecycle.PreventDestroy
	}
	if lock, ok := e.locks[c.Desired.Provider]; ok {
		rec.ProviderVersion = lock.Version
	}
	return rec
}

// ResolveOutputs substitutes ref:// values in the configured outputs
// from the applied records.
func ResolveOutputs(outputs map[string]any, tx *state.Tx) (map[string]any, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	resolved, err := resolveFromState(outputs, tx)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// resolveApplyAttrs replaces every ref:// value with the concrete output
// of its producing record. By execution time each producer has settled,
// so a missing value is an error, never a placeholder.
func (e *Executor) resolveApplyAttrs(attrs map[string]any, tx *state.Tx) (map[string]any, error) {
	resolved, err := resolveFromState(attrs, tx)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveFromState(v any, tx *state.Tx) (any, error) {
	switch val := v.(type) {
	case string:
		addr, attr := splitRef(val)
		if addr == "" {
			return val, nil
		}
		rec, ok := tx.Get(addr)
		if !ok {
			return nil, fmt.Errorf("reference %s: no state record for %s", val, addr)
		}
		out, ok := rec.Attributes[attr]
		if !ok {
			return nil, fmt.Errorf("reference %s: record %s has no attribute %q", val, addr, attr)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := resolveFromState(item, tx)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveFromState(item, tx)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}
