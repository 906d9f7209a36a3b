package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/logging"
	"github.com/terrapin-io/terrapin/internal/provider"
)

// Planner computes execution plans by diffing desired configuration
// against the last-applied state. Planning never mutates anything: the
// plan can be computed, rendered, and discarded freely.
type Planner struct {
	registry *provider.Registry
}

func NewPlanner(registry *provider.Registry) *Planner {
	return &Planner{registry: registry}
}

// Plan computes the full plan for the configuration.
func (p *Planner) Plan(ctx context.Context, cfg *ir.Config, st *ir.State) (*ir.Plan, error) {
	return p.PlanTargets(ctx, cfg, st, nil)
}

// PlanTargets computes a plan restricted to the given addresses plus
// their transitive dependencies. Nil targets plans everything.
func (p *Planner) PlanTargets(ctx context.Context, cfg *ir.Config, st *ir.State, targets []string) (*ir.Plan, error) {
	resources := Expand(cfg.Resources)
	records := ApplyMoves(st.RecordMap(), cfg.Moved)

	logging.Debug("planning", "resources", len(resources), "state_records", len(records), "targets", len(targets))

	graph, err := BuildGraph(resources, records)
	if err != nil {
		return nil, err
	}

	desired := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		desired[res.Address()] = res
		if err := p.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	for _, rec := range records {
		if err := p.registry.LoadProvider(rec.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", rec.Provider, err)
		}
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
			for _, dep := range graph.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Changes:  []*ir.NodeChange{},
		Summary:  &ir.PlanSummary{},
		Outputs:  cfg.Outputs,
	}
	plannedActions := make(map[string]ir.Action)

	for _, addr := range graph.CreationOrder() {
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			plannedActions[addr] = ir.ActionNoOp
			continue
		}

		res, isDesired := desired[addr]
		prior := records[addr]

		if !isDesired {
			// Tracked but no longer declared: destroy.
			if prior.PreventDestroy {
				return nil, &DestroyForbiddenError{Address: addr, Action: "destruction"}
			}
			change := &ir.NodeChange{
				Address:   addr,
				Action:    ir.ActionDestroy,
				Prior:     prior,
				Diff:      destroyDiff(prior.Attributes),
				DependsOn: graph.Dependencies(addr),
			}
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Destroy++
			plannedActions[addr] = ir.ActionDestroy
			continue
		}

		prov, err := p.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}
		schema, err := prov.Schema(res.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to get schema for %s: %w", res.Type, err)
		}

		diff, action := classify(res, prior, schema, records, plannedActions)
		plannedActions[addr] = action

		if action == ir.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.NodeChange{
			Address:   addr,
			Action:    action,
			Desired:   res,
			Prior:     prior,
			Diff:      diff,
			DependsOn: graph.Dependencies(addr),
		}
		if action == ir.ActionReplace {
			if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
				return nil, &DestroyForbiddenError{Address: addr, Action: "replacement"}
			}
			change.ReplaceOrder = ir.DestroyThenCreate
			if res.Lifecycle != nil && res.Lifecycle.CreateBeforeDestroy {
				change.ReplaceOrder = ir.CreateThenDestroy
			}
		}

		plan.Changes = append(plan.Changes, change)
		switch action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		}
	}

	return plan, nil
}

// classify compares one desired resource against its prior record and
// picks the action. Attributes listed in ignore_changes never count as
// drift; a changed attribute the provider declares immutable forces
// replacement.
func classify(
	res *ir.Resource,
	prior *ir.Record,
	schema *provider.Schema,
	records map[string]*ir.Record,
	planned map[string]ir.Action,
) (map[string]*ir.AttributeDiff, ir.Action) {
	ignored := make(map[string]bool)
	if res.Lifecycle != nil {
		for _, attr := range res.Lifecycle.IgnoreChanges {
			ignored[attr] = true
		}
	}

	if prior == nil {
		diff := make(map[string]*ir.AttributeDiff, len(res.Attributes))
		for k, v := range res.Attributes {
			after, unknown := resolveValue(v, records, planned)
			diff[k] = &ir.AttributeDiff{After: after, Action: "create", Unknown: unknown}
		}
		return diff, ir.ActionCreate
	}

	diff := make(map[string]*ir.AttributeDiff)
	forceReplace := false

	allKeys := make(map[string]bool)
	for k := range prior.Attributes {
		allKeys[k] = true
	}
	for k := range res.Attributes {
		allKeys[k] = true
	}

	for k := range allKeys {
		if ignored[k] {
			continue
		}
		priorVal, inPrior := prior.Attributes[k]
		desiredRaw, inDesired := res.Attributes[k]

		switch {
		case !inPrior:
			after, unknown := resolveValue(desiredRaw, records, planned)
			diff[k] = &ir.AttributeDiff{After: after, Action: "create", Unknown: unknown}
		case !inDesired:
			// Provider-assigned attributes live only in state; that is
			// not drift.
			if schema.IsComputed(k) {
				continue
			}
			diff[k] = &ir.AttributeDiff{Before: priorVal, Action: "delete"}
		default:
			after, unknown := resolveValue(desiredRaw, records, planned)
			if unknown {
				diff[k] = &ir.AttributeDiff{Before: priorVal, Action: "update", Unknown: true}
			} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", after) {
				diff[k] = &ir.AttributeDiff{Before: priorVal, After: after, Action: "update"}
			} else {
				continue
			}
		}
		if schema.ForcesReplacement(k) {
			forceReplace = true
		}
	}

	if len(diff) == 0 {
		return nil, ir.ActionNoOp
	}
	if forceReplace {
		return diff, ir.ActionReplace
	}
	return diff, ir.ActionUpdate
}

// resolveValue substitutes ref:// values from state where the producer
// is settled, and reports unknown when the producer itself is being
// created or replaced this cycle, so its outputs only exist after apply.
func resolveValue(v any, records map[string]*ir.Record, planned map[string]ir.Action) (any, bool) {
	switch val := v.(type) {
	case string:
		addr, attr := splitRef(val)
		if addr == "" {
			return val, false
		}
		switch planned[addr] {
		case ir.ActionCreate, ir.ActionReplace:
			return nil, true
		}
		rec, ok := records[addr]
		if !ok {
			return nil, true
		}
		if out, ok := rec.Attributes[attr]; ok {
			return out, false
		}
		return nil, true
	case map[string]any:
		out := make(map[string]any, len(val))
		unknown := false
		for k, item := range val {
			r, u := resolveValue(item, records, planned)
			out[k] = r
			unknown = unknown || u
		}
		return out, unknown
	case []any:
		out := make([]any, len(val))
		unknown := false
		for i, item := range val {
			r, u := resolveValue(item, records, planned)
			out[i] = r
			unknown = unknown || u
		}
		return out, unknown
	default:
		return val, false
	}
}

func destroyDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{Before: v, Action: "delete"}
	}
	return diff
}
