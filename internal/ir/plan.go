package ir

// Action classifies what the executor will do for one address.
type Action string

const (
	ActionNoOp    Action = "noop"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionReplace Action = "replace"
)

// ReplaceOrder is the ordering of the two halves of a replacement.
type ReplaceOrder string

const (
	DestroyThenCreate ReplaceOrder = "destroy-then-create"
	CreateThenDestroy ReplaceOrder = "create-then-destroy"
)

// Plan is the calculated set of changes, ordered so that every change
// appears after the changes it depends on. Computing a plan never touches
// a provider-managed object.
type Plan struct {
	Metadata *PlanMetadata  `json:"metadata"`
	Changes  []*NodeChange  `json:"changes"`
	Summary  *PlanSummary   `json:"summary"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp"`
}

// NodeChange is the planned change for one address.
type NodeChange struct {
	Address      string                    `json:"address"`
	Action       Action                    `json:"action"`
	ReplaceOrder ReplaceOrder              `json:"replace_order,omitempty"`
	Desired      *Resource                 `json:"desired,omitempty"`
	Prior        *Record                   `json:"prior,omitempty"`
	Diff         map[string]*AttributeDiff `json:"diff,omitempty"`
	DependsOn    []string                  `json:"depends_on,omitempty"`
}

// AttributeDiff is the change for one attribute. Unknown marks a value
// that only becomes concrete after the producing node is applied.
type AttributeDiff struct {
	Before  any    `json:"before,omitempty"`
	After   any    `json:"after,omitempty"`
	Action  string `json:"action"` // "create", "update", "delete"
	Unknown bool   `json:"unknown,omitempty"`
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Destroy int `json:"destroy"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// Empty reports whether the plan touches no addresses. An empty plan is a
// valid result, not an error.
func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}
