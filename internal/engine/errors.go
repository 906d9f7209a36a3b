package engine

import (
	"fmt"
	"strings"
)

// CycleError is the fatal build failure for a reference cycle, naming
// every participating address.
type CycleError struct {
	Addresses []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected between: %s", strings.Join(e.Addresses, ", "))
}

// UnresolvedReferenceError reports a reference to an address that has
// neither a declared resource nor a state record.
type UnresolvedReferenceError struct {
	Address   string
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references %s, which is neither declared nor tracked in state",
		e.Address, e.Reference)
}

// DestroyForbiddenError aborts planning when a prevent_destroy resource
// would be destroyed or replaced. It is a hard stop, never skippable.
type DestroyForbiddenError struct {
	Address string
	Action  string
}

func (e *DestroyForbiddenError) Error() string {
	return fmt.Sprintf("resource %s has prevent_destroy set but the plan requires %s",
		e.Address, e.Action)
}
