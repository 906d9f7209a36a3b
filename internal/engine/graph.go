package engine

import (
	"sort"
	"strings"

	"github.com/terrapin-io/terrapin/internal/ir"
)

// refPrefix marks an attribute value that refers to another resource's
// attribute: ref://<type>.<name>/<attribute>.
const refPrefix = "ref://"

// Graph is the directed acyclic dependency graph over planned addresses.
// Creation order is a topological order; destruction order is its strict
// reverse.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string
	revOrder []string
}

type graphNode struct {
	addr       string
	deps       []string // addresses this node waits for
	dependents []string // addresses waiting for this node
}

// ApplyMoves rewrites a state snapshot so that each moved record is held
// at its new address before any lookup happens. The record keeps its
// serial, so the rename plans as an update or no-op, never a destroy and
// create.
func ApplyMoves(records map[string]*ir.Record, moves []ir.Move) map[string]*ir.Record {
	if len(moves) == 0 {
		return records
	}
	out := make(map[string]*ir.Record, len(records))
	for addr, rec := range records {
		out[addr] = rec
	}
	for _, mv := range moves {
		rec, ok := out[mv.From]
		if !ok {
			continue
		}
		delete(out, mv.From)
		moved := *rec
		moved.Address = mv.To
		if dot := strings.LastIndex(mv.To, "."); dot > 0 {
			moved.Type = mv.To[:dot]
			moved.Name = mv.To[dot+1:]
		}
		out[mv.To] = &moved
	}
	return out
}

// BuildGraph constructs the dependency graph for the desired resources
// plus the state-only records that must be destroyed. Desired nodes gain
// edges from explicit depends_on entries and from ref:// attribute
// references; a destroy node waits on every record that depended on it.
// Provider configuration is resolved before the graph is built and is
// not modeled as a node, so no provider edges exist.
func BuildGraph(resources []*ir.Resource, records map[string]*ir.Record) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	desired := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		addr := res.Address()
		desired[addr] = res
		g.nodes[addr] = &graphNode{addr: addr}
	}
	for addr := range records {
		if _, ok := g.nodes[addr]; !ok {
			g.nodes[addr] = &graphNode{addr: addr}
		}
	}

	// Desired edges: explicit ordering hints and attribute references.
	for _, res := range resources {
		addr := res.Address()
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnresolvedReferenceError{Address: addr, Reference: dep}
			}
			node.deps = append(node.deps, dep)
		}

		for _, ref := range extractRefs(res.Attributes) {
			depAddr, _ := splitRef(ref)
			if depAddr == "" {
				continue
			}
			if _, ok := desired[depAddr]; !ok {
				if _, tracked := records[depAddr]; !tracked {
					return nil, &UnresolvedReferenceError{Address: addr, Reference: depAddr}
				}
			}
			node.deps = append(node.deps, depAddr)
		}
	}

	// Destroy edges: a record leaving state waits until everything that
	// depended on it is gone.
	for addr := range records {
		if _, stillDesired := desired[addr]; stillDesired {
			continue
		}
		node := g.nodes[addr]
		for otherAddr, other := range records {
			if otherAddr == addr {
				continue
			}
			if _, otherDesired := desired[otherAddr]; otherDesired {
				continue
			}
			for _, dep := range other.Dependencies {
				if dep == addr {
					node.deps = append(node.deps, otherAddr)
				}
			}
		}
	}

	for _, node := range g.nodes {
		node.deps = dedupe(node.deps)
	}
	for addr, node := range g.nodes {
		for _, dep := range node.deps {
			g.nodes[dep].dependents = append(g.nodes[dep].dependents, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}
	return g, nil
}

// CreationOrder returns addresses in dependency-respecting apply order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in strict reverse of CreationOrder.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the addresses a node waits for.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.deps
	}
	return nil
}

// TransitiveDeps returns every address reachable through dependency
// edges from addr.
func (g *Graph) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		node, ok := g.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.deps {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// topoSort runs Kahn's algorithm over sorted addresses so the resulting
// order is deterministic. A leftover node set means a cycle; its members
// are named in the error.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	addrs := make([]string, 0, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.deps)
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var queue []string
	for _, addr := range addrs {
		if inDegree[addr] == 0 {
			queue = append(queue, addr)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		sort.Strings(queue)
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		for _, dependent := range g.nodes[addr].dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		var cycle []string
		for _, addr := range addrs {
			if inDegree[addr] > 0 {
				cycle = append(cycle, addr)
			}
		}
		return nil, &CycleError{Addresses: cycle}
	}
	return sorted, nil
}

// extractRefs walks an attribute value and collects every ref:// string.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refPrefix) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, item := range val {
			refs = append(refs, extractRefs(item)...)
		}
	case map[any]any:
		for _, item := range val {
			refs = append(refs, extractRefs(item)...)
		}
	case []any:
		for _, item := range val {
			refs = append(refs, extractRefs(item)...)
		}
	}
	return refs
}

// splitRef splits "ref://type.name/attribute" into the producing address
// and the attribute path.
func splitRef(ref string) (addr, attr string) {
	if !strings.HasPrefix(ref, refPrefix) {
		return "", ""
	}
	path := ref[len(refPrefix):]
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	addr = parts[0]
	if len(parts) == 2 {
		attr = parts[1]
	}
	return addr, attr
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
