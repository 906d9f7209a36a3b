// Package version resolves provider version constraints into an exact,
// reproducible set of pinned versions.
package version

import (
	"fmt"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
)

// Constraint is one operator applied to a version literal.
type Constraint struct {
	op       string
	version  *goversion.Version
	segments int // how many components the literal spelled out
	raw      string
}

// ConstraintSet is the conjunction of every constraint declared for one
// provider across the configuration.
type ConstraintSet []Constraint

var constraintOps = []string{">=", "<=", "!=", "~>", "=", ">", "<"}

// ParseConstraint parses a single constraint such as ">= 2.0.0" or "~> 1.2".
// A bare version literal means "=".
func ParseConstraint(s string) (Constraint, error) {
	raw := strings.TrimSpace(s)
	op := "="
	rest := raw
	for _, candidate := range constraintOps {
		if strings.HasPrefix(raw, candidate) {
			op = candidate
			rest = strings.TrimSpace(raw[len(candidate):])
			break
		}
	}
	if rest == "" {
		return Constraint{}, fmt.Errorf("constraint %q has no version", s)
	}

	v, err := goversion.NewVersion(rest)
	if err != nil {
		return Constraint{}, fmt.Errorf("invalid version in constraint %q: %w", s, err)
	}

	return Constraint{
		op:       op,
		version:  v,
		segments: len(strings.Split(strings.SplitN(rest, "-", 2)[0], ".")),
		raw:      raw,
	}, nil
}

// ParseConstraintSet parses a comma-separated constraint expression,
// e.g. ">= 2.0.0, < 3.0.0".
func ParseConstraintSet(s string) (ConstraintSet, error) {
	var set ConstraintSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := ParseConstraint(part)
		if err != nil {
			return nil, err
		}
		set = append(set, c)
	}
	return set, nil
}

// Check reports whether v satisfies the constraint.
func (c Constraint) Check(v *goversion.Version) bool {
	cmp := v.Compare(c.version)
	switch c.op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "~>":
		return c.checkPessimistic(v)
	}
	return false
}

// checkPessimistic implements the ~> operator: the version must be at
// least the literal, "~> X" stays within major X, and "~> X.Y" (or
// "~> X.Y.Z") stays within X.Y, so only the patch component may float.
func (c Constraint) checkPessimistic(v *goversion.Version) bool {
	if v.Compare(c.version) < 0 {
		return false
	}
	vs := v.Segments()
	cs := c.version.Segments()
	fixed := 2
	if c.segments == 1 {
		fixed = 1
	}
	for i := 0; i < fixed && i < len(cs); i++ {
		if vs[i] != cs[i] {
			return false
		}
	}
	return true
}

// Check reports whether v satisfies every constraint in the set. An empty
// set accepts any version.
func (cs ConstraintSet) Check(v *goversion.Version) bool {
	for _, c := range cs {
		if !c.Check(v) {
			return false
		}
	}
	return true
}

func (cs ConstraintSet) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.raw
	}
	return strings.Join(parts, ", ")
}

// ConstraintUnsatisfiableError reports that no available version of a
// provider satisfies its declared constraint set.
type ConstraintUnsatisfiableError struct {
	Provider    string
	Constraints string
	Available   []string
}

func (e *ConstraintUnsatisfiableError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no versions of provider %q are available (constraints: %s)", e.Provider, e.Constraints)
	}
	return fmt.Sprintf("no available version of provider %q satisfies %q (available: %s)",
		e.Provider, e.Constraints, strings.Join(e.Available, ", "))
}

// Resolve computes an exact version per provider. For each provider the
// available releases are filtered by the constraint set; if the version
// pinned in existing still satisfies the filtered set it is kept
// unchanged (stability over recency), otherwise the greatest satisfying
// version wins. Constraints are independent per provider, so this is
// plain intersection, not a search.
func Resolve(
	required map[string]ConstraintSet,
	available map[string][]provider.Release,
	existing map[string]*ir.LockEntry,
) (map[string]*ir.LockEntry, error) {
	resolved := make(map[string]*ir.LockEntry, len(required))

	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		set := required[name]

		type candidate struct {
			version *goversion.Version
			release provider.Release
		}
		var candidates []candidate
		var all []string
		for _, rel := range available[name] {
			v, err := goversion.NewVersion(rel.Version)
			if err != nil {
				return nil, fmt.Errorf("provider %s publishes malformed version %q: %w", name, rel.Version, err)
			}
			all = append(all, rel.Version)
			if set.Check(v) {
				candidates = append(candidates, candidate{version: v, release: rel})
			}
		}
		if len(candidates) == 0 {
			return nil, &ConstraintUnsatisfiableError{
				Provider:    name,
				Constraints: set.String(),
				Available:   all,
			}
		}

		// Keep the existing pin when it is still admissible.
		if prior, ok := existing[name]; ok {
			kept := false
			for _, c := range candidates {
				if c.version.Original() == prior.Version || c.version.String() == prior.Version {
					kept = true
					break
				}
			}
			if kept {
				resolved[name] = prior
				continue
			}
		}

		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].version.LessThan(candidates[j].version)
		})
		best := candidates[len(candidates)-1]
		resolved[name] = &ir.LockEntry{
			Version:   best.release.Version,
			Checksums: append([]string(nil), best.release.Checksums...),
		}
	}

	return resolved, nil
}
