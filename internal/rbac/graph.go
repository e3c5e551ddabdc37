// Package rbac implements the role permission graph and the authorization
// gate used in front of protected operations.
//
// A role grants a set of operation names directly ("can") and inherits
// everything granted to its parents. The graph is built once at startup and
// never mutated, so it is safe for concurrent readers without locking.
package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle is returned when the inheritance relation contains a cycle.
var ErrCycle = errors.New("rbac: inheritance cycle")

// RoleDef is the configured definition of one role.
type RoleDef struct {
	Can      []string `yaml:"can" json:"can"`
	Inherits []string `yaml:"inherits" json:"inherits"`
}

type role struct {
	can      map[string]struct{}
	inherits []string
}

// Graph is an immutable role -> operations graph with inheritance.
type Graph struct {
	roles map[string]role
}

// NewGraph validates defs and builds a Graph. Parents that are not defined
// are allowed and grant nothing; a cycle in the inheritance relation fails
// with ErrCycle.
func NewGraph(defs map[string]RoleDef) (*Graph, error) {
	g := &Graph{roles: make(map[string]role, len(defs))}
	for name, def := range defs {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("rbac: empty role name")
		}
		r := role{can: make(map[string]struct{}, len(def.Can))}
		for _, op := range def.Can {
			r.can[op] = struct{}{}
		}
		r.inherits = append(r.inherits, def.Inherits...)
		g.roles[name] = r
	}
	if path, err := g.detectCycle(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.Join(path, " -> "))
	}
	return g, nil
}

// detectCycle runs a DFS with a recursion stack over every role.
func (g *Graph) detectCycle() ([]string, error) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	var hasCycle func(string) bool
	hasCycle = func(name string) bool {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		for _, parent := range g.roles[name].inherits {
			if !visited[parent] {
				if hasCycle(parent) {
					return true
				}
			} else if recStack[parent] {
				path = append(path, parent)
				return true
			}
		}

		recStack[name] = false
		path = path[:len(path)-1]
		return false
	}

	for _, name := range g.Roles() {
		if visited[name] {
			continue
		}
		if hasCycle(name) {
			return path, ErrCycle
		}
	}
	return nil, nil
}

// Roles returns the configured role names, sorted.
func (g *Graph) Roles() []string {
	out := make([]string, 0, len(g.roles))
	for name := range g.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is a configured role.
func (g *Graph) Has(name string) bool {
	_, ok := g.roles[name]
	return ok
}

// UnknownParents lists parent references that name no configured role.
func (g *Graph) UnknownParents() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range g.roles {
		for _, p := range r.inherits {
			if _, ok := g.roles[p]; ok {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Can reports whether roleName, directly or through any ancestor, is
// granted op. Unknown roles are granted nothing.
func (g *Graph) Can(roleName, op string) bool {
	if _, ok := g.roles[roleName]; !ok {
		return false
	}
	visited := map[string]bool{roleName: true}
	stack := []string{roleName}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r, ok := g.roles[name]
		if !ok {
			continue
		}
		if _, ok := r.can[op]; ok {
			return true
		}
		for _, p := range r.inherits {
			if !visited[p] {
				visited[p] = true
				stack = append(stack, p)
			}
		}
	}
	return false
}

// OperationsFor returns every operation reachable from roleName, deduplicated
// and sorted.
func (g *Graph) OperationsFor(roleName string) []string {
	return g.OperationsForAll([]string{roleName})
}

// OperationsForAll returns the union of OperationsFor over roleNames.
func (g *Graph) OperationsForAll(roleNames []string) []string {
	ops := map[string]struct{}{}
	visited := map[string]bool{}
	stack := make([]string, 0, len(roleNames))
	for _, n := range roleNames {
		if !visited[n] {
			visited[n] = true
			stack = append(stack, n)
		}
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r, ok := g.roles[name]
		if !ok {
			continue
		}
		for op := range r.can {
			ops[op] = struct{}{}
		}
		for _, p := range r.inherits {
			if !visited[p] {
				visited[p] = true
				stack = append(stack, p)
			}
		}
	}
	out := make([]string, 0, len(ops))
	for op := range ops {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
