package rule

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog is an immutable, validated set of rules in dependency order.
type Catalog struct {
	rules      []Rule
	byID       map[string]Rule
	dependents map[string][]string
	excluded   map[string]struct{}
}

// NewCatalog validates rules: ids must be unique and non-empty, declared keys unique,
// every dependency present, and the dependency graph acyclic.
func NewCatalog(rules ...Rule) (*Catalog, error) {
	return build(rules, nil)
}

func build(rules []Rule, excluded map[string]struct{}) (*Catalog, error) {
	byID := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if r == nil {
			return nil, &DefectError{Reason: "nil rule"}
		}
		id := r.ID()
		if strings.TrimSpace(id) == "" {
			return nil, &DefectError{RuleID: r.Name(), Reason: "empty rule id"}
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, id)
		}
		if err := validateDeclarations(r); err != nil {
			return nil, err
		}
		byID[id] = r
	}

	adj := make(map[string][]string, len(byID))
	for id, r := range byID {
		for _, dep := range r.Dependencies() {
			if dep.RuleID == id {
				return nil, &CycleError{Path: []string{id, id}}
			}
			if _, ok := byID[dep.RuleID]; !ok {
				if _, skip := excluded[dep.RuleID]; skip {
					continue
				}
				return nil, fmt.Errorf("rule %s: %w %s", id, ErrUnknownDependency, dep.RuleID)
			}
			if dep.MinSeverity != "" && !dep.MinSeverity.Ordered() {
				return nil, &DefectError{RuleID: id, Reason: fmt.Sprintf("dependency %s has non-ordered minimum severity %q", dep.RuleID, dep.MinSeverity)}
			}
			adj[id] = append(adj[id], dep.RuleID)
		}
	}
	if err := detectCycles(adj); err != nil {
		return nil, err
	}

	c := &Catalog{
		byID:       byID,
		dependents: make(map[string][]string),
		excluded:   excluded,
	}
	for id, deps := range adj {
		for _, dep := range deps {
			c.dependents[dep] = append(c.dependents[dep], id)
		}
	}
	for id := range c.dependents {
		sort.Strings(c.dependents[id])
	}
	c.rules = topoOrder(byID, adj, c.dependents)
	return c, nil
}

func validateDeclarations(r Rule) error {
	seen := map[string]bool{}
	for _, p := range r.ConfigurationAttributes() {
		if p.Key == "" || seen[p.Key] {
			return &DefectError{RuleID: r.ID(), Reason: fmt.Sprintf("invalid or duplicate preference key %q", p.Key)}
		}
		seen[p.Key] = true
		if _, err := Convert(p.Kind, p.Default); err != nil {
			return &DefectError{RuleID: r.ID(), Reason: fmt.Sprintf("preference %s default", p.Key), Err: err}
		}
	}
	seen = map[string]bool{}
	for _, tr := range r.ResultAttributes() {
		if tr.Key == "" || seen[tr.Key] {
			return &DefectError{RuleID: r.ID(), Reason: fmt.Sprintf("invalid or duplicate result key %q", tr.Key)}
		}
		seen[tr.Key] = true
	}
	for _, req := range r.RequiredEvents() {
		if req.TypeID == "" {
			return &DefectError{RuleID: r.ID(), Reason: "required event without type"}
		}
	}
	return nil
}

func detectCycles(adj map[string][]string) error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, dep := range adj[id] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), dep)
				return &CycleError{Path: cycle}
			}
		}
		path = path[:len(path)-1]
		onStack[id] = false
		return nil
	}

	ids := make([]string, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoOrder lists rules so every rule follows its dependencies; ties break by id.
func topoOrder(byID map[string]Rule, adj map[string][]string, dependents map[string][]string) []Rule {
	pending := make(map[string]int, len(byID))
	ready := make([]string, 0)
	for id := range byID {
		pending[id] = len(adj[id])
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}
	out := make([]Rule, 0, len(byID))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		out = append(out, byID[id])
		for _, dep := range dependents[id] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out
}

// Rules returns the rules in dependency order.
func (c *Catalog) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

func (c *Catalog) Len() int { return len(c.rules) }

func (c *Catalog) Get(id string) (Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependents returns the ids of rules that depend on id.
func (c *Catalog) Dependents(id string) []string {
	return append([]string(nil), c.dependents[id]...)
}

// Excluded reports whether id was removed from the catalog by a selection.
func (c *Catalog) Excluded(id string) bool {
	_, ok := c.excluded[id]
	return ok
}

func (c *Catalog) Topics() []string {
	seen := map[string]struct{}{}
	for _, r := range c.rules {
		if r.Topic() != "" {
			seen[r.Topic()] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Merge returns a catalog holding the rules of c followed by extra.
func (c *Catalog) Merge(extra ...Rule) (*Catalog, error) {
	return build(append(c.Rules(), extra...), c.excluded)
}
