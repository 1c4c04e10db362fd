package exclude

import (
	"path"
	"strings"

	"github.com/notPlancha/CanvasSync/internal/types"
)

// Scope limits a rule to one kind of node
type Scope string

const (
	ScopeAny       Scope = ""
	ScopeRoot      Scope = "root"
	ScopeContainer Scope = "container"
	ScopeLeaf      Scope = "leaf"
)

type rule struct {
	scope   Scope
	pattern string
}

// Matcher decides which remote nodes take part in a sync. A rule is a
// pattern optionally prefixed with a scope, e.g. "root:Math*",
// "leaf:*.mp4" or "container:Recordings/". Patterns ending in "/" match a
// container and everything below it; patterns with glob characters match
// the node name or its local path; anything else matches the name, the
// path, or a path prefix.
type Matcher struct {
	includes []rule
	excludes []rule
}

// DefaultPatterns are operating system droppings that sometimes end up in
// shared folders and buckets
func DefaultPatterns() []string {
	return []string{
		"leaf:.DS_Store",
		"leaf:._*",
		"leaf:Thumbs.db",
		"leaf:desktop.ini",
	}
}

// New builds a Matcher. Unqualified include rules apply to leaves;
// unqualified exclude rules apply to every node.
func New(includes, excludes []string) *Matcher {
	m := &Matcher{}
	for _, p := range includes {
		if r, ok := parseRule(p, ScopeLeaf); ok {
			// an include on every scope would prune the containers above its leaves
			if r.scope == ScopeAny {
				r.scope = ScopeLeaf
			}
			m.includes = append(m.includes, r)
		}
	}
	for _, p := range append(append([]string{}, DefaultPatterns()...), excludes...) {
		if r, ok := parseRule(p, ScopeAny); ok {
			m.excludes = append(m.excludes, r)
		}
	}
	return m
}

func parseRule(raw string, defaultScope Scope) (rule, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return rule{}, false
	}
	scope := defaultScope
	if i := strings.IndexByte(raw, ':'); i > 0 {
		switch s := Scope(strings.ToLower(raw[:i])); s {
		case ScopeRoot, ScopeContainer, ScopeLeaf:
			scope = s
			raw = raw[i+1:]
		case "any", "all":
			scope = ScopeAny
			raw = raw[i+1:]
		}
	}
	return rule{scope: scope, pattern: strings.TrimPrefix(raw, "./")}, true
}

func scopeOf(node types.RemoteNode, depth int) Scope {
	switch {
	case !node.IsContainer():
		return ScopeLeaf
	case depth == 0:
		return ScopeRoot
	default:
		return ScopeContainer
	}
}

func (r rule) applies(scope Scope) bool {
	if r.scope == ScopeAny || r.scope == scope {
		return true
	}
	// root nodes are containers too
	return r.scope == ScopeContainer && scope == ScopeRoot
}

// Allows reports whether node, mapped to relPath at the given depth
// (0 for root containers), should be synced. An excluded container prunes
// its whole subtree.
func (m *Matcher) Allows(node types.RemoteNode, relPath string, depth int) bool {
	if m == nil {
		return true
	}
	scope := scopeOf(node, depth)
	if m.IsExcluded(node, relPath, depth) {
		return false
	}

	matchedScope := false
	for _, r := range m.includes {
		if r.scope != scope {
			continue
		}
		matchedScope = true
		if r.pattern == "" || matchPattern(r.pattern, node.Name, relPath, node.IsContainer()) {
			return true
		}
	}
	return !matchedScope
}

// IsExcluded reports whether an exclude rule matches node
func (m *Matcher) IsExcluded(node types.RemoteNode, relPath string, depth int) bool {
	if m == nil {
		return false
	}
	scope := scopeOf(node, depth)
	relPath = strings.TrimPrefix(relPath, "./")
	for _, r := range m.excludes {
		if !r.applies(scope) {
			continue
		}
		if r.pattern == "" || matchPattern(r.pattern, node.Name, relPath, node.IsContainer()) {
			return true
		}
	}
	return false
}

func matchPattern(p, name, relPath string, isDir bool) bool {
	if strings.HasSuffix(p, "/") {
		dirPattern := strings.TrimSuffix(p, "/")
		if !isDir {
			return false
		}
		if strings.ContainsAny(dirPattern, "*?[]") {
			ok, _ := path.Match(dirPattern, name)
			return ok
		}
		return relPath == dirPattern || name == dirPattern
	}
	if strings.ContainsAny(p, "*?[]") {
		if ok, _ := path.Match(p, relPath); ok {
			return true
		}
		ok, _ := path.Match(p, name)
		return ok
	}
	if relPath == p || strings.HasPrefix(relPath, p+"/") {
		return true
	}
	return name == p
}
