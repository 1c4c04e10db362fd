// Package pathmap turns remote node names into safe, unique local paths.
package pathmap

import (
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

const (
	maxExtBytes = 32
	idTailRunes = 8
)

var windowsReserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// Mapper computes local relative paths (slash separated) for remote nodes.
// It is stateless apart from its reserved names and safe for concurrent use.
type Mapper struct {
	reserved map[string]bool
}

// New returns a Mapper that never produces any of the reserved names as a
// path component. The state directory name is always reserved.
func New(reserved ...string) *Mapper {
	m := &Mapper{reserved: map[string]bool{strings.ToLower(utils.StateDirName): true}}
	for _, r := range reserved {
		m.reserved[strings.ToLower(r)] = true
	}
	return m
}

// Map returns the local path of node under parentLocal without looking at
// its siblings. Use MapSiblings when the siblings are known.
func (m *Mapper) Map(node types.RemoteNode, parentLocal string) string {
	return join(parentLocal, m.Sanitize(node.Name, !node.IsContainer()))
}

// MapSiblings maps all children of one container at once. Names that
// collide case-insensitively are disambiguated from the remote IDs, so the
// result does not depend on listing order. The returned slice is parallel
// to nodes.
func (m *Mapper) MapSiblings(parentLocal string, nodes []types.RemoteNode) []string {
	names := make([]string, len(nodes))
	groups := make(map[string][]int)
	for i, n := range nodes {
		names[i] = m.Sanitize(n.Name, !n.IsContainer())
		key := foldKey(names[i])
		groups[key] = append(groups[key], i)
	}

	taken := make(map[string]bool, len(nodes))
	var suffixed []int
	for _, idx := range groups {
		if len(idx) == 1 {
			taken[foldKey(names[idx[0]])] = true
			continue
		}
		sort.Slice(idx, func(a, b int) bool { return lessID(nodes[idx[a]].ID, nodes[idx[b]].ID) })
		taken[foldKey(names[idx[0]])] = true
		suffixed = append(suffixed, idx[1:]...)
	}

	sort.Slice(suffixed, func(a, b int) bool { return lessID(nodes[suffixed[a]].ID, nodes[suffixed[b]].ID) })
	for _, i := range suffixed {
		leaf := !nodes[i].IsContainer()
		base := names[i]
		candidate := withSuffix(base, idTail(nodes[i].ID), leaf)
		if taken[foldKey(candidate)] {
			candidate = withSuffix(base, sanitizeID(nodes[i].ID), leaf)
		}
		for n := 2; taken[foldKey(candidate)]; n++ {
			candidate = withSuffix(base, sanitizeID(nodes[i].ID)+" "+strconv.Itoa(n), leaf)
		}
		taken[foldKey(candidate)] = true
		names[i] = candidate
	}

	paths := make([]string, len(nodes))
	for i := range nodes {
		paths[i] = join(parentLocal, names[i])
	}
	return paths
}

// Sanitize makes name a valid single path component on every common
// filesystem
func (m *Mapper) Sanitize(name string, leaf bool) string {
	name = strings.ToValidUTF8(name, "_")
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, " ")
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "_"
	}

	stem, ext := splitExt(name, leaf)
	if windowsReserved[strings.ToLower(strings.SplitN(name, ".", 2)[0])] {
		stem = "_" + stem
	}
	if m.reserved[strings.ToLower(stem+ext)] {
		stem = "_" + stem
	}

	if len(stem)+len(ext) > utils.MaxComponentBytes {
		stem = strings.TrimRight(truncateBytes(stem, utils.MaxComponentBytes-len(ext)), ". ")
		if stem == "" {
			stem = "_"
		}
	}
	return stem + ext
}

func splitExt(name string, leaf bool) (string, string) {
	if !leaf {
		return name, ""
	}
	ext := path.Ext(name)
	if ext == name || len(ext) > maxExtBytes || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// withSuffix inserts " (tag)" before the extension, trimming the stem so
// the component stays within the byte limit
func withSuffix(name, tag string, leaf bool) string {
	stem, ext := splitExt(name, leaf)
	suffix := " (" + tag + ")"
	budget := utils.MaxComponentBytes - len(ext) - len(suffix)
	if budget < 1 {
		budget = 1
	}
	if len(stem) > budget {
		stem = truncateBytes(stem, budget)
	}
	return stem + suffix + ext
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sanitizeID(id string) string {
	id = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, strings.ToValidUTF8(id, "_"))
	if id == "" {
		return "_"
	}
	return id
}

// idTail is the last few runes of the ID, ignoring any "kind:" prefix
func idTail(id string) string {
	if i := strings.LastIndexByte(id, ':'); i >= 0 && i < len(id)-1 {
		id = id[i+1:]
	}
	id = sanitizeID(id)
	runes := []rune(id)
	if len(runes) > idTailRunes {
		runes = runes[len(runes)-idTailRunes:]
	}
	return string(runes)
}

// lessID orders IDs numerically when both are decimal, otherwise bytewise
func lessID(a, b string) bool {
	na, nb := numericPart(a), numericPart(b)
	if na != "" && nb != "" && strings.TrimSuffix(a, na) == strings.TrimSuffix(b, nb) {
		na, nb = strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
		if len(na) != len(nb) {
			return len(na) < len(nb)
		}
		if na != nb {
			return na < nb
		}
	}
	return a < b
}

func numericPart(id string) string {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	return id[i:]
}

func foldKey(name string) string {
	return strings.ToLower(name)
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
