// Package graph implements the per-container entity graph: canonical-name
// nodes, a substring/word-part name index for fuzzy query matching, and a
// bounded bidirectional BFS traversal.
package graph

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

const (
	maxSummaryLen           = 500
	summaryPrefixLen        = 40
	defaultMaxHops          = 2
	defaultMaxEntities      = 10
	defaultMaxRelationships = 20
)

// Node is one entity in the graph.
type Node struct {
	Name       string
	Type       string
	Summary    string
	SessionIDs map[string]struct{}
}

type nodeWire struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Summary    string   `json:"summary"`
	SessionIDs []string `json:"sessionIds"`
}

// MarshalJSON renders SessionIDs as a sorted array, matching the documented
// snapshot wire format.
func (n Node) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(n.SessionIDs))
	for id := range n.SessionIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(nodeWire{Name: n.Name, Type: n.Type, Summary: n.Summary, SessionIDs: ids})
}

// UnmarshalJSON parses the sessionIds array back into a set.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	n.Name = w.Name
	n.Type = w.Type
	n.Summary = w.Summary
	n.SessionIDs = make(map[string]struct{}, len(w.SessionIDs))
	for _, id := range w.SessionIDs {
		n.SessionIDs[id] = struct{}{}
	}
	return nil
}

// Edge is one relationship triple.
type Edge struct {
	Source    string `json:"source"`
	Relation  string `json:"relation"`
	Target    string `json:"target"`
	Date      string `json:"date,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Key returns the unique key "(source|relation|target)" used for
// deduplication.
func (e Edge) Key() string {
	return e.Source + "|" + e.Relation + "|" + e.Target
}

// Context is the bounded subgraph returned by GetContext.
type Context struct {
	Entities      []Node
	Relationships []Edge
}

// Graph holds all entities and relationships for one container. The zero
// value is not usable; construct with New.
type Graph struct {
	nodes     map[string]*Node
	edges     map[string]Edge
	adjacency map[string][]string // canonical name -> edge keys touching it
	nameIndex map[string]map[string]struct{}

	maxEntities      int
	maxRelationships int
}

// Options configures the traversal caps. Zero values fall back to the
// documented defaults (10 entities, 20 relationships).
type Options struct {
	MaxEntities      int
	MaxRelationships int
}

// New creates an empty Graph.
func New(opts Options) *Graph {
	maxEntities := opts.MaxEntities
	if maxEntities <= 0 {
		maxEntities = defaultMaxEntities
	}
	maxRelationships := opts.MaxRelationships
	if maxRelationships <= 0 {
		maxRelationships = defaultMaxRelationships
	}
	return &Graph{
		nodes:            make(map[string]*Node),
		edges:            make(map[string]Edge),
		adjacency:        make(map[string][]string),
		nameIndex:        make(map[string]map[string]struct{}),
		maxEntities:      maxEntities,
		maxRelationships: maxRelationships,
	}
}

// AddEntity inserts or merges a node. Empty (post-trim) names are rejected
// silently. Returns true if a node was created or merged, false if name was
// empty.
func (g *Graph) AddEntity(name, typ, summary, sessionID string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	typ = strings.ToLower(strings.TrimSpace(typ))

	node, exists := g.nodes[name]
	if !exists {
		node = &Node{
			Name:       name,
			Type:       typ,
			Summary:    truncateSummary(summary),
			SessionIDs: map[string]struct{}{},
		}
		g.nodes[name] = node
	} else {
		if sessionID != "" {
			node.SessionIDs[sessionID] = struct{}{}
		}
		node.Summary = mergeSummary(node.Summary, summary)
	}
	if sessionID != "" {
		node.SessionIDs[sessionID] = struct{}{}
	}

	g.indexName(name)
	return true
}

// mergeSummary appends summary to existing unless its 40-character prefix is
// already present in existing, then truncates to 500 characters.
func mergeSummary(existing, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return existing
	}
	prefix := summary
	if len(prefix) > summaryPrefixLen {
		prefix = prefix[:summaryPrefixLen]
	}
	if strings.Contains(existing, prefix) {
		return truncateSummary(existing)
	}
	return truncateSummary(existing + " " + summary)
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxSummaryLen {
		return s[:maxSummaryLen]
	}
	return s
}

// indexName registers name's lowercased full form and each whitespace
// separated part of length > 2 into the name index.
func (g *Graph) indexName(name string) {
	lower := strings.ToLower(name)
	g.addIndexEntry(lower, name)
	for _, part := range strings.Fields(lower) {
		if len(part) > 2 {
			g.addIndexEntry(part, name)
		}
	}
}

func (g *Graph) addIndexEntry(key, name string) {
	set, ok := g.nameIndex[key]
	if !ok {
		set = make(map[string]struct{})
		g.nameIndex[key] = set
	}
	set[name] = struct{}{}
}

// AddRelationship inserts an edge keyed by (source, relation, target).
// Duplicate triples are ignored. Source and target need not be pre-
// registered nodes.
func (g *Graph) AddRelationship(e Edge) bool {
	key := e.Key()
	if _, exists := g.edges[key]; exists {
		return false
	}
	g.edges[key] = e
	g.adjacency[e.Source] = append(g.adjacency[e.Source], key)
	if e.Target != e.Source {
		g.adjacency[e.Target] = append(g.adjacency[e.Target], key)
	}
	return true
}

// EdgeCount returns the number of distinct relationship triples ever added.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// NodeCount returns the number of distinct entity names.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// FindEntitiesInQuery lowercases query and returns the union of canonical
// names whose name-index key (length > 2) appears as a whole word in query.
func (g *Graph) FindEntitiesInQuery(query string) []string {
	lower := strings.ToLower(query)
	found := make(map[string]struct{})

	for key, names := range g.nameIndex {
		if len(key) <= 2 {
			continue
		}
		if wordBoundaryMatch(lower, key) {
			for n := range names {
				found[n] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for n := range found {
		out = append(out, n)
	}
	return out
}

func wordBoundaryMatch(haystack, term string) bool {
	pattern := `\b` + regexp.QuoteMeta(term) + `\b`
	matched, err := regexp.MatchString(pattern, haystack)
	return err == nil && matched
}

// GetContext runs a bounded BFS from seeds. The seed layer is hop 0 and does
// not itself count toward maxHops. Output is capped at the graph's
// configured entity/relationship limits; traversal continues past a reached
// cap so the frontier keeps growing, but no further output is recorded.
func (g *Graph) GetContext(seeds []string, maxHops int) Context {
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	visited := make(map[string]struct{})
	var outEntities []Node
	var outEdges []Edge
	seenEdgeKeys := make(map[string]struct{})

	addEntity := func(name string) {
		if len(outEntities) >= g.maxEntities {
			return
		}
		if node, ok := g.nodes[name]; ok {
			outEntities = append(outEntities, *node)
		}
	}

	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := visited[s]; ok {
			continue
		}
		visited[s] = struct{}{}
		frontier = append(frontier, s)
		addEntity(s)
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, name := range frontier {
			for _, ekey := range g.adjacency[name] {
				if _, seen := seenEdgeKeys[ekey]; seen {
					continue
				}
				edge := g.edges[ekey]

				if len(outEdges) < g.maxRelationships {
					outEdges = append(outEdges, edge)
				}
				seenEdgeKeys[ekey] = struct{}{}

				other := edge.Target
				if other == name {
					other = edge.Source
				}
				if _, ok := visited[other]; !ok {
					visited[other] = struct{}{}
					next = append(next, other)
					addEntity(other)
				}
			}
		}
		frontier = next
	}

	return Context{Entities: outEntities, Relationships: outEdges}
}

// Clear removes all entities, relationships, and index entries.
func (g *Graph) Clear() {
	g.nodes = make(map[string]*Node)
	g.edges = make(map[string]Edge)
	g.adjacency = make(map[string][]string)
	g.nameIndex = make(map[string]map[string]struct{})
}

// Snapshot returns every node and edge, for serialization.
func (g *Graph) Snapshot() ([]Node, []Edge) {
	nodes := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, *n)
	}
	edges := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, e)
	}
	return nodes, edges
}

// Restore rebuilds the graph from a prior Snapshot's output.
func (g *Graph) Restore(nodes []Node, edges []Edge) {
	g.Clear()
	for _, n := range nodes {
		node := n
		if node.SessionIDs == nil {
			node.SessionIDs = map[string]struct{}{}
		}
		g.nodes[node.Name] = &node
		g.indexName(node.Name)
	}
	for _, e := range edges {
		g.AddRelationship(e)
	}
}
