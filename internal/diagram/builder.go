package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

// Build constructs a call-graph DiagramModel from a trace snapshot. Every
// participant becomes a node; calls between the same pair are merged into one
// edge whose count is multiplied by the enclosing loop blocks.
func Build(snap tracer.Snapshot) (*DiagramModel, error) {
	nodeIndex := make(map[string]*Node, len(snap.Participants))
	nodes := make([]*Node, 0, len(snap.Participants))
	for i, p := range snap.Participants {
		node := &Node{ID: "p" + strconv.Itoa(i), Label: p, Kind: NodeKindFunction}
		if strings.HasPrefix(p, "[Module: ") {
			node.Kind = NodeKindModule
		}
		nodes = append(nodes, node)
		nodeIndex[p] = node
	}

	lookup := func(name string, idx int) (*Node, error) {
		if n, ok := nodeIndex[name]; ok {
			return n, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"statement %d references undeclared participant %q", idx, name).WithTrace(snap.ID)
	}

	type edgeKey struct{ from, to string }
	edgeIndex := make(map[edgeKey]int)
	var edges []Edge
	called := make(map[string]bool)

	multipliers := []int{1}
	for i, st := range snap.Statements {
		mult := multipliers[len(multipliers)-1]
		switch st.Kind {
		case tracer.KindLoop:
			if st.Count < 1 {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"statement %d: loop count %d", i, st.Count).WithTrace(snap.ID)
			}
			multipliers = append(multipliers, mult*st.Count)
		case tracer.KindEnd:
			if len(multipliers) == 1 {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"statement %d: end without loop", i).WithTrace(snap.ID)
			}
			multipliers = multipliers[:len(multipliers)-1]
		case tracer.KindCall:
			from, err := lookup(st.From, i)
			if err != nil {
				return nil, err
			}
			to, err := lookup(st.To, i)
			if err != nil {
				return nil, err
			}
			k := edgeKey{from.ID, to.ID}
			j, ok := edgeIndex[k]
			if !ok {
				j = len(edges)
				edgeIndex[k] = j
				edges = append(edges, Edge{From: from.ID, To: to.ID})
			}
			edges[j].Calls += mult
			overlay(to).Calls += mult
			called[to.ID] = true
		case tracer.KindRaise:
			callee, err := lookup(st.From, i)
			if err != nil {
				return nil, err
			}
			caller, err := lookup(st.To, i)
			if err != nil {
				return nil, err
			}
			if j, ok := edgeIndex[edgeKey{caller.ID, callee.ID}]; ok {
				edges[j].Failed = true
			}
			ov := overlay(callee)
			ov.Failures += mult
			ov.Status = statusFailed
		}
	}
	if len(multipliers) != 1 {
		return nil, schema.NewError(schema.ErrCodeValidation, "unterminated loop block").WithTrace(snap.ID)
	}

	for _, n := range nodes {
		if !called[n.ID] && n.Kind == NodeKindFunction {
			n.Kind = NodeKindEntry
		}
	}
	for i := range edges {
		edges[i].Label = callsLabel(edges[i].Calls)
	}

	return &DiagramModel{
		Title:  titleFromSnapshot(snap),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(nodes, edges),
	}, nil
}

func overlay(n *Node) *StatusOverlay {
	if n.Status == nil {
		n.Status = &StatusOverlay{Status: statusOK}
	}
	return n.Status
}

func callsLabel(n int) string {
	if n == 1 {
		return "1 call"
	}
	return strconv.Itoa(n) + " calls"
}

// buildLevels assigns each node the length of the shortest call path from an
// uncalled node. Nodes only reachable through cycles land on the last level.
func buildLevels(nodes []*Node, edges []Edge) [][]string {
	adj := make(map[string][]string)
	indeg := make(map[string]int)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
		indeg[e.To]++
	}

	level := make(map[string]int, len(nodes))
	var queue []string
	for _, n := range nodes {
		if indeg[n.ID] == 0 {
			level[n.ID] = 0
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if _, seen := level[next]; !seen {
				level[next] = level[id] + 1
				queue = append(queue, next)
			}
		}
	}

	depth := 0
	for _, l := range level {
		depth = max(depth, l+1)
	}
	levels := make([][]string, depth)
	var orphans []string
	for _, n := range nodes {
		l, ok := level[n.ID]
		if !ok {
			orphans = append(orphans, n.ID)
			continue
		}
		levels[l] = append(levels[l], n.ID)
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

func titleFromSnapshot(snap tracer.Snapshot) string {
	if snap.Name != "" {
		return snap.Name
	}
	return "Trace " + snap.ID
}

// String is a compact form used in logs.
func (m *DiagramModel) String() string {
	return fmt.Sprintf("%s: %d nodes, %d edges", m.Title, len(m.Nodes), len(m.Edges))
}
