package trace

import "sort"

// SpanNode is one node of the reconstructed span tree.
type SpanNode struct {
	Span     *Span
	Depth    int
	Children []*SpanNode
}

// SpanDepths computes the nesting depth of every span by walking parent
// links. A root span has depth 0. Each walk carries a visited set, so a
// corrupted parent chain that loops terminates and resolves to depth 0
// instead of recursing forever. A parent id that references a span not in
// the slice ends the walk at the last known ancestor.
func SpanDepths(spans []*Span) map[string]int {
	byID := make(map[string]*Span, len(spans))
	for _, span := range spans {
		if span != nil {
			byID[span.ID] = span
		}
	}

	depths := make(map[string]int, len(byID))
	for _, span := range spans {
		if span == nil {
			continue
		}
		depths[span.ID] = spanDepth(span, byID)
	}
	return depths
}

func spanDepth(span *Span, byID map[string]*Span) int {
	depth := 0
	visited := map[string]bool{span.ID: true}
	current := span
	for current.ParentID != "" {
		parent, ok := byID[current.ParentID]
		if !ok {
			break
		}
		if visited[parent.ID] {
			return 0
		}
		visited[parent.ID] = true
		depth++
		current = parent
	}
	return depth
}

// BuildSpanTree nests spans under their parents. Orphans (missing parent)
// and members of cyclic parent chains become roots. Siblings are ordered by
// start time, ties by span id, so repeated reconstruction of the same trace
// yields the same tree.
func BuildSpanTree(spans []*Span) []*SpanNode {
	byID := make(map[string]*Span, len(spans))
	for _, span := range spans {
		if span != nil {
			byID[span.ID] = span
		}
	}
	depths := SpanDepths(spans)

	nodes := make(map[string]*SpanNode, len(byID))
	for _, span := range spans {
		if span == nil {
			continue
		}
		nodes[span.ID] = &SpanNode{Span: span, Depth: depths[span.ID]}
	}

	roots := make([]*SpanNode, 0)
	for _, span := range spans {
		if span == nil {
			continue
		}
		node := nodes[span.ID]
		parent, ok := nodes[span.ParentID]
		if span.ParentID == "" || !ok || node.Depth == 0 {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortSpanNodes(roots)
	for _, node := range nodes {
		sortSpanNodes(node.Children)
	}
	return roots
}

func sortSpanNodes(nodes []*SpanNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Span, nodes[j].Span
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})
}
