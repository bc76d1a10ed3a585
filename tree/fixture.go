package tree

import "fmt"

// TipIndices returns, for every terminal node, the 0-based index it would
// occupy in a tip-ordered buffer layout (partials buffer indices 0...T-1
// conventionally hold tips), keyed by node name. Order follows
// Terminals' pre-order walk, i.e. the order ParseNewick first saw each leaf.
func (tree *Tree) TipIndices() map[string]int {
	idx := make(map[string]int)
	i := 0
	for node := range tree.Terminals() {
		idx[node.Name] = i
		i++
	}
	return idx
}

// PostOrder returns every internal (non-terminal) node in an order where a
// node never precedes either of its children — the order a caller submits
// UpdatePartials operations in.
func (tree *Tree) PostOrder() []*Node {
	order := make([]*Node, 0, tree.NNodes())
	seen := make(map[*Node]bool, tree.NNodes())
	var visit func(*Node)
	visit = func(n *Node) {
		for _, c := range n.ChildNodes() {
			visit(c)
		}
		if !n.IsTerminal() && !seen[n] {
			seen[n] = true
			order = append(order, n)
		}
	}
	visit(tree.Node)
	return order
}

// BalancedNewick returns a semicolon-terminated Newick string for a
// balanced binary tree over n tips named t0..t(n-1), every branch of
// length branchLength, suitable for ParseNewick. It lets a many-tip
// scenario script its topology instead of hand-writing it.
func BalancedNewick(n int, branchLength float64) string {
	if n <= 1 {
		return fmt.Sprintf("t0:%g;", branchLength)
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("t%d:%g", i, branchLength)
	}
	for len(labels) > 1 {
		next := make([]string, 0, (len(labels)+1)/2)
		for i := 0; i+1 < len(labels); i += 2 {
			next = append(next, fmt.Sprintf("(%s,%s):%g", labels[i], labels[i+1], branchLength))
		}
		if len(labels)%2 == 1 {
			next = append(next, labels[len(labels)-1])
		}
		labels = next
	}
	return labels[0] + ";"
}
