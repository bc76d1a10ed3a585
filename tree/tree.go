// Package tree is a minimal newick-parseable tree structure. It is test
// fixture infrastructure only: the tree data structure is an explicit
// external collaborator of the likelihood evaluator (the evaluator takes
// operation lists and buffer indices, never a tree), so nothing under
// beagle, scalar, vector, or resource imports this package. It exists so
// the end-to-end scenario tests can build a topology once and derive
// post-order operation lists from it instead of hand-writing Op literals.
//
// Trimmed down to the parse/copy/walk surface the test suites actually
// drive: alignment binding, the string-rendering helpers, and the
// standalone node-order scheduler used for MCMC proposal bookkeeping
// have no caller here and were cut rather than carried as dead weight.
package tree

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Mode tracks what the next scanned Newick token means: a plain label, a
// branch length following ':', or a branch class following '#'.
type Mode int

const (
	modeLabel Mode = iota
	modeLength
	modeClass
)

// Tree is a parsed Newick topology plus lazily-built node-index caches.
type Tree struct {
	*Node
	nNodes int
	nodes  []*Node
}

// ClearCache drops the lazily-built node-index caches, forcing the next
// call to Nodes/NNodes to recompute them. Needed after Copy since a fresh
// tree's caches must not alias its source's.
func (tree *Tree) ClearCache() {
	tree.nNodes = 0
	tree.nodes = nil
}

func (tree *Tree) NNodes() int {
	if tree.nNodes == 0 {
		tree.nNodes = tree.Node.NSubNodes()
	}
	return tree.nNodes
}

// Nodes returns every node in the tree indexed by its parse-order Id.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NNodes())
		for node := range tree.Walker(nil) {
			tree.nodes[node.Id] = node
		}
	}
	return tree.nodes
}

// Terminals streams every leaf node in parse order.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(n *Node) bool { return n.IsTerminal() })
}

// Walker streams every node matching filter (or every node, if filter is
// nil) in pre-order.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// Copy returns an independent deep copy: new Node values, rewired
// parent/child pointers, sharing no mutable state with tree.
func (tree *Tree) Copy() *Tree {
	nNodes := tree.NNodes()
	newTree := &Tree{nNodes: nNodes, nodes: make([]*Node, nNodes)}

	for i, node := range tree.Nodes() {
		newTree.nodes[i] = node.Copy()
	}
	for i, node := range tree.Nodes() {
		newNode := newTree.nodes[i]
		for _, child := range node.childNodes {
			newNode.AddChild(newTree.nodes[child.Id])
		}
	}
	newTree.Node = newTree.nodes[0]
	return newTree
}

// Node is one Newick tree node: internal if it has children, a tip
// otherwise.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	Id           int
	LeafId       int
	Class        int
}

func newNode(nodeId int) *Node {
	return &Node{Id: nodeId}
}

// Copy returns a shallow copy of node with no parent or children wired.
func (node *Node) Copy() *Node {
	return &Node{
		Name:         node.Name,
		BranchLength: node.BranchLength,
		childNodes:   make([]*Node, 0, len(node.childNodes)),
		Id:           node.Id,
		LeafId:       node.LeafId,
		Class:        node.Class,
	}
}

func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, child := range node.childNodes {
		child.Walk(ch, filter)
	}
}

func (node *Node) NSubNodes() (size int) {
	for _, child := range node.childNodes {
		size += child.NSubNodes()
	}
	return size + 1
}

func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

func isSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',':
		return true
	}
	return false
}

// newickSplit is a bufio.SplitFunc tokenizing a Newick string into labels,
// numbers, and the single-character structural tokens isSpecial names.
func newickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for width := 0; start < len(data); start += width {
		r, w := utf8.DecodeRune(data[start:])
		width = w
		if isSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for width, i := 0, start; i < len(data); i += width {
		r, w := utf8.DecodeRune(data[i:])
		width = w
		if unicode.IsSpace(r) || isSpecial(r) {
			return i, data[start:i], nil
		}
	}
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return 0, nil, nil
}

// ParseNewick reads one semicolon-terminated Newick tree, assigning each
// node a parse-order Id and each leaf a 0-based LeafId.
func ParseNewick(rd io.Reader) (*Tree, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(newickSplit)

	nodeId := 0
	leafId := 0

	root := newNode(nodeId)
	nodeId++
	tree := &Tree{Node: root}
	node := root
	mode := modeLabel

	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "(":
			subNode := newNode(nodeId)
			nodeId++
			node.AddChild(subNode)
			node = subNode
		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			subNode := newNode(nodeId)
			nodeId++
			node.Parent.AddChild(subNode)
			node = subNode
		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
		case "#":
			mode = modeClass
		case ":":
			mode = modeLength
		case ";":
			return tree, nil
		default:
			switch mode {
			case modeLength:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				node.BranchLength = l
				mode = modeLabel
			case modeClass:
				cl, err := strconv.ParseInt(text, 0, 0)
				if err != nil {
					return nil, err
				}
				node.Class = int(cl)
				mode = modeLabel
			default:
				node.LeafId = leafId
				leafId++
				node.Name = text
			}
		}
	}
	return tree, nil
}
