// Package phylo is a thin demonstration layer on top of the beagle
// engine: a Newick reader, a fixed JC69/GTR eigen-decomposition builder
// and tree-walking helpers, adapted from the tree-traversal and
// tip-data ideas in tomopfuku-cophycollapse's vcv.go/dist_matrix.go/
// utils.go. It performs no inference, search or MCMC; it exists only to
// give cmd/phylk something to compute.
package phylo

import "fmt"

// Node is one node of a rooted binary or multifurcating tree.
type Node struct {
	Name     string
	Length   float64
	Parent   *Node
	Children []*Node

	// TipIndex is this node's beagle tip-buffer index, set by newTree
	// for leaves only; internal nodes carry -1.
	TipIndex int
}

// IsTip reports whether n is a leaf.
func (n *Node) IsTip() bool { return len(n.Children) == 0 }

// RootDistance returns the sum of branch lengths from n up to the root,
// the Go analogue of tomopfuku-cophycollapse's lengthToRoot.
func (n *Node) RootDistance() float64 {
	var d float64
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		d += cur.Length
	}
	return d
}

// Tree is a rooted tree plus the tip/internal bookkeeping the engine's
// buffer layout needs.
type Tree struct {
	Root *Node
	Tips []*Node // TipIndex order
}

// newTree indexes tips in a stable left-to-right order and returns a
// Tree wrapping root.
func newTree(root *Node) *Tree {
	t := &Tree{Root: root}
	for _, n := range t.Preorder() {
		if n.IsTip() {
			n.TipIndex = len(t.Tips)
			t.Tips = append(t.Tips, n)
		} else {
			n.TipIndex = -1
		}
	}
	return t
}

// Preorder returns every node reachable from Root, parent before children.
func (t *Tree) Preorder() []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return out
}

// Postorder returns every node reachable from Root, children before
// their parent — the order UpdatePartials operations must be submitted
// in, since a node's partials depend on both children's.
func (t *Tree) Postorder() []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			walk(c)
		}
		out = append(out, n)
	}
	walk(t.Root)
	return out
}

// MRCA returns the most recent common ancestor of a and b, the Go
// analogue of tomopfuku-cophycollapse's vcv.go MRCA.
func (t *Tree) MRCA(a, b *Node) *Node {
	seen := make(map[*Node]bool)
	for cur := a; cur != nil; cur = cur.Parent {
		seen[cur] = true
	}
	for cur := b; cur != nil; cur = cur.Parent {
		if seen[cur] {
			return cur
		}
	}
	return t.Root
}

// TipCount returns the number of leaves in the tree.
func (t *Tree) TipCount() int { return len(t.Tips) }

// TipByName returns the leaf named name, or an error if none matches.
func (t *Tree) TipByName(name string) (*Node, error) {
	for _, n := range t.Tips {
		if n.Name == name {
			return n, nil
		}
	}
	return nil, fmt.Errorf("phylo: no tip named %q", name)
}
