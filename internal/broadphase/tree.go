// Package broadphase implements a dynamic AABB tree. Leaves store a fattened
// box so small moves do not touch the tree; internal nodes are kept balanced
// with AVL-style rotations.
package broadphase

import (
	"errors"
	"fmt"

	"github.com/l1jgo/tilegrid/internal/geom"
)

// Proxy is a handle to a leaf. Handles are recycled after DestroyProxy.
type Proxy int32

// FreeProxy is the handle of something that is not in any tree.
const FreeProxy Proxy = -1

const nullNode = FreeProxy

// DefaultMargin is the fat AABB margin in world units.
const DefaultMargin = 0.1

var ErrInvalidTree = errors.New("broadphase: tree invariant violated")

type node[T any] struct {
	aabb     geom.Box2
	userData T
	// parent doubles as the next link while the node is on the free list.
	parent Proxy
	child1 Proxy
	child2 Proxy
	// height is 0 for leaves and -1 for free nodes.
	height int32
}

func (n *node[T]) isLeaf() bool { return n.child1 == nullNode }

// DynamicTree indexes boxes tagged with user data of type T.
type DynamicTree[T any] struct {
	root       Proxy
	nodes      []node[T]
	freeList   Proxy
	proxyCount int
	margin     float64
}

func New[T any](margin float64) *DynamicTree[T] {
	return &DynamicTree[T]{
		root:     nullNode,
		nodes:    make([]node[T], 0, 16),
		freeList: nullNode,
		margin:   margin,
	}
}

func (t *DynamicTree[T]) allocate() Proxy {
	if t.freeList != nullNode {
		id := t.freeList
		n := &t.nodes[id]
		t.freeList = n.parent
		*n = node[T]{parent: nullNode, child1: nullNode, child2: nullNode}
		return id
	}
	t.nodes = append(t.nodes, node[T]{parent: nullNode, child1: nullNode, child2: nullNode})
	return Proxy(len(t.nodes) - 1)
}

func (t *DynamicTree[T]) release(id Proxy) {
	var zero T
	n := &t.nodes[id]
	n.userData = zero
	n.parent = t.freeList
	n.child1 = nullNode
	n.child2 = nullNode
	n.height = -1
	t.freeList = id
}

func (t *DynamicTree[T]) valid(p Proxy) bool {
	return p >= 0 && int(p) < len(t.nodes) && t.nodes[p].height == 0
}

// CreateProxy inserts a leaf for aabb and returns its handle.
func (t *DynamicTree[T]) CreateProxy(aabb geom.Box2, data T) Proxy {
	id := t.allocate()
	n := &t.nodes[id]
	n.aabb = aabb.Enlarged(t.margin)
	n.userData = data
	n.height = 0
	t.insertLeaf(id)
	t.proxyCount++
	return id
}

// DestroyProxy removes a leaf. Unknown or already destroyed handles are
// ignored.
func (t *DynamicTree[T]) DestroyProxy(p Proxy) bool {
	if !t.valid(p) {
		return false
	}
	t.removeLeaf(p)
	t.release(p)
	t.proxyCount--
	return true
}

// MoveProxy updates a leaf. The tree is only restructured when aabb escapes
// the stored fat box or the fat box has become much larger than needed. It
// reports whether the leaf was reinserted.
func (t *DynamicTree[T]) MoveProxy(p Proxy, aabb geom.Box2) bool {
	if !t.valid(p) {
		return false
	}
	fat := t.nodes[p].aabb
	if fat.Encloses(aabb) && aabb.Enlarged(4*t.margin).Encloses(fat) {
		return false
	}
	t.removeLeaf(p)
	t.nodes[p].aabb = aabb.Enlarged(t.margin)
	t.insertLeaf(p)
	return true
}

func (t *DynamicTree[T]) GetUserData(p Proxy) (T, bool) {
	if !t.valid(p) {
		var zero T
		return zero, false
	}
	return t.nodes[p].userData, true
}

// GetFatAABB returns the enlarged box stored for p.
func (t *DynamicTree[T]) GetFatAABB(p Proxy) (geom.Box2, bool) {
	if !t.valid(p) {
		return geom.Box2{}, false
	}
	return t.nodes[p].aabb, true
}

func (t *DynamicTree[T]) ProxyCount() int { return t.proxyCount }

// Height of the root, or -1 for an empty tree.
func (t *DynamicTree[T]) Height() int {
	if t.root == nullNode {
		return -1
	}
	return int(t.nodes[t.root].height)
}

// Query visits every leaf whose fat box overlaps aabb. Returning false from
// fn stops the walk.
func (t *DynamicTree[T]) Query(aabb geom.Box2, fn func(Proxy, T) bool) {
	if t.root == nullNode {
		return
	}
	stack := make([]Proxy, 0, 32)
	stack = append(stack, t.root)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[id]
		if !n.aabb.Intersects(aabb) {
			continue
		}
		if n.isLeaf() {
			if !fn(id, n.userData) {
				return
			}
			continue
		}
		stack = append(stack, n.child1, n.child2)
	}
}

// QueryPoint visits every leaf whose fat box contains p.
func (t *DynamicTree[T]) QueryPoint(p geom.Vec2, fn func(Proxy, T) bool) {
	t.Query(geom.PointBox(p), fn)
}

// RayCast walks leaves whose fat box the ray crosses within maxDist. The
// callback returns the new maximum distance: 0 stops the cast, a negative
// value ignores the leaf, anything else clips the ray.
func (t *DynamicTree[T]) RayCast(ray geom.Ray, maxDist float64, fn func(p Proxy, data T, maxDist float64) float64) {
	if t.root == nullNode {
		return
	}
	stack := make([]Proxy, 0, 32)
	stack = append(stack, t.root)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[id]
		if _, hit := n.aabb.RayIntersect(ray, maxDist); !hit {
			continue
		}
		if !n.isLeaf() {
			stack = append(stack, n.child1, n.child2)
			continue
		}
		v := fn(id, n.userData, maxDist)
		switch {
		case v == 0:
			return
		case v > 0:
			maxDist = v
		}
	}
}

func (t *DynamicTree[T]) insertLeaf(leaf Proxy) {
	if t.root == nullNode {
		t.root = leaf
		t.nodes[leaf].parent = nullNode
		return
	}

	leafAABB := t.nodes[leaf].aabb
	index := t.root
	for !t.nodes[index].isLeaf() {
		n := &t.nodes[index]
		area := n.aabb.Perimeter()
		combinedArea := n.aabb.Union(leafAABB).Perimeter()

		// cost of a new parent for this node and the leaf
		cost := 2 * combinedArea
		// minimum cost of pushing the leaf further down
		inheritance := 2 * (combinedArea - area)

		cost1 := t.descendCost(n.child1, leafAABB) + inheritance
		cost2 := t.descendCost(n.child2, leafAABB) + inheritance

		if cost < cost1 && cost < cost2 {
			break
		}
		if cost1 < cost2 {
			index = n.child1
		} else {
			index = n.child2
		}
	}

	sibling := index
	oldParent := t.nodes[sibling].parent
	newParent := t.allocate()
	np := &t.nodes[newParent]
	np.parent = oldParent
	np.aabb = leafAABB.Union(t.nodes[sibling].aabb)
	np.height = t.nodes[sibling].height + 1
	np.child1 = sibling
	np.child2 = leaf

	if oldParent != nullNode {
		op := &t.nodes[oldParent]
		if op.child1 == sibling {
			op.child1 = newParent
		} else {
			op.child2 = newParent
		}
	} else {
		t.root = newParent
	}
	t.nodes[sibling].parent = newParent
	t.nodes[leaf].parent = newParent

	t.refit(t.nodes[leaf].parent)
}

func (t *DynamicTree[T]) descendCost(child Proxy, leafAABB geom.Box2) float64 {
	c := &t.nodes[child]
	union := leafAABB.Union(c.aabb).Perimeter()
	if c.isLeaf() {
		return union
	}
	return union - c.aabb.Perimeter()
}

// refit walks from index to the root, rebalancing and recomputing boxes.
func (t *DynamicTree[T]) refit(index Proxy) {
	for index != nullNode {
		index = t.balance(index)
		n := &t.nodes[index]
		c1 := &t.nodes[n.child1]
		c2 := &t.nodes[n.child2]
		n.height = 1 + max(c1.height, c2.height)
		n.aabb = c1.aabb.Union(c2.aabb)
		index = n.parent
	}
}

func (t *DynamicTree[T]) removeLeaf(leaf Proxy) {
	if leaf == t.root {
		t.root = nullNode
		return
	}

	parent := t.nodes[leaf].parent
	grandParent := t.nodes[parent].parent
	sibling := t.nodes[parent].child1
	if sibling == leaf {
		sibling = t.nodes[parent].child2
	}

	if grandParent != nullNode {
		gp := &t.nodes[grandParent]
		if gp.child1 == parent {
			gp.child1 = sibling
		} else {
			gp.child2 = sibling
		}
		t.nodes[sibling].parent = grandParent
		t.release(parent)
		t.refit(grandParent)
	} else {
		t.root = sibling
		t.nodes[sibling].parent = nullNode
		t.release(parent)
	}
	t.nodes[leaf].parent = nullNode
}

func (t *DynamicTree[T]) replaceChild(parent, old, repl Proxy) {
	if parent == nullNode {
		t.root = repl
		return
	}
	p := &t.nodes[parent]
	if p.child1 == old {
		p.child1 = repl
	} else {
		p.child2 = repl
	}
}

// balance rotates iA if its subtrees differ in height by more than one and
// returns the new subtree root.
func (t *DynamicTree[T]) balance(iA Proxy) Proxy {
	a := &t.nodes[iA]
	if a.isLeaf() || a.height < 2 {
		return iA
	}

	iB, iC := a.child1, a.child2
	b, c := &t.nodes[iB], &t.nodes[iC]
	diff := c.height - b.height

	// rotate C up
	if diff > 1 {
		iF, iG := c.child1, c.child2
		f, g := &t.nodes[iF], &t.nodes[iG]

		c.child1 = iA
		c.parent = a.parent
		a.parent = iC
		t.replaceChild(c.parent, iA, iC)

		if f.height > g.height {
			c.child2 = iF
			a.child2 = iG
			g.parent = iA
			a.aabb = b.aabb.Union(g.aabb)
			c.aabb = a.aabb.Union(f.aabb)
			a.height = 1 + max(b.height, g.height)
			c.height = 1 + max(a.height, f.height)
		} else {
			c.child2 = iG
			a.child2 = iF
			f.parent = iA
			a.aabb = b.aabb.Union(f.aabb)
			c.aabb = a.aabb.Union(g.aabb)
			a.height = 1 + max(b.height, f.height)
			c.height = 1 + max(a.height, g.height)
		}
		return iC
	}

	// rotate B up
	if diff < -1 {
		iD, iE := b.child1, b.child2
		d, e := &t.nodes[iD], &t.nodes[iE]

		b.child1 = iA
		b.parent = a.parent
		a.parent = iB
		t.replaceChild(b.parent, iA, iB)

		if d.height > e.height {
			b.child2 = iD
			a.child1 = iE
			e.parent = iA
			a.aabb = c.aabb.Union(e.aabb)
			b.aabb = a.aabb.Union(d.aabb)
			a.height = 1 + max(c.height, e.height)
			b.height = 1 + max(a.height, d.height)
		} else {
			b.child2 = iE
			a.child1 = iD
			d.parent = iA
			a.aabb = c.aabb.Union(d.aabb)
			b.aabb = a.aabb.Union(e.aabb)
			a.height = 1 + max(c.height, d.height)
			b.height = 1 + max(a.height, e.height)
		}
		return iB
	}

	return iA
}

// Validate checks parent links, heights, box containment and the node count.
func (t *DynamicTree[T]) Validate() error {
	free := 0
	for id := t.freeList; id != nullNode; id = t.nodes[id].parent {
		free++
		if free > len(t.nodes) {
			return fmt.Errorf("%w: free list cycle", ErrInvalidTree)
		}
	}
	if t.root == nullNode {
		if free != len(t.nodes) {
			return fmt.Errorf("%w: empty tree with %d live nodes", ErrInvalidTree, len(t.nodes)-free)
		}
		return nil
	}
	if t.nodes[t.root].parent != nullNode {
		return fmt.Errorf("%w: root has a parent", ErrInvalidTree)
	}
	reached, leaves, err := t.validateNode(t.root)
	if err != nil {
		return err
	}
	if reached+free != len(t.nodes) {
		return fmt.Errorf("%w: %d reachable + %d free != %d nodes", ErrInvalidTree, reached, free, len(t.nodes))
	}
	if leaves != t.proxyCount {
		return fmt.Errorf("%w: %d leaves but %d proxies", ErrInvalidTree, leaves, t.proxyCount)
	}
	return nil
}

func (t *DynamicTree[T]) validateNode(id Proxy) (nodes, leaves int, err error) {
	n := &t.nodes[id]
	if n.isLeaf() {
		if n.child2 != nullNode || n.height != 0 {
			return 0, 0, fmt.Errorf("%w: malformed leaf %d", ErrInvalidTree, id)
		}
		return 1, 1, nil
	}
	c1, c2 := &t.nodes[n.child1], &t.nodes[n.child2]
	if c1.parent != id || c2.parent != id {
		return 0, 0, fmt.Errorf("%w: bad parent link under %d", ErrInvalidTree, id)
	}
	if n.height != 1+max(c1.height, c2.height) {
		return 0, 0, fmt.Errorf("%w: bad height at %d", ErrInvalidTree, id)
	}
	if !n.aabb.Encloses(c1.aabb) || !n.aabb.Encloses(c2.aabb) {
		return 0, 0, fmt.Errorf("%w: node %d does not enclose its children", ErrInvalidTree, id)
	}
	n1, l1, err := t.validateNode(n.child1)
	if err != nil {
		return 0, 0, err
	}
	n2, l2, err := t.validateNode(n.child2)
	if err != nil {
		return 0, 0, err
	}
	return 1 + n1 + n2, l1 + l2, nil
}
