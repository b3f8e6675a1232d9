package xds

import (
	"fmt"
	"strings"
)

// Tree is a hierarchy of named datasets. Every node carries a dataset, which
// may be empty, and attributes live on that dataset.
type Tree struct {
	Name    string
	Dataset *Dataset

	parent   *Tree
	children map[string]*Tree
	order    []string
}

// NewTree creates a detached node. A nil dataset is replaced with an empty one.
func NewTree(name string, ds *Dataset) *Tree {
	if ds == nil {
		ds = New()
	}
	return &Tree{
		Name:     name,
		Dataset:  ds,
		children: map[string]*Tree{},
	}
}

// Path is the '/' separated location of the node, "/" for the root
func (t *Tree) Path() string {
	if t.parent == nil {
		return "/"
	}
	var parts []string
	for n := t; n.parent != nil; n = n.parent {
		parts = append([]string{n.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

// Parent returns the node's parent, nil for a root
func (t *Tree) Parent() *Tree { return t.parent }

// Attrs are the attributes of the node's dataset
func (t *Tree) Attrs() map[string]interface{} {
	return t.Dataset.Attrs
}

// AddChild attaches c below t. Names must be unique and must not contain '/'.
func (t *Tree) AddChild(c *Tree) error {
	if c.Name == "" || strings.Contains(c.Name, "/") {
		return fmt.Errorf("invalid child name %q", c.Name)
	}
	if _, ok := t.children[c.Name]; ok {
		return fmt.Errorf("node %s already has a child named %q", t.Path(), c.Name)
	}
	if c.parent != nil {
		return fmt.Errorf("node %q is already attached to %s", c.Name, c.parent.Path())
	}
	c.parent = t
	t.children[c.Name] = c
	t.order = append(t.order, c.Name)
	return nil
}

// RemoveChild detaches the named child if present
func (t *Tree) RemoveChild(name string) {
	c, ok := t.children[name]
	if !ok {
		return
	}
	c.parent = nil
	delete(t.children, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// Child looks up a direct child by name
func (t *Tree) Child(name string) (*Tree, bool) {
	c, ok := t.children[name]
	return c, ok
}

// ChildNames lists children in insertion order
func (t *Tree) ChildNames() []string {
	return append([]string(nil), t.order...)
}

// Children lists children in insertion order
func (t *Tree) Children() []*Tree {
	out := make([]*Tree, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, t.children[n])
	}
	return out
}

// Walk visits t and its descendants depth first, parents before children
func (t *Tree) Walk(fn func(*Tree) error) error {
	if err := fn(t); err != nil {
		return err
	}
	for _, c := range t.Children() {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Copy duplicates the tree structure. Each node gets a shallow dataset copy
// so maps can be modified without affecting t.
func (t *Tree) Copy() *Tree {
	out := NewTree(t.Name, t.Dataset.Copy())
	for _, c := range t.Children() {
		cc := c.Copy()
		cc.parent = out
		out.children[cc.Name] = cc
		out.order = append(out.order, cc.Name)
	}
	return out
}
