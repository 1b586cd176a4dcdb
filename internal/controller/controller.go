package controller

import (
	"fmt"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
)

// Controller is one node of the composed tree: the top-level node, one
// node per adapter, and one child per indexed process of an adapter.
type Controller struct {
	id        string
	label     string
	apiPrefix string

	attrs    *attributes.Registry
	tasks    []attributes.Task
	children []*Controller
}

func newController(id, label, apiPrefix string) *Controller {
	return &Controller{
		id:        id,
		label:     label,
		apiPrefix: apiPrefix,
		attrs:     attributes.NewRegistry(),
	}
}

// ID addresses the node, e.g. "fp" or "fp.0". The top-level node has an
// empty ID.
func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Label() string {
	return c.label
}

// APIPrefix is the remote path all of this node's parameters live under.
func (c *Controller) APIPrefix() string {
	return c.apiPrefix
}

func (c *Controller) Attributes() *attributes.Registry {
	return c.attrs
}

func (c *Controller) Children() []*Controller {
	return append([]*Controller(nil), c.children...)
}

// Nodes returns this node and all descendants, parents first.
func (c *Controller) Nodes() []*Controller {
	nodes := []*Controller{c}
	for _, child := range c.children {
		nodes = append(nodes, child.Nodes()...)
	}
	return nodes
}

// Find looks up a node by ID in this subtree.
func (c *Controller) Find(id string) (*Controller, bool) {
	for _, node := range c.Nodes() {
		if node.id == id {
			return node, true
		}
	}
	return nil, false
}

// Tasks returns every periodic task of the subtree: each attribute's
// update loop plus shared refreshers such as parameter caches.
func (c *Controller) Tasks() []attributes.Task {
	var tasks []attributes.Task
	for _, node := range c.Nodes() {
		tasks = append(tasks, node.tasks...)
		for _, attr := range node.attrs.List() {
			tasks = append(tasks, attr)
		}
	}
	return tasks
}

// AttributeCount counts attributes in the subtree.
func (c *Controller) AttributeCount() int {
	n := 0
	for _, node := range c.Nodes() {
		n += node.attrs.Len()
	}
	return n
}

func (c *Controller) addChild(child *Controller) {
	c.children = append(c.children, child)
}

func (c *Controller) child(id string) (*Controller, bool) {
	for _, child := range c.children {
		if child.id == id {
			return child, true
		}
	}
	return nil, false
}

func (c *Controller) register(attrs []*attributes.Attribute) error {
	for _, attr := range attrs {
		if err := c.attrs.Register(attr); err != nil {
			return fmt.Errorf("node %s: %w", c.id, err)
		}
	}
	return nil
}
