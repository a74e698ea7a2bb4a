package scheduler

import (
	"fmt"
	"time"
)

// Builder assembles a Node through fluent setters. The node is
// immutable-after-build: policy fields cannot change once Build returns.
type Builder struct {
	node *Node
}

// NewNode starts building a node with the given identity.
func NewNode(id string) *Builder {
	return &Builder{node: &Node{id: id}}
}

// WithWork sets a parameter-less work function.
func (b *Builder) WithWork(fn WorkFunc) *Builder {
	b.node.work = fn
	return b
}

// WithParamWork sets a work function taking the node's parameter value.
func (b *Builder) WithParamWork(fn ParamWorkFunc) *Builder {
	b.node.paramWork = fn
	return b
}

// WithParam sets the parameter passed to a ParamWorkFunc.
func (b *Builder) WithParam(v any) *Builder {
	b.node.param = v
	return b
}

// WithTimeout sets the per-attempt timeout. Zero or negative means unbounded.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.node.timeout = d
	return b
}

// WithRetries sets the retry budget: attempts allowed beyond the first.
func (b *Builder) WithRetries(r int) *Builder {
	b.node.retries = r
	return b
}

// WithPriority sets the dispatch priority; higher dispatches first.
func (b *Builder) WithPriority(p int) *Builder {
	b.node.priority = p
	return b
}

// Build validates and returns the node.
func (b *Builder) Build() (*Node, error) {
	if b.node.id == "" {
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidInput)
	}
	if b.node.work == nil && b.node.paramWork == nil {
		return nil, fmt.Errorf("%w: node %q has no work function", ErrInvalidInput, b.node.id)
	}
	if b.node.retries < 0 {
		return nil, fmt.Errorf("%w: node %q has negative retry budget", ErrInvalidInput, b.node.id)
	}
	return b.node, nil
}

// Connect records a "parent must finish before child" relationship.
// Only mandatory edges create a graph relationship: a non-mandatory call is
// accepted but records nothing, so the child is neither triggered by nor
// affected by the parent through this edge.
func Connect(parent, child *Node, mandatory bool) {
	if parent == nil || child == nil || !mandatory {
		return
	}
	parent.succs = append(parent.succs, child)
	child.deps = append(child.deps, parent)
}
