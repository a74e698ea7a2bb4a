package http

import (
	"fmt"
	"time"

	"github.com/gantryd/gantry/internal/application/scheduler"
	"github.com/gantryd/gantry/internal/application/work"
)

// WireNode is a node of a wire-submitted graph. The node body is bound by
// handler name against the work registry.
type WireNode struct {
	ID        string         `json:"id" binding:"required"`
	Handler   string         `json:"handler" binding:"required"`
	Params    map[string]any `json:"params"`
	TimeoutMs int64          `json:"timeout_ms"`
	Retries   int            `json:"retries"`
	Priority  int            `json:"priority"`
}

// WireEdge declares a "from must finish before to" relationship.
// Mandatory defaults to true; non-mandatory edges record nothing.
type WireEdge struct {
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
	Mandatory *bool  `json:"mandatory"`
}

// SubmitRequest is the wire format for a run submission.
type SubmitRequest struct {
	Nodes           []WireNode `json:"nodes" binding:"required"`
	Edges           []WireEdge `json:"edges"`
	Roots           []string   `json:"roots" binding:"required"`
	DeadlineMs      int64      `json:"deadline_ms"`
	MaxConcurrency  *int       `json:"max_concurrency"`
	PreserveResults bool       `json:"preserve_results"`
}

// buildGraph translates a wire graph into scheduler nodes, binding each
// node body through the work registry. It returns the submitted roots.
func buildGraph(registry *work.Registry, req *SubmitRequest) ([]*scheduler.Node, error) {
	if len(req.Nodes) == 0 {
		return nil, fmt.Errorf("graph must have at least one node")
	}
	if len(req.Roots) == 0 {
		return nil, fmt.Errorf("at least one root node is required")
	}

	nodes := make(map[string]*scheduler.Node, len(req.Nodes))
	for _, wn := range req.Nodes {
		if _, exists := nodes[wn.ID]; exists {
			return nil, fmt.Errorf("duplicate node id: %s", wn.ID)
		}
		fn, err := registry.Resolve(wn.Handler, wn.Params)
		if err != nil {
			return nil, fmt.Errorf("invalid node %s: %w", wn.ID, err)
		}
		node, err := scheduler.NewNode(wn.ID).
			WithWork(fn).
			WithTimeout(time.Duration(wn.TimeoutMs) * time.Millisecond).
			WithRetries(wn.Retries).
			WithPriority(wn.Priority).
			Build()
		if err != nil {
			return nil, fmt.Errorf("invalid node %s: %w", wn.ID, err)
		}
		nodes[wn.ID] = node
	}

	for _, edge := range req.Edges {
		parent, ok := nodes[edge.From]
		if !ok {
			return nil, fmt.Errorf("edge references non-existent source node: %s", edge.From)
		}
		child, ok := nodes[edge.To]
		if !ok {
			return nil, fmt.Errorf("edge references non-existent target node: %s", edge.To)
		}
		mandatory := edge.Mandatory == nil || *edge.Mandatory
		scheduler.Connect(parent, child, mandatory)
	}

	roots := make([]*scheduler.Node, 0, len(req.Roots))
	for _, id := range req.Roots {
		node, ok := nodes[id]
		if !ok {
			return nil, fmt.Errorf("root references non-existent node: %s", id)
		}
		roots = append(roots, node)
	}

	return roots, nil
}
