// Package models defines the core domain models for tenant workflow automation
package models

import (
	"errors"
	"fmt"
	"time"
)

// TriggerType identifies the kind of inbound event a workflow reacts to.
type TriggerType string

const (
	TriggerTypeManual            TriggerType = "manual"
	TriggerTypeDocumentCompleted TriggerType = "document_completed"
	TriggerTypeEmailInbound      TriggerType = "email_inbound"
	TriggerTypeSlackMessage      TriggerType = "slack_message"
	TriggerTypeFicEvent          TriggerType = "fic_event"
)

// IsValid reports whether t is one of the known trigger types.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerTypeManual, TriggerTypeDocumentCompleted, TriggerTypeEmailInbound,
		TriggerTypeSlackMessage, TriggerTypeFicEvent:
		return true
	default:
		return false
	}
}

var (
	ErrDuplicateNodeID      = errors.New("duplicate node id")
	ErrUnknownEdgeEndpoint  = errors.New("edge references unknown node")
	ErrDuplicateBranchLabel = errors.New("duplicate branch label on outgoing edges")
	ErrMultipleDefaultEdges = errors.New("more than one unconditional outgoing edge")
	ErrBranchOutOfScope     = errors.New("branch label not allowed for node type")
	ErrInvalidTriggerType   = errors.New("invalid trigger type")
)

// Workflow is a tenant-owned automation. The engine only reads it.
type Workflow struct {
	ID         string             `json:"id"`
	CompanyID  string             `json:"company_id"  validate:"required"`
	Name       string             `json:"name"        validate:"required,min=1"`
	Active     bool               `json:"active"`
	Definition WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// WorkflowDefinition is the graph and trigger a run is planned from.
type WorkflowDefinition struct {
	Nodes   []WorkflowNode `json:"nodes"`
	Edges   []WorkflowEdge `json:"edges"`
	Trigger TriggerSpec    `json:"trigger"`
}

// WorkflowNode is one step of the graph. Config values are literals or token expressions.
type WorkflowNode struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// WorkflowEdge links two nodes; an edge without a condition is the default successor.
type WorkflowEdge struct {
	From      string         `json:"from"                validate:"required"`
	To        string         `json:"to"                  validate:"required"`
	Condition *EdgeCondition `json:"condition,omitempty"`
}

// Branch returns the edge label, or the empty branch for unconditional edges.
func (e WorkflowEdge) Branch() Branch {
	if e.Condition == nil {
		return BranchNone
	}

	return e.Condition.Branch
}

// IsDefault reports whether the edge is unconditional.
func (e WorkflowEdge) IsDefault() bool {
	return e.Branch() == BranchNone
}

// TriggerSpec holds the trigger type and its type-specific filter fields.
type TriggerSpec struct {
	Type   TriggerType    `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Node returns the node with the given id.
func (d *WorkflowDefinition) Node(id string) (WorkflowNode, bool) {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return WorkflowNode{}, false
}

// OutgoingEdges returns the edges leaving a node, in definition order.
func (d *WorkflowDefinition) OutgoingEdges(nodeID string) []WorkflowEdge {
	var edges []WorkflowEdge

	for _, edge := range d.Edges {
		if edge.From == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Validate checks the structural invariants of the graph.
func (d *WorkflowDefinition) Validate() error {
	if !d.Trigger.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTriggerType, d.Trigger.Type)
	}

	types := make(map[string]string, len(d.Nodes))

	for _, node := range d.Nodes {
		if _, exists := types[node.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		types[node.ID] = node.Type
	}

	labels := make(map[string]map[Branch]bool)

	for _, edge := range d.Edges {
		nodeType, ok := types[edge.From]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEdgeEndpoint, edge.From)
		}

		if _, ok := types[edge.To]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEdgeEndpoint, edge.To)
		}

		if labels[edge.From] == nil {
			labels[edge.From] = make(map[Branch]bool)
		}

		branch := edge.Branch()
		if labels[edge.From][branch] {
			if branch == BranchNone {
				return fmt.Errorf("%w: node %s", ErrMultipleDefaultEdges, edge.From)
			}

			return fmt.Errorf("%w: node %s branch %s", ErrDuplicateBranchLabel, edge.From, branch)
		}

		if branch != BranchNone && !BranchAllowed(nodeType, branch) {
			return fmt.Errorf("%w: %s on %s node %s", ErrBranchOutOfScope, branch, nodeType, edge.From)
		}

		labels[edge.From][branch] = true
	}

	return nil
}
