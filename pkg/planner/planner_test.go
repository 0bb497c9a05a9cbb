package planner

import (
	"testing"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
)

func nodes(ids ...string) []models.WorkflowNode {
	out := make([]models.WorkflowNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.WorkflowNode{ID: id, Type: "log"})
	}

	return out
}

func edge(from, to string) models.WorkflowEdge {
	return models.WorkflowEdge{From: from, To: to}
}

func branch(from, to string, label models.Branch) models.WorkflowEdge {
	return models.WorkflowEdge{From: from, To: to, Condition: &models.EdgeCondition{Branch: label}}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []models.WorkflowNode
		edges    []models.WorkflowEdge
		expected []string
	}{
		{
			name:     "empty graph",
			expected: []string{},
		},
		{
			name:     "no edges keeps input order",
			nodes:    nodes("c", "a", "b"),
			expected: []string{"c", "a", "b"},
		},
		{
			name:     "linear chain",
			nodes:    nodes("a", "b", "c"),
			edges:    []models.WorkflowEdge{edge("a", "b"), edge("b", "c")},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "chain declared out of order",
			nodes:    nodes("c", "b", "a"),
			edges:    []models.WorkflowEdge{edge("b", "c"), edge("a", "b")},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "cycle without start point",
			nodes:    nodes("a", "b"),
			edges:    []models.WorkflowEdge{edge("a", "b"), edge("b", "a")},
			expected: []string{"a", "b"},
		},
		{
			name:     "branch follows first edge only",
			nodes:    nodes("check", "yes", "no", "done"),
			edges:    []models.WorkflowEdge{branch("check", "yes", models.BranchYes), branch("check", "no", models.BranchNo), edge("yes", "done"), edge("no", "done")},
			expected: []string{"check", "yes", "done", "no"},
		},
		{
			name:     "loop back edge terminates",
			nodes:    nodes("start", "body"),
			edges:    []models.WorkflowEdge{edge("start", "body"), edge("body", "start")},
			expected: []string{"start", "body"},
		},
		{
			name:     "multiple start points",
			nodes:    nodes("a", "x", "b", "y"),
			edges:    []models.WorkflowEdge{edge("a", "b"), edge("x", "y")},
			expected: []string{"a", "b", "x", "y"},
		},
		{
			name:     "edges to unknown nodes are ignored",
			nodes:    nodes("a", "b"),
			edges:    []models.WorkflowEdge{edge("a", "ghost"), edge("a", "b")},
			expected: []string{"a", "b"},
		},
		{
			name:     "unreachable cycle appended after reachable nodes",
			nodes:    nodes("p", "q", "a"),
			edges:    []models.WorkflowEdge{edge("p", "q"), edge("q", "p")},
			expected: []string{"a", "p", "q"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Plan(tt.nodes, tt.edges))
		})
	}
}

func TestPlan_EachNodeExactlyOnce(t *testing.T) {
	graph := nodes("a", "b", "c", "d", "e")
	edges := []models.WorkflowEdge{
		edge("a", "b"), edge("b", "c"), edge("c", "a"),
		edge("d", "b"), edge("e", "e"),
	}

	order := Plan(graph, edges)

	assert.Len(t, order, len(graph))
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, order)
	assert.Equal(t, []string{"d", "b", "c", "a", "e"}, order)
}
