// Package planner computes the order in which a run's steps are materialized.
package planner

import "github.com/dukex/flowpilot/pkg/models"

// Plan returns every node id exactly once. Walks start at nodes without incoming edges and follow only the
// first outgoing edge of each node; nodes never reached (branches, cycles) are appended in input order.
// The order seeds step rows only, branching is decided at dispatch time.
func Plan(nodes []models.WorkflowNode, edges []models.WorkflowEdge) []string {
	if len(nodes) == 0 {
		return []string{}
	}

	known := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		known[node.ID] = true
	}

	inDegree := make(map[string]int, len(nodes))
	firstEdge := make(map[string]string, len(nodes))

	for _, edge := range edges {
		if !known[edge.From] || !known[edge.To] {
			continue
		}

		inDegree[edge.To]++

		if _, ok := firstEdge[edge.From]; !ok {
			firstEdge[edge.From] = edge.To
		}
	}

	order := make([]string, 0, len(nodes))
	visited := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		if inDegree[node.ID] != 0 {
			continue
		}

		for current, ok := node.ID, true; ok && !visited[current]; current, ok = firstEdge[current] {
			visited[current] = true
			order = append(order, current)
		}
	}

	for _, node := range nodes {
		if !visited[node.ID] {
			visited[node.ID] = true
			order = append(order, node.ID)
		}
	}

	return order
}
