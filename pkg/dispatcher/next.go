package dispatcher

import "github.com/dukex/flowpilot/pkg/models"

// NextNode picks the successor of nodeID: the edge labeled with branch when one exists, otherwise the
// first unconditional edge. ok is false when the run has nowhere left to go.
func NextNode(definition *models.WorkflowDefinition, nodeID string, branch models.Branch) (string, bool) {
	edges := definition.OutgoingEdges(nodeID)

	if branch != models.BranchNone {
		for _, edge := range edges {
			if edge.Branch() == branch {
				return edge.To, true
			}
		}
	}

	for _, edge := range edges {
		if edge.IsDefault() {
			return edge.To, true
		}
	}

	return "", false
}
