package models

import (
	"encoding/json"
	"fmt"
)

// Branch is an edge label returned by a step executor to pick the next node.
type Branch string

const (
	BranchNone Branch = ""

	// if nodes.
	BranchYes Branch = "yes"
	BranchNo  Branch = "no"

	// loop nodes.
	BranchLoop Branch = "loop"
	BranchNext Branch = "next"
)

// Node types with a closed set of branch labels.
const (
	NodeTypeIf   = "if"
	NodeTypeLoop = "loop"
)

var scopedBranches = map[string][]Branch{
	NodeTypeIf:   {BranchYes, BranchNo},
	NodeTypeLoop: {BranchLoop, BranchNext},
}

// BranchesFor returns the labels a node type may emit, or nil when the type is unrestricted.
func BranchesFor(nodeType string) []Branch {
	return scopedBranches[nodeType]
}

// BranchAllowed reports whether a node of the given type may carry an edge labeled b.
func BranchAllowed(nodeType string, b Branch) bool {
	allowed, scoped := scopedBranches[nodeType]
	if !scoped {
		return b != BranchNone
	}

	for _, candidate := range allowed {
		if candidate == b {
			return true
		}
	}

	return false
}

// EdgeCondition is the optional tag on an edge.
type EdgeCondition struct {
	Branch Branch `json:"branch"`
}

// UnmarshalJSON accepts both {"branch":"yes"} and the shorthand "yes".
func (c *EdgeCondition) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		c.Branch = Branch(label)

		return nil
	}

	var raw struct {
		Branch string `json:"branch"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid edge condition: %w", err)
	}

	c.Branch = Branch(raw.Branch)

	return nil
}
