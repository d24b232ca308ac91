// Package ownership discovers subsidiaries and trustee-linked charities of
// resolved records and stores them as an ownership graph.
package ownership

import (
	"github.com/sells-group/charity-cli/internal/model"
)

const (
	// DefaultMaxDepth is used when no depth is requested.
	DefaultMaxDepth = 3
	// MaxDepthCap bounds any requested depth.
	MaxDepthCap = 10
	// TrusteeSearchSize is the page size for trustee name searches.
	TrusteeSearchSize = 3
)

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirectionDown Direction = "down"
	DirectionUp   Direction = "up"
	DirectionBoth Direction = "both"
)

// ParseDirection maps user input to a Direction. Empty means both.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case "":
		return DirectionBoth, true
	case DirectionDown, DirectionUp, DirectionBoth:
		return Direction(s), true
	default:
		return "", false
	}
}

func (d Direction) down() bool { return d == DirectionDown || d == DirectionBoth }
func (d Direction) up() bool   { return d == DirectionUp || d == DirectionBoth }

// ClampDepth applies the default and the cap.
func ClampDepth(d int) int {
	switch {
	case d <= 0:
		return DefaultMaxDepth
	case d > MaxDepthCap:
		return MaxDepthCap
	default:
		return d
	}
}

// Node is one record in a built tree.
type Node struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	OriginalName      string                 `json:"original_name"`
	Kind              model.EntityKind       `json:"entity_kind"`
	RegistryNumber    string                 `json:"registry_number,omitempty"`
	SecondaryNumber   string                 `json:"secondary_number,omitempty"`
	RegistryStatus    string                 `json:"registry_status,omitempty"`
	Status            model.ResolutionStatus `json:"resolution_status"`
	Depth             int                    `json:"depth"`
	Relation          model.RelationType     `json:"relation,omitempty"`
	LatestIncome      *float64               `json:"latest_income,omitempty"`
	LatestExpenditure *float64               `json:"latest_expenditure,omitempty"`
	Children          []*Node                `json:"children,omitempty"`
	Parents           []*Node                `json:"parents,omitempty"`
}

func newNode(r *model.Record, relation model.RelationType) *Node {
	return &Node{
		ID:                r.ID,
		Name:              r.DisplayName(),
		OriginalName:      r.OriginalName,
		Kind:              r.EntityKind,
		RegistryNumber:    r.RegistryNumber,
		SecondaryNumber:   r.SecondaryNumber,
		RegistryStatus:    r.RegistryStatus,
		Status:            r.Status,
		Depth:             r.OwnershipDepth,
		Relation:          relation,
		LatestIncome:      r.LatestIncome,
		LatestExpenditure: r.LatestExpenditure,
	}
}

// Tree is the result of one BuildTree call.
type Tree struct {
	Root            *Node `json:"root"`
	TotalEntities   int   `json:"total_entities"`
	MaxDepthReached int   `json:"max_depth_reached"`
}

// BatchResult aggregates BuildTreesForBatch.
type BatchResult struct {
	BatchID              string `json:"batch_id"`
	TreesBuilt           int    `json:"trees_built"`
	TotalRelatedEntities int    `json:"total_related_entities"`
	Failed               int    `json:"failed"`
}
