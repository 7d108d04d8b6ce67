package models

// EntityMergeGroup is a proposed cluster of near-duplicate entities. Derived on
// every request and never stored.
type EntityMergeGroup struct {
	Master        Entity   `json:"master"`
	Candidates    []Entity `json:"candidates"`
	CanonicalName string   `json:"canonical_name"`
	Aliases       []string `json:"aliases"`
}

type NodeMergeGroup struct {
	Category      NodeCategory `json:"node_category"`
	Master        Node         `json:"master"`
	Candidates    []Node       `json:"candidates"`
	CanonicalName string       `json:"canonical_name"`
	Aliases       []string     `json:"aliases"`
}

type MergeEntitiesRequest struct {
	MasterID      string   `json:"master_id" validate:"required,uuid"`
	CandidateIDs  []string `json:"candidate_ids" validate:"required,min=1,dive,uuid"`
	CanonicalName string   `json:"canonical_name,omitempty" validate:"max=255"`
	Aliases       []string `json:"aliases,omitempty" validate:"dive,min=1,max=255"`
}

type MergeNodesRequest struct {
	MasterID      string   `json:"master_id" validate:"required,uuid"`
	CandidateIDs  []string `json:"candidate_ids" validate:"required,min=1,dive,uuid"`
	CanonicalName string   `json:"canonical_name,omitempty" validate:"max=255"`
}

type EntityMergeResult struct {
	Master          Entity `json:"master"`
	EntitiesDeleted int    `json:"entities_deleted"`
	NodesReparented int    `json:"nodes_reparented"`
}

type NodeMergeResult struct {
	Master         Node `json:"master"`
	NodesDeleted   int  `json:"nodes_deleted"`
	EdgesRewritten int  `json:"edges_rewritten"`
}
