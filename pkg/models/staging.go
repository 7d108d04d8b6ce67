package models

import (
	"time"

	"github.com/lib/pq"
)

// StagingDecision is the one-shot outcome of a staging record.
type StagingDecision string

const (
	StagingDecisionPending      StagingDecision = "pending"
	StagingDecisionApprovedNew  StagingDecision = "approved_new"
	StagingDecisionMergedEntity StagingDecision = "merged_entity"
	StagingDecisionMergedNode   StagingDecision = "merged_node"
	StagingDecisionRejected     StagingDecision = "rejected"
)

func (d StagingDecision) IsTerminal() bool {
	return d != StagingDecisionPending && d != ""
}

// StagingNode is an uploaded row awaiting a decision.
type StagingNode struct {
	ID                 string          `json:"id" db:"id"`
	BatchID            string          `json:"batch_id" db:"batch_id"`
	RowNumber          int             `json:"row_number" db:"row_number"`
	NodeName           string          `json:"node_name" db:"node_name"`
	Website            string          `json:"website" db:"website"`
	EntityName         string          `json:"entity_name" db:"entity_name"`
	NodeCategory       NodeCategory    `json:"node_category" db:"node_category"`
	Direction          Direction       `json:"direction" db:"direction"`
	Notes              string          `json:"notes" db:"notes"`
	ConnectTargets     pq.StringArray  `json:"connect_targets" db:"connect_targets"`
	ProtocolsSupported pq.StringArray  `json:"protocols_supported" db:"protocols_supported"`
	DataTypesSupported pq.StringArray  `json:"data_types_supported" db:"data_types_supported"`
	Decision           StagingDecision `json:"decision" db:"decision"`
	DecidedAt          *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
	DecidedBy          *string         `json:"decided_by,omitempty" db:"decided_by"`
	ResultEntityID     *string         `json:"result_entity_id,omitempty" db:"result_entity_id"`
	ResultNodeID       *string         `json:"result_node_id,omitempty" db:"result_node_id"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// StagingOutcome is what the decision processor writes back onto a staging row.
type StagingOutcome struct {
	Decision       StagingDecision
	DecidedBy      string
	ResultEntityID *string
	ResultNodeID   *string
}
