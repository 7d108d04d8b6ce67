package models

type DecisionAction string

const (
	DecisionActionApproveNew      DecisionAction = "approve_new"
	DecisionActionMergeWithEntity DecisionAction = "merge_with_entity"
	DecisionActionMergeWithNode   DecisionAction = "merge_with_node"
	DecisionActionReject          DecisionAction = "reject"
)

// Outcome is the staging decision an action produces.
func (a DecisionAction) Outcome() StagingDecision {
	switch a {
	case DecisionActionApproveNew:
		return StagingDecisionApprovedNew
	case DecisionActionMergeWithEntity:
		return StagingDecisionMergedEntity
	case DecisionActionMergeWithNode:
		return StagingDecisionMergedNode
	case DecisionActionReject:
		return StagingDecisionRejected
	}
	return ""
}

func (a DecisionAction) RequiresTarget() bool {
	return a == DecisionActionMergeWithEntity || a == DecisionActionMergeWithNode
}

type Decision struct {
	StagingID string         `json:"staging_id" validate:"required,uuid"`
	Action    DecisionAction `json:"action" validate:"required,oneof=approve_new merge_with_entity merge_with_node reject"`
	TargetID  string         `json:"target_id,omitempty" validate:"omitempty,uuid"`
	Notes     string         `json:"notes,omitempty"`
}

type ProcessDecisionsRequest struct {
	Decisions []Decision `json:"decisions" validate:"required,min=1,max=1000,dive"`
}

type DecisionError struct {
	StagingID string `json:"staging_id"`
	Reason    string `json:"reason"`
}

type ProcessDecisionsResult struct {
	Processed int             `json:"processed"`
	Errors    []DecisionError `json:"errors"`
}
