package events

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityCreated EventType = "entity.created"
	EventTypeEntityUpdated EventType = "entity.updated"
	EventTypeEntityMerged  EventType = "entity.merged"

	EventTypeNodeCreated EventType = "node.created"
	EventTypeNodeUpdated EventType = "node.updated"
	EventTypeNodeMerged  EventType = "node.merged"

	EventTypeBatchCreated    EventType = "batch.created"
	EventTypeBatchProcessed  EventType = "batch.processed"
	EventTypeBatchFailed     EventType = "batch.error"
	EventTypeBatchCancelled  EventType = "batch.cancelled"
	EventTypeBatchRolledBack EventType = "batch.rolled_back"

	EventTypeDecisionRecorded EventType = "decision.recorded"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EntityMergedData is the payload of entity.merged
type EntityMergedData struct {
	MasterID        string   `json:"master_id"`
	MergedIDs       []string `json:"merged_ids"`
	CanonicalName   string   `json:"canonical_name"`
	NodesReparented int      `json:"nodes_reparented"`
}

// NodeMergedData is the payload of node.merged
type NodeMergedData struct {
	MasterID       string   `json:"master_id"`
	MergedIDs      []string `json:"merged_ids"`
	CanonicalName  string   `json:"canonical_name"`
	EdgesRewritten int      `json:"edges_rewritten"`
}

// DecisionRecordedData is the payload of decision.recorded
type DecisionRecordedData struct {
	StagingID      string  `json:"staging_id"`
	Action         string  `json:"action"`
	Decision       string  `json:"decision"`
	ResultEntityID *string `json:"result_entity_id,omitempty"`
	ResultNodeID   *string `json:"result_node_id,omitempty"`
}
