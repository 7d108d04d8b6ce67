package models

import (
	"time"

	"github.com/Ramsey-B/partnermap/pkg/database"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessed  BatchStatus = "processed"
	BatchStatusError      BatchStatus = "error"
	BatchStatusCancelled  BatchStatus = "cancelled"
	BatchStatusRolledBack BatchStatus = "rolled_back"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPending:   {BatchStatusProcessed, BatchStatusError, BatchStatusCancelled},
	BatchStatusProcessed: {BatchStatusRolledBack},
}

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessed, BatchStatusError, BatchStatusCancelled, BatchStatusRolledBack:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal forward transition.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for error, cancelled and rolled_back.
func (s BatchStatus) IsTerminal() bool {
	return s.Valid() && len(batchTransitions[s]) == 0
}

// Batch is one CSV upload and its lifecycle.
type Batch struct {
	ID               string                       `json:"id" db:"id"`
	Name             string                       `json:"name" db:"name"`
	Status           BatchStatus                  `json:"status" db:"status"`
	TotalRecords     int                          `json:"total_records" db:"total_records"`
	ProcessedRecords int                          `json:"processed_records" db:"processed_records"`
	ErrorRecords     int                          `json:"error_records" db:"error_records"`
	ErrorReport      database.JSONB[*ErrorReport] `json:"error_report" db:"error_report"`
	CreatedBy        string                       `json:"created_by" db:"created_by"`
	CreatedAt        time.Time                    `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time                   `json:"completed_at,omitempty" db:"completed_at"`
}

// IsComplete is true once every record has either been decided or failed validation.
func (b *Batch) IsComplete() bool {
	return b.TotalRecords > 0 && b.ProcessedRecords+b.ErrorRecords >= b.TotalRecords
}

// RowError is a validation failure for one uploaded row. Row is 1-based and
// excludes the header.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type ErrorReport struct {
	Message string     `json:"message,omitempty"`
	Rows    []RowError `json:"rows,omitempty"`
}

type CreateBatchRequest struct {
	CSVContent string `json:"csv_content" validate:"required"`
	BatchName  string `json:"batch_name,omitempty" validate:"max=255"`
}

// BatchUploadResult is the response to processBatchCSV.
type BatchUploadResult struct {
	BatchID           string        `json:"batch_id"`
	Status            BatchStatus   `json:"status"`
	TotalRows         int           `json:"total_rows"`
	ValidRows         int           `json:"valid_rows"`
	InvalidRows       int           `json:"invalid_rows"`
	StagingNodes      []StagingNode `json:"staging_nodes"`
	ValidationErrors  []RowError    `json:"validation_errors"`
	DuplicateWarnings int           `json:"duplicate_warnings"`
}

type RollbackResult struct {
	Success             bool `json:"success"`
	NodesDeleted        int  `json:"nodes_deleted"`
	EntitiesDeleted     int  `json:"entities_deleted"`
	StagingNodesDeleted int  `json:"staging_nodes_deleted"`
}
