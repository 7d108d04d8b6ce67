package models

import (
	"time"

	"github.com/lib/pq"
)

// Entity is a real-world organization in the registry. It owns zero or more Nodes.
type Entity struct {
	ID               string         `json:"id" db:"id"`
	MasterEntityName string         `json:"master_entity_name" db:"master_entity_name"`
	AlternateNames   pq.StringArray `json:"alternate_names" db:"alternate_names"`
	Website          string         `json:"website" db:"website"`
	BatchID          *string        `json:"batch_id,omitempty" db:"batch_id"` // provenance; nil for manual records
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Names returns the master name followed by every alternate name.
func (e *Entity) Names() []string {
	names := make([]string, 0, len(e.AlternateNames)+1)
	names = append(names, e.MasterEntityName)
	return append(names, e.AlternateNames...)
}

// UpdateEntityRequest is a partial update; nil fields are left unchanged.
type UpdateEntityRequest struct {
	MasterEntityName *string   `json:"master_entity_name,omitempty" validate:"omitempty,min=1,max=255"`
	AlternateNames   *[]string `json:"alternate_names,omitempty" validate:"omitempty,dive,min=1,max=255"`
	Website          *string   `json:"website,omitempty" validate:"omitempty,max=2048"`
}

func (r UpdateEntityRequest) IsEmpty() bool {
	return r.MasterEntityName == nil && r.AlternateNames == nil && r.Website == nil
}

type EntityListResponse struct {
	Items      []Entity `json:"items"`
	TotalCount int      `json:"total_count"`
}

// AddAliasesRequest unions names into an entity's or node's alias set.
type AddAliasesRequest struct {
	Aliases []string `json:"aliases" validate:"required,min=1,dive,min=1,max=255"`
}
