package models

import (
	"time"

	"github.com/lib/pq"
)

type NodeCategory string

const (
	NodeCategoryPMS            NodeCategory = "PMS"
	NodeCategoryCRS            NodeCategory = "CRS"
	NodeCategoryCM             NodeCategory = "CM"
	NodeCategoryBookingEngine  NodeCategory = "BookingEngine"
	NodeCategoryRMS            NodeCategory = "RMS"
	NodeCategorySwitch         NodeCategory = "Switch"
	NodeCategoryAggregator     NodeCategory = "Aggregator"
	NodeCategoryDistributor    NodeCategory = "Distributor"
	NodeCategoryMeta           NodeCategory = "Meta"
	NodeCategoryOTA            NodeCategory = "OTA"
	NodeCategoryWholesaler     NodeCategory = "Wholesaler"
	NodeCategoryCMS            NodeCategory = "CMS"
	NodeCategoryEnrichment     NodeCategory = "Enrichment"
	NodeCategoryPaymentGateway NodeCategory = "PaymentGateway"
	NodeCategoryOther          NodeCategory = "Other"
)

// NodeCategories lists every category in display order.
var NodeCategories = []NodeCategory{
	NodeCategoryPMS, NodeCategoryCRS, NodeCategoryCM, NodeCategoryBookingEngine, NodeCategoryRMS,
	NodeCategorySwitch, NodeCategoryAggregator, NodeCategoryDistributor, NodeCategoryMeta,
	NodeCategoryOTA, NodeCategoryWholesaler, NodeCategoryCMS, NodeCategoryEnrichment,
	NodeCategoryPaymentGateway, NodeCategoryOther,
}

func (c NodeCategory) Valid() bool {
	_, ok := categoryMetadata[c]
	return ok
}

type Direction string

const (
	DirectionSupply       Direction = "Supply"
	DirectionDemand       Direction = "Demand"
	DirectionSupplySwitch Direction = "Supply Switch"
	DirectionDemandSwitch Direction = "Demand Switch"
	DirectionNone         Direction = "None"
)

var Directions = []Direction{DirectionSupply, DirectionDemand, DirectionSupplySwitch, DirectionDemandSwitch, DirectionNone}

func (d Direction) Valid() bool {
	for _, v := range Directions {
		if v == d {
			return true
		}
	}
	return false
}

// Protocols are the accepted protocols_supported tags.
var Protocols = []string{"OTA_XML", "HTNG", "REST", "SOAP", "GraphQL", "SFTP", "EDI", "Webhook", "Other"}

// DataTypes are the accepted data_types_supported tags.
var DataTypes = []string{"Rates", "Availability", "Inventory", "Reservations", "Content", "Payments", "Reviews", "Other"}

// Node is a system or product instance owned by exactly one Entity.
type Node struct {
	ID                 string         `json:"id" db:"id"`
	NodeName           string         `json:"node_name" db:"node_name"`
	EntityID           string         `json:"entity_id" db:"entity_id"`
	NodeCategory       NodeCategory   `json:"node_category" db:"node_category"`
	Direction          Direction      `json:"direction" db:"direction"`
	NodeAliases        pq.StringArray `json:"node_aliases" db:"node_aliases"`
	ConnectsTo         pq.StringArray `json:"connects_to" db:"connects_to"` // directed; may dangle
	IsActive           bool           `json:"is_active" db:"is_active"`
	ProtocolsSupported pq.StringArray `json:"protocols_supported" db:"protocols_supported"`
	DataTypesSupported pq.StringArray `json:"data_types_supported" db:"data_types_supported"`
	Notes              string         `json:"notes" db:"notes"`
	BatchID            *string        `json:"batch_id,omitempty" db:"batch_id"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

func (n *Node) Names() []string {
	names := make([]string, 0, len(n.NodeAliases)+1)
	names = append(names, n.NodeName)
	return append(names, n.NodeAliases...)
}

type UpdateNodeRequest struct {
	NodeName           *string       `json:"node_name,omitempty" validate:"omitempty,min=1,max=255"`
	EntityID           *string       `json:"entity_id,omitempty" validate:"omitempty,uuid"`
	NodeCategory       *NodeCategory `json:"node_category,omitempty" validate:"omitempty,node_category"`
	Direction          *Direction    `json:"direction,omitempty" validate:"omitempty,direction"`
	NodeAliases        *[]string     `json:"node_aliases,omitempty" validate:"omitempty,dive,min=1,max=255"`
	ConnectsTo         *[]string     `json:"connects_to,omitempty"`
	IsActive           *bool         `json:"is_active,omitempty"`
	ProtocolsSupported *[]string     `json:"protocols_supported,omitempty" validate:"omitempty,dive,protocol"`
	DataTypesSupported *[]string     `json:"data_types_supported,omitempty" validate:"omitempty,dive,data_type"`
	Notes              *string       `json:"notes,omitempty"`
}

func (r UpdateNodeRequest) IsEmpty() bool {
	return r.NodeName == nil && r.EntityID == nil && r.NodeCategory == nil && r.Direction == nil &&
		r.NodeAliases == nil && r.ConnectsTo == nil && r.IsActive == nil &&
		r.ProtocolsSupported == nil && r.DataTypesSupported == nil && r.Notes == nil
}

type NodeFilter struct {
	Category NodeCategory `query:"category" validate:"omitempty,node_category"`
	EntityID string       `query:"entity_id" validate:"omitempty,uuid"`
}

type NodeListResponse struct {
	Items      []Node `json:"items"`
	TotalCount int    `json:"total_count"`
}
