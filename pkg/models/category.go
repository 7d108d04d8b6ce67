package models

// CategoryMetadata is the static display and suggestion data for a node category.
type CategoryMetadata struct {
	Category         NodeCategory `json:"category"`
	Label            string       `json:"label"`
	Color            string       `json:"color"`
	AliasSuggestions []string     `json:"alias_suggestions"`
}

var categoryMetadata = map[NodeCategory]CategoryMetadata{
	NodeCategoryPMS:            {Label: "Property Management System", Color: "#2563eb", AliasSuggestions: []string{"PMS", "Property Management", "Front Office"}},
	NodeCategoryCRS:            {Label: "Central Reservation System", Color: "#7c3aed", AliasSuggestions: []string{"CRS", "Central Reservations"}},
	NodeCategoryCM:             {Label: "Channel Manager", Color: "#0891b2", AliasSuggestions: []string{"CM", "Channel Manager", "Channel Mgr"}},
	NodeCategoryBookingEngine:  {Label: "Booking Engine", Color: "#059669", AliasSuggestions: []string{"IBE", "Booking Engine", "Internet Booking Engine"}},
	NodeCategoryRMS:            {Label: "Revenue Management System", Color: "#d97706", AliasSuggestions: []string{"RMS", "Revenue Management"}},
	NodeCategorySwitch:         {Label: "Switch", Color: "#dc2626", AliasSuggestions: []string{"GDS Switch", "Connectivity Switch"}},
	NodeCategoryAggregator:     {Label: "Aggregator", Color: "#9333ea", AliasSuggestions: []string{"Aggregator", "Bedbank"}},
	NodeCategoryDistributor:    {Label: "Distributor", Color: "#4f46e5", AliasSuggestions: []string{"Distributor", "Distribution"}},
	NodeCategoryMeta:           {Label: "Metasearch", Color: "#db2777", AliasSuggestions: []string{"Meta", "Metasearch"}},
	NodeCategoryOTA:            {Label: "Online Travel Agency", Color: "#ea580c", AliasSuggestions: []string{"OTA", "Online Travel Agency"}},
	NodeCategoryWholesaler:     {Label: "Wholesaler", Color: "#65a30d", AliasSuggestions: []string{"Wholesaler", "Wholesale"}},
	NodeCategoryCMS:            {Label: "Content Management System", Color: "#0d9488", AliasSuggestions: []string{"CMS", "Content Management"}},
	NodeCategoryEnrichment:     {Label: "Data Enrichment", Color: "#a16207", AliasSuggestions: []string{"Enrichment", "Data Enrichment"}},
	NodeCategoryPaymentGateway: {Label: "Payment Gateway", Color: "#be123c", AliasSuggestions: []string{"PSP", "Payment Gateway", "Payments"}},
	NodeCategoryOther:          {Label: "Other", Color: "#6b7280", AliasSuggestions: []string{}},
}

// Metadata returns the static metadata for c. Unknown categories fall back to Other.
func (c NodeCategory) Metadata() CategoryMetadata {
	meta, ok := categoryMetadata[c]
	if !ok {
		meta = categoryMetadata[NodeCategoryOther]
		c = NodeCategoryOther
	}
	meta.Category = c
	return meta
}

// AllCategoryMetadata returns metadata for every category in display order.
func AllCategoryMetadata() []CategoryMetadata {
	out := make([]CategoryMetadata, 0, len(NodeCategories))
	for _, c := range NodeCategories {
		out = append(out, c.Metadata())
	}
	return out
}
