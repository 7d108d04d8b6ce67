package models

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type RecommendedAction string

const (
	RecommendedActionMerge    RecommendedAction = "merge"
	RecommendedActionReview   RecommendedAction = "review"
	RecommendedActionSeparate RecommendedAction = "separate"
)

// MatchType is the kind of record a staging row was matched against.
type MatchType string

const (
	MatchTypeEntity  MatchType = "entity"
	MatchTypeNode    MatchType = "node"
	MatchTypeStaging MatchType = "staging"
)

type MatchReasonType string

const (
	MatchReasonExactName        MatchReasonType = "exact_name"
	MatchReasonSimilarName      MatchReasonType = "similar_name"
	MatchReasonSharedDomain     MatchReasonType = "shared_domain"
	MatchReasonAliasMatch       MatchReasonType = "alias_match"
	MatchReasonSharedNameTokens MatchReasonType = "shared_name_tokens"
)

type MatchReason struct {
	Type   MatchReasonType `json:"type"`
	Detail string          `json:"detail"`
}

// Match is one registry or in-batch candidate for a staging row.
type Match struct {
	MatchType   MatchType     `json:"match_type"`
	TargetID    string        `json:"target_id"`
	TargetName  string        `json:"target_name"`
	MatchedName string        `json:"matched_name"`
	Score       float64       `json:"score"`
	Confidence  Confidence    `json:"confidence"`
	Reasons     []MatchReason `json:"reasons"`
}

// MatchResult is the analysis of one staging row.
type MatchResult struct {
	StagingID         string            `json:"staging_id"`
	RowNumber         int               `json:"row_number"`
	NodeName          string            `json:"node_name"`
	EntityName        string            `json:"entity_name"`
	NodeCategory      NodeCategory      `json:"node_category"`
	HasDuplicates     bool              `json:"has_duplicates"`
	DuplicateCount    int               `json:"duplicate_count"`
	OverallConfidence float64           `json:"overall_confidence"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Matches           []Match           `json:"matches"`
}

// AnalyzerConfig tunes analyzeDeduplication. Zero values take the defaults,
// except InclusionFloor where only nil does, so an explicit 0 keeps every
// positive score.
type AnalyzerConfig struct {
	InclusionFloor  *float64 `json:"inclusion_floor,omitempty" validate:"omitempty,gte=0,lte=1"`
	HighThreshold   float64  `json:"high_threshold" validate:"gte=0,lte=1"`
	MediumThreshold float64  `json:"medium_threshold" validate:"gte=0,lte=1"`
	IncludeEntities *bool    `json:"include_entities,omitempty"`
	IncludeNodes    *bool    `json:"include_nodes,omitempty"`
	IncludeBatch    *bool    `json:"include_batch,omitempty"`
	MaxMatches      int      `json:"max_matches" validate:"gte=0,lte=100"`
}

const (
	DefaultInclusionFloor  = 0.4
	DefaultHighThreshold   = 0.85
	DefaultMediumThreshold = 0.6
	DefaultMaxMatches      = 10
)

func (c AnalyzerConfig) WithDefaults() AnalyzerConfig {
	if c.InclusionFloor == nil {
		floor := DefaultInclusionFloor
		c.InclusionFloor = &floor
	}
	if c.HighThreshold == 0 {
		c.HighThreshold = DefaultHighThreshold
	}
	if c.MediumThreshold == 0 {
		c.MediumThreshold = DefaultMediumThreshold
	}
	if c.MaxMatches == 0 {
		c.MaxMatches = DefaultMaxMatches
	}
	return c
}

func (c AnalyzerConfig) Floor() float64 {
	if c.InclusionFloor == nil {
		return DefaultInclusionFloor
	}
	return *c.InclusionFloor
}

func (c AnalyzerConfig) EntitiesEnabled() bool { return c.IncludeEntities == nil || *c.IncludeEntities }
func (c AnalyzerConfig) NodesEnabled() bool    { return c.IncludeNodes == nil || *c.IncludeNodes }
func (c AnalyzerConfig) BatchEnabled() bool    { return c.IncludeBatch == nil || *c.IncludeBatch }

// ConfidenceFor maps a score onto a tier. Scores at or below the inclusion
// floor have no tier and report false.
func (c AnalyzerConfig) ConfidenceFor(score float64) (Confidence, bool) {
	switch {
	case score >= c.HighThreshold:
		return ConfidenceHigh, true
	case score >= c.MediumThreshold:
		return ConfidenceMedium, true
	case score > c.Floor():
		return ConfidenceLow, true
	}
	return "", false
}

// RecommendedActionFor derives the action from the best match's tier.
func RecommendedActionFor(top Confidence) RecommendedAction {
	switch top {
	case ConfidenceHigh:
		return RecommendedActionMerge
	case ConfidenceMedium:
		return RecommendedActionReview
	}
	return RecommendedActionSeparate
}
