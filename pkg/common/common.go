package common

// Episode is the root aggregate for one processed transcript. Every unit,
// entity, quote, insight, and sentiment node in the graph hangs off exactly
// one episode.
type Episode struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	PublishedDate string `json:"published_date,omitempty"`
	YoutubeURL    string `json:"youtube_url,omitempty"`
	Podcast       string `json:"podcast,omitempty"`
}

// Segment is one time-coded cue from the transcript. Segments are ordered and
// immutable once parsed; downstream phases read them but never mutate them.
// Start and End are offsets in seconds from the beginning of the episode.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Theme is one topic grouping produced by conversation analysis. Segment
// indices always reference the episode's parsed segment slice and are
// validated before the structure leaves the analyzer.
type Theme struct {
	Name           string `json:"name"`
	SegmentIndices []int  `json:"segment_indices"`
}

// ConversationStructure is the analyzer's view of how an episode flows.
// It is transient: unit building consumes it and it is recomputed on resume
// rather than checkpointed.
type ConversationStructure struct {
	Themes          []Theme `json:"themes"`
	FlowDescription string  `json:"flow_description"`
}

// MeaningfulUnit is a semantically coherent span of segments and the unit of
// extraction and storage. Segments themselves are never persisted to the graph.
//
// SpeakerDistribution maps speaker label to percentage of speaking time and
// always sums to 100.0, with the largest bucket absorbing rounding remainder.
type MeaningfulUnit struct {
	ID                  string             `json:"id"`
	EpisodeID           string             `json:"episode_id"`
	Index               int                `json:"index"`
	Text                string             `json:"text"`
	Start               float64            `json:"start"`
	End                 float64            `json:"end"`
	SpeakerDistribution map[string]float64 `json:"speaker_distribution"`
	Themes              []string           `json:"themes,omitempty"`
	UnitType            string             `json:"unit_type,omitempty"`
}

// Entity is a node in the knowledge graph. Type is an open string taken
// verbatim from extraction; the only validation applied is non-emptiness.
// After resolution an entity tracks every unit that mentioned it.
type Entity struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Value         string   `json:"value"`
	Confidence    float64  `json:"confidence"`
	Description   string   `json:"description,omitempty"`
	SourceUnitIDs []string `json:"source_unit_ids"`
}

// Quote is a notable verbatim statement. It links to exactly one meaningful
// unit and one episode; both links are mandatory in storage.
type Quote struct {
	ID              string  `json:"id"`
	UnitID          string  `json:"unit_id"`
	EpisodeID       string  `json:"episode_id"`
	Text            string  `json:"text"`
	Speaker         string  `json:"speaker"`
	QuoteType       string  `json:"quote_type,omitempty"`
	Start           float64 `json:"timestamp_start"`
	End             float64 `json:"timestamp_end"`
	ImportanceScore float64 `json:"importance_score"`
	Confidence      float64 `json:"confidence"`
}

// Insight is a distilled observation extracted from a unit. Like quotes,
// insights carry dual linkage to their unit and episode.
type Insight struct {
	ID          string   `json:"id"`
	UnitID      string   `json:"unit_id"`
	EpisodeID   string   `json:"episode_id"`
	Text        string   `json:"text"`
	InsightType string   `json:"insight_type,omitempty"`
	Importance  float64  `json:"importance"`
	Confidence  float64  `json:"confidence"`
	Themes      []string `json:"themes,omitempty"`
}

// Relationship is a directed, schema-less edge between two resolved entities.
type Relationship struct {
	SourceEntityID string         `json:"source_entity_id"`
	TargetEntityID string         `json:"target_entity_id"`
	Type           string         `json:"type"`
	Properties     map[string]any `json:"properties,omitempty"`
}

// SentimentResult captures the emotional profile of one meaningful unit.
// Score is in [-1, 1]; energy and engagement are in [0, 1].
type SentimentResult struct {
	UnitID          string             `json:"unit_id"`
	Polarity        string             `json:"polarity"`
	Score           float64            `json:"score"`
	Emotions        map[string]float64 `json:"emotions,omitempty"`
	Attitudes       map[string]float64 `json:"attitudes,omitempty"`
	EnergyLevel     float64            `json:"energy_level"`
	EngagementLevel float64            `json:"engagement_level"`
}

// RawRelationship is a relationship as extracted from one unit, referencing
// entities by value rather than by resolved ID. Resolution rewrites these
// into Relationships between canonical entities.
type RawRelationship struct {
	SourceValue string `json:"source_value"`
	TargetValue string `json:"target_value"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// UnitExtraction bundles everything extracted from one meaningful unit.
// All fields serialize losslessly, which makes the slice checkpointable.
type UnitExtraction struct {
	UnitID        string            `json:"unit_id"`
	Entities      []Entity          `json:"entities,omitempty"`
	Quotes        []Quote           `json:"quotes,omitempty"`
	Insights      []Insight         `json:"insights,omitempty"`
	Relationships []RawRelationship `json:"relationships,omitempty"`
	Sentiment     *SentimentResult  `json:"sentiment,omitempty"`
}

// EpisodeGraph is the full extraction output for one episode, ready for
// persistence. Storage writes it atomically: either every node and edge lands
// or the episode subgraph is rolled back.
type EpisodeGraph struct {
	Episode       Episode           `json:"episode"`
	Units         []MeaningfulUnit  `json:"units"`
	Entities      []Entity          `json:"entities"`
	Quotes        []Quote           `json:"quotes"`
	Insights      []Insight         `json:"insights"`
	Relationships []Relationship    `json:"relationships"`
	Sentiments    []SentimentResult `json:"sentiments"`
}

// TranscriptMetadata is the optional descriptive block preceding the cues.
// Absence of any or all fields never affects cue parsing.
type TranscriptMetadata struct {
	YoutubeURL   string `json:"youtube_url,omitempty"`
	PodcastName  string `json:"podcast_name,omitempty"`
	EpisodeTitle string `json:"episode_title,omitempty"`
	Description  string `json:"description,omitempty"`
}
