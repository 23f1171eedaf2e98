package extraction

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexScore is a float64 that also accepts the sloppy score encodings smaller
// models produce: quoted numbers, percentages, fractions and words like
// "high". Anything unrecognized decodes to 0.5.
type FlexScore float64

func (f *FlexScore) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*f = 0.5
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = FlexScore(num)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		*f = 0.5
		return nil
	}
	*f = FlexScore(parseScoreText(text))
	return nil
}

// SignedFlexScore is the FlexScore counterpart for the [-1, 1] polarity
// range. String encodings keep their sign instead of being folded into
// [0, 1], and an absent value reads as neutral.
type SignedFlexScore float64

func (f *SignedFlexScore) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*f = 0
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = SignedFlexScore(num)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		*f = 0
		return nil
	}
	*f = SignedFlexScore(parseSignedScoreText(text))
	return nil
}

// parseSignedScoreText maps a free-text score onto [-1, 1]. Unsigned
// encodings reuse the [0, 1] mapping with the sign reapplied.
func parseSignedScoreText(text string) float64 {
	s := strings.ToLower(strings.TrimSpace(text))
	switch s {
	case "", "neutral", "mixed", "none":
		return 0
	case "positive":
		return 0.5
	case "very positive":
		return 0.9
	case "negative":
		return -0.5
	case "very negative":
		return -0.9
	}

	if num, err := strconv.ParseFloat(s, 64); err == nil {
		return clampSigned(num)
	}
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		return -parseScoreText(rest)
	}
	return parseScoreText(s)
}

// parseScoreText maps a free-text score onto [0, 1].
func parseScoreText(text string) float64 {
	s := strings.ToLower(strings.TrimSpace(text))
	switch s {
	case "":
		return 0.5
	case "very high", "very strong":
		return 0.9
	case "high", "strong":
		return 0.8
	case "medium", "moderate", "neutral":
		return 0.5
	case "low", "weak":
		return 0.2
	case "very low", "very weak", "none":
		return 0.1
	}

	if strings.HasSuffix(s, "%") {
		if pct, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64); err == nil {
			return clamp01(pct / 100)
		}
	}
	if num, denom, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(denom), 64)
		if errN == nil && errD == nil && d > 0 {
			return clamp01(n / d)
		}
	}
	if num, err := strconv.ParseFloat(s, 64); err == nil {
		if num > 1 && num <= 10 {
			return clamp01(num / 10)
		}
		return clamp01(num)
	}
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// Response types for the structured extraction call. The field descriptions
// end up in the JSON schema sent to the model, so they double as inline
// instructions.

type entityRecord struct {
	Type        string  `json:"type" jsonschema_description:"Open entity type in UPPER_SNAKE_CASE, as specific as the text supports"`
	Value       string  `json:"value" jsonschema_description:"Canonical name of the entity"`
	Confidence  float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0 and 1"`
	Description string  `json:"description,omitempty" jsonschema_description:"One-sentence description of the entity in this context"`
}

type quoteRecord struct {
	Text            string  `json:"text" jsonschema_description:"Verbatim quote from the transcript"`
	Speaker         string  `json:"speaker" jsonschema_description:"Speaker label of whoever said it"`
	QuoteType       string  `json:"quote_type,omitempty" jsonschema_description:"Kind of quote, e.g. opinion, anecdote, claim"`
	ImportanceScore float64 `json:"importance_score" jsonschema_description:"How worth preserving the quote is, 0 to 1"`
	Confidence      float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0 and 1"`
}

type insightRecord struct {
	Text        string   `json:"text" jsonschema_description:"The distilled insight"`
	InsightType string   `json:"insight_type,omitempty" jsonschema_description:"Kind of insight, e.g. lesson, observation, prediction"`
	Importance  float64  `json:"importance" jsonschema_description:"How significant the insight is, 0 to 1"`
	Confidence  float64  `json:"confidence" jsonschema_description:"Extraction confidence between 0 and 1"`
	Themes      []string `json:"themes,omitempty" jsonschema_description:"Themes the insight belongs to"`
}

type relationshipRecord struct {
	Source      string `json:"source" jsonschema_description:"Value of the source entity"`
	Target      string `json:"target" jsonschema_description:"Value of the target entity"`
	Type        string `json:"type" jsonschema_description:"Relationship type in UPPER_SNAKE_CASE"`
	Description string `json:"description,omitempty" jsonschema_description:"Why the entities are related"`
}

type structureRecord struct {
	Relationships []relationshipRecord `json:"relationships,omitempty" jsonschema_description:"Relationships between extracted entities"`
	Themes        []string             `json:"themes,omitempty" jsonschema_description:"Themes discussed in the unit"`
}

type extractionResponse struct {
	Entities              []entityRecord  `json:"entities,omitempty"`
	Quotes                []quoteRecord   `json:"quotes,omitempty"`
	Insights              []insightRecord `json:"insights,omitempty"`
	ConversationStructure structureRecord `json:"conversation_structure"`
}

type sentimentResponse struct {
	Polarity        string               `json:"polarity" jsonschema_description:"Overall polarity: positive, negative, neutral or mixed"`
	Score           SignedFlexScore      `json:"score" jsonschema_description:"Polarity score from -1 to 1"`
	Emotions        map[string]FlexScore `json:"emotions,omitempty" jsonschema_description:"Detected emotions with intensity 0 to 1"`
	Attitudes       map[string]FlexScore `json:"attitudes,omitempty" jsonschema_description:"Speaker attitudes with intensity 0 to 1"`
	EnergyLevel     FlexScore            `json:"energy_level" jsonschema_description:"How animated the speakers are, 0 to 1"`
	EngagementLevel FlexScore            `json:"engagement_level" jsonschema_description:"How invested the speakers are, 0 to 1"`
}
