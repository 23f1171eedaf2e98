package extraction

import (
	"context"
	"fmt"
	"strings"

	"podgraph/internal/util"
	"podgraph/pkg/ai"
	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

// analyzeSentiment rates the emotional tone of a unit. The model call is
// best effort: when it fails, a rule-based estimate stands in so every
// stored unit carries a sentiment record.
func (e *Extractor) analyzeSentiment(ctx context.Context, unit common.MeaningfulUnit) *common.SentimentResult {
	prompt := fmt.Sprintf(ai.SentimentPrompt, strings.Join(unitSpeakers(unit), ", "), unit.Text)

	response, err := util.RetryWithContext(ctx, e.maxRetries, func(callCtx context.Context) (*sentimentResponse, error) {
		var parsed sentimentResponse
		if err := e.aiClient.GenerateCompletionWithFormat(
			callCtx,
			"sentiment_analysis",
			"Emotional tone rating for a span of podcast conversation",
			prompt,
			&parsed,
		); err != nil {
			return nil, err
		}
		return &parsed, nil
	})
	if err != nil {
		logger.Warn("sentiment analysis failed, falling back to estimate", "unit", unit.ID, "error", err)
		return estimateSentiment(unit)
	}

	result := &common.SentimentResult{
		UnitID:          unit.ID,
		Polarity:        normalizePolarity(response.Polarity),
		Score:           clampSigned(float64(response.Score)),
		Emotions:        clampScoreMap(response.Emotions),
		Attitudes:       clampScoreMap(response.Attitudes),
		EnergyLevel:     clamp01(float64(response.EnergyLevel)),
		EngagementLevel: clamp01(float64(response.EngagementLevel)),
	}
	return result
}

func normalizePolarity(polarity string) string {
	switch strings.ToLower(strings.TrimSpace(polarity)) {
	case "positive", "pos":
		return "positive"
	case "negative", "neg":
		return "negative"
	case "mixed":
		return "mixed"
	default:
		return "neutral"
	}
}

func clampScoreMap(scores map[string]FlexScore) map[string]float64 {
	if len(scores) == 0 {
		return nil
	}
	out := make(map[string]float64, len(scores))
	for label, score := range scores {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			continue
		}
		out[key] = clamp01(float64(score))
	}
	return out
}

var (
	positiveWords = []string{"great", "love", "amazing", "excellent", "wonderful", "fantastic", "excited", "happy", "awesome", "brilliant"}
	negativeWords = []string{"terrible", "hate", "awful", "horrible", "worried", "afraid", "angry", "sad", "disappointing", "frustrating"}
)

// estimateSentiment produces a crude keyword-based rating. It exists only as
// a fallback when the model is unavailable, so neutral-with-a-nudge is good
// enough.
func estimateSentiment(unit common.MeaningfulUnit) *common.SentimentResult {
	text := strings.ToLower(unit.Text)
	positives, negatives := 0, 0
	for _, w := range positiveWords {
		positives += strings.Count(text, w)
	}
	for _, w := range negativeWords {
		negatives += strings.Count(text, w)
	}

	result := &common.SentimentResult{
		UnitID:          unit.ID,
		Polarity:        "neutral",
		Score:           0,
		EnergyLevel:     0.5,
		EngagementLevel: 0.5,
	}
	switch {
	case positives > negatives:
		result.Polarity = "positive"
		result.Score = clampSigned(0.2 + 0.1*float64(positives-negatives))
	case negatives > positives:
		result.Polarity = "negative"
		result.Score = clampSigned(-0.2 - 0.1*float64(negatives-positives))
	}
	return result
}
