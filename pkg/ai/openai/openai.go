package openai

import (
	"sync"

	"podgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// TranscriptOpenAIClient implements ai.TranscriptAIClient against any
// OpenAI-compatible chat completion endpoint.
//
// A TranscriptOpenAIClient should be created using NewTranscriptOpenAIClient.
type TranscriptOpenAIClient struct {
	analysisModel   string
	extractionModel string

	chatURL string
	chatKey string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewTranscriptOpenAIClientParams defines the configuration parameters for
// creating a new TranscriptOpenAIClient.
//
// AnalysisModel is used for speaker identification, conversation analysis and
// sentiment. ExtractionModel is used for knowledge extraction. ChatURL and
// ChatKey configure the chat completion endpoint.
type NewTranscriptOpenAIClientParams struct {
	AnalysisModel   string
	ExtractionModel string

	ChatURL string
	ChatKey string
}

// NewTranscriptOpenAIClient creates and returns a new TranscriptOpenAIClient
// configured with the provided parameters.
func NewTranscriptOpenAIClient(
	params NewTranscriptOpenAIClientParams,
) *TranscriptOpenAIClient {
	return &TranscriptOpenAIClient{
		analysisModel:   params.AnalysisModel,
		extractionModel: params.ExtractionModel,

		chatURL: params.ChatURL,
		chatKey: params.ChatKey,

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient: newOpenaiClient(params.ChatURL, params.ChatKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func (c *TranscriptOpenAIClient) modifyMetrics(delta ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += delta.InputTokens
	c.metrics.OutputTokens += delta.OutputTokens
	c.metrics.TotalTokens += delta.TotalTokens
	c.metrics.DurationMs += delta.DurationMs
}

// ResetMetrics clears the accumulated model metrics.
func (c *TranscriptOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns a snapshot of the accumulated model metrics.
func (c *TranscriptOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	return c.metrics
}
