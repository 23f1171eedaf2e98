package queue

import (
	"context"
	"encoding/json"
	"fmt"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"podgraph/internal/storage"
	"podgraph/pkg/logger"
	"podgraph/pkg/pipeline"
)

// TranscriptMessage asks the worker to process one transcript stored in S3.
type TranscriptMessage struct {
	Message       string `json:"message,omitempty"`
	FileKey       string `json:"file_key"`
	CorrelationID string `json:"correlation_id"`
}

// PublishTranscript enqueues a transcript for processing, stamping a
// correlation id when the caller provided none.
func PublishTranscript(ch *amqp091.Channel, msg TranscriptMessage) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript message: %w", err)
	}
	return PublishFIFO(ch, TranscriptQueue, data)
}

// ProcessTranscriptMessage fetches the transcript named by the message and
// runs it through the pipeline. The returned error decides whether the
// delivery is retried.
func ProcessTranscriptMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	p *pipeline.Pipeline,
	msg string,
) error {
	data := new(TranscriptMessage)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("failed to unmarshal transcript message: %w", err)
	}
	if data.FileKey == "" {
		return fmt.Errorf("transcript message missing file_key")
	}

	logger.Info("[Queue] Processing transcript",
		"file_key", data.FileKey, "correlation_id", data.CorrelationID)

	content, err := storage.GetTranscript(ctx, s3Client, data.FileKey)
	if err != nil {
		return err
	}

	result, err := p.ProcessTranscript(ctx, data.FileKey, content)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Transcript processed",
		"file_key", data.FileKey,
		"episode_id", result.EpisodeID,
		"status", string(result.Status),
		"entities", result.Entities,
		"failed_units", result.FailedUnits)
	return nil
}
