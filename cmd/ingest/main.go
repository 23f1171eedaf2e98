// The ingest command processes VTT transcripts from the local filesystem.
// By default each file runs through the full pipeline in-process; with
// -publish the files are uploaded to S3 and queued for the worker instead.
// With -requeue no files are read at all: every transcript already in the
// bucket under the configured prefix is enqueued again.
package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"podgraph/internal/queue"
	"podgraph/internal/storage"
	"podgraph/internal/util"

	"podgraph/pkg/ai"
	oai "podgraph/pkg/ai/ollama"
	gai "podgraph/pkg/ai/openai"
	"podgraph/pkg/logger"
	"podgraph/pkg/logger/console"
	"podgraph/pkg/pipeline"
	"podgraph/pkg/store/neo4j"
)

func main() {
	util.LoadEnv()

	publish := flag.Bool("publish", false, "upload transcripts to S3 and enqueue them instead of processing locally")
	requeue := flag.Bool("requeue", false, "enqueue every transcript already stored in the bucket, reading no local files")
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 && !*requeue {
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{}))
		logger.Fatal("Usage: ingest [-publish] transcript.vtt [transcript.vtt ...] | ingest -requeue")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	}))

	switch {
	case *requeue:
		requeueStored(ctx)
	case *publish:
		publishFiles(ctx, files)
	default:
		processFiles(ctx, files)
	}
}

// requeueStored enqueues every transcript under the bucket prefix for the
// worker, without uploading anything. Useful after wiping the graph or a
// dead-lettered batch.
func requeueStored(ctx context.Context) {
	s3Client := storage.NewS3Client(ctx)

	conn := queue.Init()
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.TranscriptQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	prefix := util.GetEnvString("TRANSCRIPT_PREFIX", "transcripts")
	keys, err := storage.ListTranscripts(ctx, s3Client, prefix)
	if err != nil {
		logger.Fatal("Failed to list transcripts", "prefix", prefix, "err", err)
	}
	if len(keys) == 0 {
		logger.Info("No transcripts found under prefix", "prefix", prefix)
		return
	}

	for _, key := range keys {
		if err := queue.PublishTranscript(ch, queue.TranscriptMessage{
			Message: "Transcript requeue",
			FileKey: key,
		}); err != nil {
			logger.Error("Failed to enqueue transcript", "key", key, "err", err)
			continue
		}
		logger.Info("Transcript queued", "key", key)
	}
}

// publishFiles uploads each transcript and enqueues a message for the worker.
func publishFiles(ctx context.Context, files []string) {
	s3Client := storage.NewS3Client(ctx)

	conn := queue.Init()
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.TranscriptQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	prefix := util.GetEnvString("TRANSCRIPT_PREFIX", "transcripts")
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Error("Failed to read transcript", "file", file, "err", err)
			continue
		}

		key := prefix + "/" + filepath.Base(file)
		if err := storage.PutTranscript(ctx, s3Client, key, bytes.NewReader(data)); err != nil {
			logger.Error("Failed to upload transcript", "file", file, "err", err)
			continue
		}
		if err := queue.PublishTranscript(ch, queue.TranscriptMessage{
			Message: "Transcript ingestion",
			FileKey: key,
		}); err != nil {
			logger.Error("Failed to enqueue transcript", "file", file, "err", err)
			continue
		}
		logger.Info("Transcript queued", "file", file, "key", key)
	}
}

// processFiles runs the pipeline in-process, one transcript at a time.
func processFiles(ctx context.Context, files []string) {
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.TranscriptAIClient

	switch adapter {
	case "ollama":
		client, err := oai.NewTranscriptOllamaClient(oai.NewTranscriptOllamaClientParams{
			AnalysisModel:   util.GetEnv("AI_CHAT_ANALYZE_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.NewTranscriptOpenAIClient(gai.NewTranscriptOpenAIClientParams{
			AnalysisModel:   util.GetEnv("AI_CHAT_ANALYZE_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			ChatURL: util.GetEnv("AI_CHAT_URL"),
			ChatKey: util.GetEnv("AI_CHAT_KEY"),
		})
	}

	graphStorage, err := neo4j.NewStorage(ctx, neo4j.Config{
		URI:      util.GetEnv("NEO4J_URI"),
		Username: util.GetEnv("NEO4J_USER"),
		Password: util.GetEnv("NEO4J_PASSWORD"),
		Database: util.GetEnvString("NEO4J_DATABASE", "neo4j"),
	})
	if err != nil {
		logger.Fatal("Unable to connect to neo4j", "err", err)
	}
	defer graphStorage.Close(context.Background())

	p := pipeline.New(aiClient, graphStorage, pipeline.Config{
		CheckpointDir: util.GetEnvString("CHECKPOINT_DIR", "checkpoints"),
		Concurrency:   int(util.GetEnvNumeric("EXTRACTION_CONCURRENCY", 5)),
		UnitTimeout:   time.Duration(util.GetEnvNumeric("UNIT_TIMEOUT_SECONDS", 600)) * time.Second,
		MaxRetries:    int(util.GetEnvNumeric("AI_MAX_RETRIES", 3)),
		MaxUnitTokens: int(util.GetEnvNumeric("MAX_UNIT_TOKENS", 2000)),
	})

	failed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Error("Failed to read transcript", "file", file, "err", err)
			failed++
			continue
		}

		start := time.Now()
		result, err := p.ProcessTranscript(ctx, file, string(data))
		if err != nil {
			logger.Error("Transcript failed", "file", file, "err", err)
			failed++
			continue
		}

		logger.Info("Transcript processed",
			"file", file,
			"episode_id", result.EpisodeID,
			"status", string(result.Status),
			"units", result.Units,
			"entities", result.Entities,
			"quotes", result.Quotes,
			"insights", result.Insights,
			"failed_units", result.FailedUnits,
			"duration", time.Since(start).Round(time.Second).String(),
		)
	}

	if failed > 0 {
		logger.Fatal("Some transcripts failed", "failed", failed, "total", len(files))
	}
}
