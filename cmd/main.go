package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"manual-rag/internal/config"
	"manual-rag/internal/helper"
	"manual-rag/internal/ingest"
	"manual-rag/internal/models"
	"manual-rag/internal/parser"
	"manual-rag/internal/queue"
	"manual-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	serve := flag.Bool("serve", false, "Run the HTTP API")
	worker := flag.Bool("worker", false, "Run the ingestion worker")
	initDB := flag.Bool("init-db", false, "Create tables and match functions")
	resetDB := flag.Bool("reset-db", false, "Drop all tables before init")
	filePath := flag.String("file", "", "Path to the PDF manual")
	userID := flag.String("user", "", "User the manual belongs to")
	query := flag.String("query", "", "Question to be answered")
	dryRun := flag.Bool("dry-run", false, "Extract and chunk only, do not save")
	exportPath := flag.String("export", "", "Export the user's local collections to this file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("-dry-run needs -file")
		}
		previewFile(ctx, cfg, *filePath)
		return
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing application")
	}
	defer a.Close()

	switch {
	case *resetDB || *initDB:
		if err := a.InitDB(ctx, *resetDB); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		log.Info().Msg("Database initialized")
	case *filePath != "":
		ingestFile(ctx, a, *filePath, *userID)
	case *query != "":
		answerQuery(ctx, a, *query, *userID)
	case *exportPath != "":
		if err := a.Export(ctx, *userID, *exportPath); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collections")
		}
		log.Info().Str("path", *exportPath).Msg("Collections exported")
	case *worker:
		runWorker(cfg, a)
	case *serve:
		runServer(ctx, cfg, a)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// previewFile prints the chunks a manual would produce. It needs no store,
// embedder or vision model.
func previewFile(ctx context.Context, cfg *config.Config, filePath string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading file")
	}
	extractor, err := newExtractor(ctx, cfg.Extraction)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing extractor")
	}
	o := ingest.New(ingest.Components{
		Analyzer:  parser.NewAnalyzer(nil),
		Chunker:   newChunker(cfg.RAG),
		Extractor: extractor,
	})
	chunks, err := o.Preview(ctx, data, filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error previewing document")
	}
	log.Info().Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}

func ingestFile(ctx context.Context, a *app, filePath, userID string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading file")
	}
	doc, err := a.orchestrator.Upload(ctx, userID, filePath, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Error uploading document")
	}
	res, err := a.orchestrator.Ingest(ctx, models.IngestRequest{DocumentID: doc.ID, UserID: userID})
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	helper.PrettyPrint(res)
}

func answerQuery(ctx context.Context, a *app, query, userID string) {
	answer, err := a.composer.Answer(ctx, query, userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, step := range answer.Steps {
		fmt.Println(step)
	}
	fmt.Println()

	if len(answer.Images) > 0 {
		log.Info().Msg("Images: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for _, img := range answer.Images {
			fmt.Printf("[%s] %s (page %d) %s\n", img.ImageType, img.Caption, img.PageNumber, img.URL)
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, a *app) {
	services := server.Services{
		Uploader:  a.orchestrator,
		Ingester:  a.orchestrator,
		Answerer:  a.composer,
		Documents: a.store,
		AssetsDir: cfg.Assets.Dir,
		AssetsURL: cfg.Assets.URLPrefix,
	}
	if a.queue != nil {
		services.Queue = a.queue
	}
	if err := server.New(cfg.Server, services).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server exited")
}

// runWorker blocks until asynq receives a termination signal.
func runWorker(cfg *config.Config, a *app) {
	srv := queue.NewServer(cfg.Queue)
	if err := srv.Run(queue.NewMux(queue.NewProcessor(a.orchestrator))); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
}
