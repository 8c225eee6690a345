// Command dispatcher runs one pipeline stage, or an ordered sequence of
// stages, for an already-ingested document on demand, bypassing the
// queue-driven worker loop. It is the CLI surface over
// internal/dispatcher, generalized from the teacher API server's
// connect-then-run boot sequence with the HTTP surface stripped out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kunzeritter/manual2vector/internal/config"
	"github.com/kunzeritter/manual2vector/internal/dispatcher"
	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/fn"
	"github.com/kunzeritter/manual2vector/internal/graphlinks"
	"github.com/kunzeritter/manual2vector/internal/pipeline"
	"github.com/kunzeritter/manual2vector/internal/processor"
	"github.com/kunzeritter/manual2vector/internal/retry"
	"github.com/kunzeritter/manual2vector/internal/stages"
	"github.com/kunzeritter/manual2vector/internal/stagestatus"
	"github.com/kunzeritter/manual2vector/internal/store"
	"github.com/kunzeritter/manual2vector/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("dispatcher exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	fs := flag.NewFlagSet("dispatcher", flag.ExitOnError)
	documentID := fs.String("document", "", "document id to dispatch stages for")
	stageList := fs.String("stages", "", "comma-separated stage names to run in order")
	mode := fs.String("mode", "selective", "run mode: selective or full")
	force := fs.Bool("force", false, "bypass the dependency gate")
	stopOnError := fs.Bool("stop-on-error", true, "halt the sequence at the first failed stage")
	videosForSeries := fs.String("videos-for-series", "", "print videos linked to this product series id and exit, instead of dispatching stages")

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *documentID == "" && *videosForSeries == "" {
		return fmt.Errorf("-document is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := store.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer gateway.Close()

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("connect neo4j: %w", err)
	}
	defer driver.Close(ctx)
	graph := graphlinks.New(driver)

	if *videosForSeries != "" {
		return printVideosForSeries(ctx, logger, graph, *videosForSeries)
	}

	vectors, err := vectorstore.New(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	defer vectors.Close()

	status := stagestatus.New(gateway.Pool())
	retries := retry.New(gateway.Pool(), fn.DefaultRetry)
	base := processor.NewBase(status, retries, cfg.LeaseDuration, logger)

	deps := stages.Deps{
		Gateway: gateway,
		Status:  status,
		Graph:   graph,
		Vectors: vectors,
	}

	executor := pipeline.NewExecutor(pipeline.Config{
		Stages: []processor.Processor{
			stages.NewUpload(deps),
			stages.NewTextExtraction(deps),
			stages.NewTableExtraction(deps),
			stages.NewSVGProcessing(deps),
			stages.NewImageProcessing(deps),
			stages.NewVisualEmbedding(deps),
			stages.NewLinkExtraction(deps),
			stages.NewChunkPrep(deps),
			stages.NewClassification(deps),
			stages.NewMetadataExtraction(deps),
			stages.NewPartsExtraction(deps),
			stages.NewSeriesDetection(deps),
			stages.NewStorage(deps),
			stages.NewEmbedding(deps),
			stages.NewSearchIndexing(deps),
		},
		Base:      base,
		Status:    status,
		Documents: gateway.Documents,
		Retries:   retries,
		Pool:      gateway.Pool(),
		Log:       logger,
	})

	d := dispatcher.New(executor, status, gateway.Documents)

	stageNames, err := parseStages(*stageList, *mode)
	if err != nil {
		return err
	}

	outcomes, err := d.DispatchSequence(ctx, *documentID, stageNames, dispatcher.SequenceOptions{
		StopOnError: *stopOnError,
		Force:       *force,
	})
	for _, outcome := range outcomes {
		logger.Info("stage outcome",
			"document_id", outcome.DocumentID, "stage", outcome.Stage, "state", outcome.State,
			"attempt", outcome.Attempt, "duration", outcome.Duration)
	}
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

// printVideosForSeries is the CLI surface over
// graphlinks.GraphStore.VideosForSeries, the denormalized read path for
// the videos auto-linked to every document under a product series.
func printVideosForSeries(ctx context.Context, logger *slog.Logger, graph *graphlinks.GraphStore, seriesID string) error {
	videos, err := graph.VideosForSeries(ctx, seriesID)
	if err != nil {
		return fmt.Errorf("videos for series: %w", err)
	}
	for _, v := range videos {
		logger.Info("video", "series_id", seriesID, "video_id", v.ID, "platform", v.Platform,
			"platform_video_id", v.PlatformVideoID, "title", v.Title)
	}
	return nil
}

func parseStages(raw, mode string) ([]domain.StageName, error) {
	if raw != "" {
		parts := strings.Split(raw, ",")
		names := make([]domain.StageName, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				names = append(names, domain.StageName(p))
			}
		}
		return names, nil
	}
	if mode == "full" {
		return domain.AllStages, nil
	}
	return nil, fmt.Errorf("-stages is required unless -mode=full")
}
