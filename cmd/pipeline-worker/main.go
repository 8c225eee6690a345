// Command pipeline-worker boots the Pipeline Executor against the
// processing queue: it dequeues pipeline-run and batch-mutation tasks
// and drives each through the stage graph or the batch engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kunzeritter/manual2vector/internal/batch"
	"github.com/kunzeritter/manual2vector/internal/blobstore"
	"github.com/kunzeritter/manual2vector/internal/config"
	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/enrich"
	"github.com/kunzeritter/manual2vector/internal/fn"
	"github.com/kunzeritter/manual2vector/internal/graphlinks"
	"github.com/kunzeritter/manual2vector/internal/metrics"
	"github.com/kunzeritter/manual2vector/internal/mid"
	"github.com/kunzeritter/manual2vector/internal/pipeline"
	"github.com/kunzeritter/manual2vector/internal/processor"
	"github.com/kunzeritter/manual2vector/internal/queue"
	"github.com/kunzeritter/manual2vector/internal/retry"
	"github.com/kunzeritter/manual2vector/internal/stages"
	"github.com/kunzeritter/manual2vector/internal/stagestatus"
	"github.com/kunzeritter/manual2vector/internal/store"
	"github.com/kunzeritter/manual2vector/internal/vectorstore"
)

const (
	queueSubject  = "tasks.pipeline"
	durableName   = "pipeline-worker"
	taskTypeRun   = "pipeline.run"
	taskTypeBatch = "batch.documents"
)

var met = metrics.New()

var (
	mTasksTotal  = func(taskType string) *metrics.Counter { return met.Counter(metrics.WithLabels("manual2vector_worker_tasks_total", "type", taskType), "Total queue tasks handled") }
	mTasksFailed = func(taskType string) *metrics.Counter { return met.Counter(metrics.WithLabels("manual2vector_worker_tasks_failed_total", "type", taskType), "Total queue tasks that failed") }
	mStageOutcomes = func(stage, state string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("manual2vector_worker_stage_outcomes_total", "stage", stage, "state", state), "Stage outcomes by terminal state")
	}
	mTaskDuration = met.Histogram("manual2vector_worker_task_duration_seconds", "Per-task processing time", nil)
	mActiveTasks  = met.Gauge("manual2vector_worker_active_tasks", "Tasks currently being processed")
)

// runJob is the wire shape of a pipeline-run task dispatched through the
// processing queue: drive documentID through the stage graph under mode.
type runJob struct {
	DocumentID string            `json:"document_id"`
	Mode       string            `json:"mode"`
	Stages     []domain.StageName `json:"stages,omitempty"`
}

func main() {
	fs := flag.NewFlagSet("pipeline-worker", flag.ExitOnError)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stopRuntime := make(chan struct{})
	defer close(stopRuntime)
	go metrics.CollectRuntime(met, 15*time.Second, stopRuntime)

	metricsHandler := mid.Chain(met.Handler(), mid.Logger(log), mid.Recover(log), mid.OTel("pipeline-worker"))
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsHandler)
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok\n")) })
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()
	defer metricsSrv.Shutdown(context.Background())
	log.Info("metrics listening", "port", cfg.MetricsPort)

	gateway, err := store.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()
	log.Info("connected to postgres")

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to neo4j")
	graph := graphlinks.New(driver)

	vectors, err := vectorstore.New(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, cfg.VectorDims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to qdrant", "collection", cfg.QdrantCollection, "dims", cfg.VectorDims)

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		log.Error("s3 connect failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to blob store", "bucket", cfg.S3Bucket)

	q, err := queue.Open(cfg.NATSURL, cfg.NATSStream, queueSubject)
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer q.Close()
	log.Info("connected to nats", "stream", cfg.NATSStream)

	status := stagestatus.New(gateway.Pool())
	retries := retry.New(gateway.Pool(), fn.DefaultRetry)

	var vision enrich.VisionModel
	if cfg.VisionServiceURL != "" {
		vision = enrich.NewHTTPVisionModel(cfg.VisionServiceURL)
	}
	var embedder enrich.TextEmbedder
	if cfg.EmbeddingServiceURL != "" {
		embedder = enrich.NewHTTPEmbedder(cfg.EmbeddingServiceURL, cfg.EmbeddingModel, cfg.VectorDims)
	}
	var videoMeta enrich.VideoMetadataService
	if cfg.YouTubeAPIKey != "" {
		videoMeta = enrich.NewYouTubeMetadataService(cfg.YouTubeAPIKey)
	}

	deps := stages.Deps{
		Gateway: gateway,
		Status:  status,
		Blobs:   blobs,
		Graph:   graph,
		Vectors: vectors,
		// Text/Tables/SVGs/Images extraction backends are not part of
		// this build; a deployment wires a real PDF library behind
		// these interfaces (internal/stages/sources.go).
		Vision:               vision,
		Embedder:             embedder,
		VideoMeta:            videoMeta,
		VisualEmbeddingCap:   cfg.VisualEmbeddingCap,
		VisualEmbeddingDelay: cfg.VisualEmbeddingDelay,
	}

	base := processor.NewBase(status, retries, cfg.LeaseDuration, log)

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
		Base:                   base,
		Status:                 status,
		Documents:              gateway.Documents,
		Retries:                retries,
		Pool:                   gateway.Pool(),
		MaxConcurrentDocuments: cfg.MaxConcurrentDocuments,
		Log:                    log,
	})

	batchEngine := batch.NewEngine[domain.Document, string](
		gateway, batch.DocumentMutator(gateway.Documents), q, taskTypeBatch, cfg.BatchSyncThreshold, log,
	)

	log.Info("pipeline worker ready", "max_concurrent_documents", cfg.MaxConcurrentDocuments)

	err = q.Dequeue(ctx, durableName, cfg.LeaseDuration, func(lease *queue.Lease) {
		mActiveTasks.Inc()
		defer mActiveTasks.Dec()
		start := time.Now()
		defer mTaskDuration.Since(start)

		mTasksTotal(lease.Task.TaskType).Inc()
		switch lease.Task.TaskType {
		case taskTypeRun:
			handleRunJob(lease.Ctx, log, gateway, executor, lease)
		case taskTypeBatch:
			batchEngine.HandleJob(lease.Ctx, lease)
		default:
			log.Warn("unknown task type, dropping", "task_type", lease.Task.TaskType)
			mTasksFailed(lease.Task.TaskType).Inc()
			_ = lease.Ack()
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Error("dequeue loop exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutting down")
}

func handleRunJob(ctx context.Context, log *slog.Logger, gateway *store.Gateway, executor *pipeline.Executor, lease *queue.Lease) {
	var job runJob
	if err := json.Unmarshal(lease.Task.Payload, &job); err != nil {
		log.Error("malformed pipeline-run job, dropping", "error", err)
		mTasksFailed(taskTypeRun).Inc()
		_ = lease.Ack()
		return
	}

	doc, err := gateway.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		log.Error("load document for pipeline run failed", "document_id", job.DocumentID, "error", err)
		mTasksFailed(taskTypeRun).Inc()
		_ = lease.Nack()
		return
	}

	mode := pipeline.ModeSmart
	switch job.Mode {
	case "full":
		mode = pipeline.ModeFull
	case "selective":
		mode = pipeline.ModeSelective
	}

	outcomes, err := executor.Run(ctx, doc, pipeline.RunOptions{Mode: mode, Stages: job.Stages})
	for _, outcome := range outcomes {
		mStageOutcomes(string(outcome.Stage), string(outcome.State)).Inc()
	}
	if err != nil {
		log.Error("pipeline run failed", "document_id", job.DocumentID, "error", err)
		mTasksFailed(taskTypeRun).Inc()
		_ = lease.Nack()
		return
	}
	if err := lease.Ack(); err != nil {
		log.Warn("ack failed", "document_id", job.DocumentID, "error", err)
	}
}
