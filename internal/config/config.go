// Package config loads the pipeline worker's configuration from a file,
// environment variables, and command-line flags, in that precedence
// order (flags win), using Viper the way the EVE service's cli package
// does it: bind flags into Viper, let AutomaticEnv fill the rest.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the flat configuration surface for cmd/pipeline-worker,
// cmd/dispatcher, and cmd/migrate.
type Config struct {
	// Postgres is the persistence gateway DSN (core/content/intelligence/system schemas).
	Postgres string `mapstructure:"postgres_dsn"`

	// Neo4j is the cross-reference graph connection.
	Neo4jURI  string `mapstructure:"neo4j_uri"`
	Neo4jUser string `mapstructure:"neo4j_user"`
	Neo4jPass string `mapstructure:"neo4j_pass"`

	// Qdrant is the embedding vector store.
	QdrantAddr       string `mapstructure:"qdrant_addr"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	VectorDims       int    `mapstructure:"vector_dims"`

	// NATS is the processing queue transport.
	NATSURL    string `mapstructure:"nats_url"`
	NATSStream string `mapstructure:"nats_stream"`

	// S3 is the blob store for source PDFs and extracted images.
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	// MaxConcurrentDocuments bounds the executor's parallel document count.
	MaxConcurrentDocuments int `mapstructure:"max_concurrent_documents"`
	// VisionConcurrency is loaded from config but not read by any
	// component; concurrent vision-model calls are not bounded by it.
	VisionConcurrency int `mapstructure:"vision_concurrency"`
	// EmbeddingInterCallDelay is loaded from config but not read by any
	// component; calls to the embedding model are not throttled by it.
	EmbeddingInterCallDelay time.Duration `mapstructure:"embedding_inter_call_delay"`
	// VisualEmbeddingCap bounds how many images visual_embedding processes
	// per document per run (default tuned for an 8GB GPU).
	VisualEmbeddingCap int `mapstructure:"visual_embedding_cap"`
	// VisualEmbeddingDelay is the minimum delay between successive vision
	// model calls within a single visual_embedding run.
	VisualEmbeddingDelay time.Duration `mapstructure:"visual_embedding_delay"`

	// LeaseDuration is how long a stage lease is held before it must be extended.
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// BatchSyncThreshold is the item count above which a batch runs async.
	BatchSyncThreshold int `mapstructure:"batch_sync_threshold"`

	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`

	// EmbeddingServiceURL is the HTTP endpoint of the text embedding
	// model server consumed by internal/enrich.HTTPEmbedder.
	EmbeddingServiceURL string `mapstructure:"embedding_service_url"`
	// EmbeddingModel names the model the embedding service should load.
	EmbeddingModel string `mapstructure:"embedding_model"`
	// VisionServiceURL is the HTTP endpoint of the vision model server
	// consumed by internal/enrich.HTTPVisionModel.
	VisionServiceURL string `mapstructure:"vision_service_url"`
	// VisionModel names the model the vision service should load.
	VisionModel string `mapstructure:"vision_model"`
	// YouTubeAPIKey authenticates internal/enrich.YouTubeMetadataService.
	// Left empty disables video metadata enrichment.
	YouTubeAPIKey string `mapstructure:"youtube_api_key"`
}

// Defaults mirrors the teacher's flag defaults, generalized to this domain.
func Defaults() Config {
	return Config{
		Postgres:                "postgres://localhost:5432/manual2vector?sslmode=disable",
		Neo4jURI:                "bolt://localhost:7687",
		Neo4jUser:               "neo4j",
		Neo4jPass:               "neo4j",
		QdrantAddr:              "localhost:6334",
		QdrantCollection:        "manual2vector",
		VectorDims:              768,
		NATSURL:                 "nats://localhost:4222",
		NATSStream:              "MANUAL2VECTOR_TASKS",
		S3Bucket:                "manual2vector",
		S3Region:                "us-east-1",
		MaxConcurrentDocuments:  4,
		VisionConcurrency:       2,
		EmbeddingInterCallDelay: 100 * time.Millisecond,
		VisualEmbeddingCap:      5,
		VisualEmbeddingDelay:    500 * time.Millisecond,
		LeaseDuration:           5 * time.Minute,
		BatchSyncThreshold:      50,
		MetricsPort:             9090,
		LogLevel:                "info",
		EmbeddingServiceURL:     "http://localhost:8081",
		EmbeddingModel:          "bge-base-en",
		VisionServiceURL:        "http://localhost:8082",
		VisionModel:             "llava",
	}
}

// Load reads configuration from an optional file, environment variables
// prefixed MANUAL2VECTOR_, and the given flag set, in ascending
// precedence (flags override env, env overrides file, file overrides
// Defaults()).
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	d := Defaults()
	v := viper.New()
	v.SetEnvPrefix("manual2vector")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := fs.String("config", "", "path to a YAML config file")
	postgres := fs.String("postgres", d.Postgres, "Postgres DSN")
	neo4jURI := fs.String("neo4j", d.Neo4jURI, "Neo4j bolt URI")
	neo4jUser := fs.String("neo4j-user", d.Neo4jUser, "Neo4j username")
	neo4jPass := fs.String("neo4j-pass", d.Neo4jPass, "Neo4j password")
	qdrantAddr := fs.String("qdrant", d.QdrantAddr, "Qdrant gRPC address")
	qdrantCollection := fs.String("collection", d.QdrantCollection, "Qdrant collection name")
	vectorDims := fs.Int("vector-dims", d.VectorDims, "embedding vector dimensionality")
	natsURL := fs.String("nats", d.NATSURL, "NATS server URL")
	natsStream := fs.String("nats-stream", d.NATSStream, "NATS JetStream stream name")
	s3Bucket := fs.String("s3-bucket", d.S3Bucket, "S3 bucket for blobs")
	s3Region := fs.String("s3-region", d.S3Region, "S3 region")
	s3Endpoint := fs.String("s3-endpoint", "", "S3-compatible endpoint override")
	maxConcurrent := fs.Int("max-concurrent-documents", d.MaxConcurrentDocuments, "max documents processed concurrently")
	visionConcurrency := fs.Int("vision-concurrency", d.VisionConcurrency, "max concurrent vision model calls")
	embeddingDelay := fs.Duration("embedding-inter-call-delay", d.EmbeddingInterCallDelay, "minimum delay between embedding model calls")
	visualEmbeddingCap := fs.Int("visual-embedding-cap", d.VisualEmbeddingCap, "max images processed by visual_embedding per document per run")
	visualEmbeddingDelay := fs.Duration("visual-embedding-delay", d.VisualEmbeddingDelay, "minimum delay between visual_embedding vision model calls")
	leaseDuration := fs.Duration("lease-duration", d.LeaseDuration, "stage lease duration")
	batchThreshold := fs.Int("batch-sync-threshold", d.BatchSyncThreshold, "item count above which a batch runs async")
	metricsPort := fs.Int("metrics-port", d.MetricsPort, "internal metrics endpoint port")
	logLevel := fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	embeddingServiceURL := fs.String("embedding-service-url", d.EmbeddingServiceURL, "text embedding service URL")
	embeddingModel := fs.String("embedding-model", d.EmbeddingModel, "text embedding model name")
	visionServiceURL := fs.String("vision-service-url", d.VisionServiceURL, "vision model service URL")
	visionModel := fs.String("vision-model", d.VisionModel, "vision model name")
	youtubeAPIKey := fs.String("youtube-api-key", d.YouTubeAPIKey, "YouTube Data API key for video metadata enrichment")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", *configFile, err)
		}
	}

	flagSet := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { flagSet[f.Name] = true })

	cfg := d
	apply(&cfg.Postgres, "postgres_dsn", *postgres, flagSet["postgres"], v)
	apply(&cfg.Neo4jURI, "neo4j_uri", *neo4jURI, flagSet["neo4j"], v)
	apply(&cfg.Neo4jUser, "neo4j_user", *neo4jUser, flagSet["neo4j-user"], v)
	apply(&cfg.Neo4jPass, "neo4j_pass", *neo4jPass, flagSet["neo4j-pass"], v)
	apply(&cfg.QdrantAddr, "qdrant_addr", *qdrantAddr, flagSet["qdrant"], v)
	apply(&cfg.QdrantCollection, "qdrant_collection", *qdrantCollection, flagSet["collection"], v)
	apply(&cfg.NATSURL, "nats_url", *natsURL, flagSet["nats"], v)
	apply(&cfg.NATSStream, "nats_stream", *natsStream, flagSet["nats-stream"], v)
	apply(&cfg.S3Bucket, "s3_bucket", *s3Bucket, flagSet["s3-bucket"], v)
	apply(&cfg.S3Region, "s3_region", *s3Region, flagSet["s3-region"], v)
	apply(&cfg.S3Endpoint, "s3_endpoint", *s3Endpoint, flagSet["s3-endpoint"], v)
	apply(&cfg.LogLevel, "log_level", *logLevel, flagSet["log-level"], v)
	apply(&cfg.EmbeddingServiceURL, "embedding_service_url", *embeddingServiceURL, flagSet["embedding-service-url"], v)
	apply(&cfg.EmbeddingModel, "embedding_model", *embeddingModel, flagSet["embedding-model"], v)
	apply(&cfg.VisionServiceURL, "vision_service_url", *visionServiceURL, flagSet["vision-service-url"], v)
	apply(&cfg.VisionModel, "vision_model", *visionModel, flagSet["vision-model"], v)
	apply(&cfg.YouTubeAPIKey, "youtube_api_key", *youtubeAPIKey, flagSet["youtube-api-key"], v)

	applyInt(&cfg.VectorDims, "vector_dims", *vectorDims, flagSet["vector-dims"], v)
	applyInt(&cfg.MaxConcurrentDocuments, "max_concurrent_documents", *maxConcurrent, flagSet["max-concurrent-documents"], v)
	applyInt(&cfg.VisionConcurrency, "vision_concurrency", *visionConcurrency, flagSet["vision-concurrency"], v)
	applyInt(&cfg.VisualEmbeddingCap, "visual_embedding_cap", *visualEmbeddingCap, flagSet["visual-embedding-cap"], v)
	applyInt(&cfg.BatchSyncThreshold, "batch_sync_threshold", *batchThreshold, flagSet["batch-sync-threshold"], v)
	applyInt(&cfg.MetricsPort, "metrics_port", *metricsPort, flagSet["metrics-port"], v)

	applyDuration(&cfg.EmbeddingInterCallDelay, "embedding_inter_call_delay", *embeddingDelay, flagSet["embedding-inter-call-delay"], v)
	applyDuration(&cfg.LeaseDuration, "lease_duration", *leaseDuration, flagSet["lease-duration"], v)
	applyDuration(&cfg.VisualEmbeddingDelay, "visual_embedding_delay", *visualEmbeddingDelay, flagSet["visual-embedding-delay"], v)

	return cfg, nil
}

func apply(dst *string, key, flagVal string, flagSet bool, v *viper.Viper) {
	if flagSet {
		*dst = flagVal
		return
	}
	if v.IsSet(key) {
		*dst = v.GetString(key)
		return
	}
	*dst = flagVal
}

func applyInt(dst *int, key string, flagVal int, flagSet bool, v *viper.Viper) {
	if flagSet {
		*dst = flagVal
		return
	}
	if v.IsSet(key) {
		*dst = v.GetInt(key)
		return
	}
	*dst = flagVal
}

func applyDuration(dst *time.Duration, key string, flagVal time.Duration, flagSet bool, v *viper.Viper) {
	if flagSet {
		*dst = flagVal
		return
	}
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
		return
	}
	*dst = flagVal
}
