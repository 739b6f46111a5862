// Package app wires every component from a resolved config.Config into a
// running instance: metadata/ledger/throttle/DLQ/index-record stores over
// Postgres, the three retrieval sinks, the upstream provider clients, the
// stage workers, and C2-C10's in-process façades. cmd/autopilotctl and
// cmd/retrieve-api both build one of these rather than duplicating wiring.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/autopiloot/corepipe/internal/domain"

	"github.com/autopiloot/corepipe/internal/chunk"
	"github.com/autopiloot/corepipe/internal/config"
	"github.com/autopiloot/corepipe/internal/observability"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/pipeline/alerts"
	"github.com/autopiloot/corepipe/internal/pipeline/dispatch"
	"github.com/autopiloot/corepipe/internal/pipeline/dlq"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/pipeline/planner"
	"github.com/autopiloot/corepipe/internal/providers"
	"github.com/autopiloot/corepipe/internal/retrieve/fanout"
	"github.com/autopiloot/corepipe/internal/retrieve/policy"
	"github.com/autopiloot/corepipe/internal/sinks"
	"github.com/autopiloot/corepipe/internal/sinks/keyword"
	"github.com/autopiloot/corepipe/internal/sinks/semantic"
	"github.com/autopiloot/corepipe/internal/sinks/structured"
	"github.com/autopiloot/corepipe/internal/store"
	"github.com/autopiloot/corepipe/internal/store/postgres"
	"github.com/autopiloot/corepipe/internal/workers"
)

// VectorDims is the embedding dimensionality the semantic sink's collection
// is created with; nomic-embed-text (this project's default Ollama model)
// emits 768-dimensional vectors.
const VectorDims = 768

// App holds every wired component. Fields are exported so cmd/ entrypoints
// can reach into them directly (there is no further facade above this).
type App struct {
	Config config.Config
	Log    *slog.Logger

	Pool *pgxpool.Pool
	NC   *nats.Conn

	Videos  store.VideoStore
	DLQ     *dlq.Queue
	Alerts  *alerts.Sink
	Ledger  *ledger.Ledger
	Records store.IndexRecordStore

	Semantic   *semantic.Store
	Keyword    *keyword.Store
	Structured *structured.Store

	Blobs       providers.BlobStore
	Chat        providers.ChatProvider
	Embedder    providers.Embedder
	Dispatcher  *dispatch.Dispatcher
	RunEmitter  *observability.RunEmitter
	PolicyCheck *policy.Enforcer
	Fanout      *fanout.Engine
	Planner     *planner.Planner
}

// slackNotifier posts alert payloads to a Slack incoming webhook, the
// concrete Notifier alerts.Sink is deliberately decoupled from.
type slackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

func (n *slackNotifier) Notify(ctx context.Context, alertType string, severity domain.DLQSeverity, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"text": fmt.Sprintf("[%s] %s: %v", severity, alertType, payload),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}
	return nil
}

// Build wires every component from cfg. It applies Postgres migrations,
// connects NATS and the three retrieval sinks, and constructs the stage
// workers and C5 dispatcher, but does not call Dispatcher.Start; callers
// that run the pipeline (cmd/autopilotctl run-daily) do that explicitly.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if err := postgres.Migrate(cfg.Env.PostgresDSN); err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.Env.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("app: postgres pool: %w", err)
	}

	nc, err := nats.Connect(cfg.Env.NATSURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: nats connect: %w", err)
	}

	videos := postgres.NewVideoStore(pool)
	dlqStore := postgres.NewDLQStore(pool)
	throttleStore := postgres.NewThrottleStore(pool)
	ledgerStore := postgres.NewLedgerStore(pool)
	records := postgres.NewIndexRecordStore(pool)

	var notifier alerts.Notifier
	if cfg.Env.SlackWebhookURL != "" {
		notifier = &slackNotifier{webhookURL: cfg.Env.SlackWebhookURL, httpClient: &http.Client{Timeout: 10 * time.Second}}
	}
	alertSink := alerts.New(throttleStore, notifier, log)

	quotaCaps := map[string]float64{
		"youtube":    cfg.Quotas.YouTubeDailyLimit,
		"assemblyai": cfg.Quotas.AssemblyAIDailyLimitUSD,
	}
	led := ledger.New(ledgerStore, cfg.Location(), cfg.Budgets.TranscriptionDailyUSD, quotaCaps, alertSink)

	semanticStore, err := semantic.New(cfg.Env.QdrantAddr, "corepipe_chunks")
	if err != nil {
		return nil, fmt.Errorf("app: semantic sink: %w", err)
	}
	if err := semanticStore.EnsureCollection(ctx, VectorDims); err != nil {
		return nil, fmt.Errorf("app: ensure qdrant collection: %w", err)
	}

	var keywordStore *keyword.Store
	if cfg.Env.OpenSearchURL != "" {
		keywordStore = keyword.New(cfg.Env.OpenSearchURL, "corepipe_chunks")
	}

	var structuredStore *structured.Store
	if cfg.Env.ClickHouseDSN != "" {
		structuredStore, err = structured.New(cfg.Env.ClickHouseDSN, "default", "default", "")
		if err != nil {
			return nil, fmt.Errorf("app: structured sink: %w", err)
		}
		if err := structuredStore.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("app: ensure clickhouse table: %w", err)
		}
	}

	blobs := providers.NewLocalBlobStore(cfg.Env.BlobStoreDir, func(videoID string) string {
		return fmt.Sprintf("%s/audio/%s.mp3", cfg.Env.BlobStoreDir, videoID)
	})

	ollamaClient := providers.NewOllamaClient(cfg.Env.LLMWorkerAddr, "llama3", "nomic-embed-text")

	lister := providers.NewYouTubeLister(cfg.Env.YouTubeAPIKey)
	transcriber := providers.NewAssemblyAITranscriber(cfg.Env.AssemblyAIKey)

	chunkOpts := chunk.Options{MaxTokensPerChunk: cfg.Chunking.MaxTokensPerChunk, OverlapTokens: cfg.Chunking.OverlapTokens}

	dlqQueue := dlq.New(dlqStore, nil) // republisher attached below once the dispatcher exists

	workerMap := map[pipeline.StageName]pipeline.Worker{
		pipeline.StageScrape:     workers.NewScrapeWorker(lister, nil, videos, 0, log),
		pipeline.StageTranscribe: workers.NewTranscribeWorker(transcriber, blobs, videos, led),
		pipeline.StageSummarize:  workers.NewSummarizeWorker(ollamaClient, blobs, videos, chunkOpts),
		pipeline.StageIndex:      workers.NewIndexWorker(ollamaClient, blobs, videos, records, sinksOrNil(semanticStore), sinksOrNilKeyword(keywordStore), sinksOrNilStructured(structuredStore), chunkOpts),
	}

	dispatchCfg := dispatch.Config{MaxRetries: cfg.Retries.MaxAttempts}
	dispatcher := dispatch.New(nc, videos, led, dlqQueue, alertSink, workerMap, dispatchCfg, log)

	// Wire DLQ replay back through the now-constructed dispatcher.
	dlqQueue = dlq.New(dlqStore, dispatcher)

	enforcer, err := policy.NewEnforcer("retrieval-api")
	if err != nil {
		return nil, fmt.Errorf("app: policy enforcer: %w", err)
	}

	fanoutEngine := fanout.New(sinksOrNil(semanticStore), sinksOrNilKeyword(keywordStore), sinksOrNilStructured(structuredStore), ollamaClient, nil).
		WithFusionMode(fanout.FusionMode(cfg.Retrieval.FusionMode))
	if cfg.Retrieval.PerSourceTimeoutMs > 0 {
		fanoutEngine = fanoutEngine.WithTimeout(time.Duration(cfg.Retrieval.PerSourceTimeoutMs) * time.Millisecond)
	}

	runEmitter := observability.NewRunEmitter(log, alertSink)

	runPlanner := planner.New(videos, dlqQueue, led, runEmitter, dispatcher, cfg.Scheduler.DailyLimitPerChannel, quotaCaps)

	return &App{
		Config: cfg, Log: log, Pool: pool, NC: nc,
		Videos: videos, DLQ: dlqQueue, Alerts: alertSink, Ledger: led, Records: records,
		Semantic: semanticStore, Keyword: keywordStore, Structured: structuredStore,
		Blobs: blobs, Chat: ollamaClient, Embedder: ollamaClient,
		Dispatcher: dispatcher, RunEmitter: runEmitter, PolicyCheck: enforcer, Fanout: fanoutEngine,
		Planner: runPlanner,
	}, nil
}

// Close releases every external connection App holds.
func (a *App) Close() {
	if a.NC != nil {
		a.NC.Close()
	}
	if a.Semantic != nil {
		_ = a.Semantic.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

func sinksOrNil(s *semantic.Store) sinks.SemanticSink {
	if s == nil {
		return nil
	}
	return s
}

func sinksOrNilKeyword(s *keyword.Store) sinks.KeywordSink {
	if s == nil {
		return nil
	}
	return s
}

func sinksOrNilStructured(s *structured.Store) sinks.StructuredSink {
	if s == nil {
		return nil
	}
	return s
}
