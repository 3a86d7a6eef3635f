package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/controller"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/metrics"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/unitofwork"
	sessionmemory "github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/memory"
	sessionredis "github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/redis"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/service"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/websocket"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/blob"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/embedding"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/extractor"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm/factory"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/memory"
	pktNats "github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/nats"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/query"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/response"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/session"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/state"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/recommendation"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval/httpkb"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval/qdrantkb"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

const eventTopic = "intake_events"

type Container struct {
	ChatbotController   controller.IChatbotController
	ConversationService service.IConversationService

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	WebSocketHub    *websocket.Hub

	Metrics *metrics.Metrics
	Logger  logger.ILogger

	closers []func()
}

// Options switch off the parts a caller does not need. The CLI runs without
// Redis or the websocket hub.
type Options struct {
	// DB backs the pgvector memory store; nil is fine for other backends.
	DB       *gorm.DB
	Realtime bool
	// Quiet keeps logs out of stdout; they go to the log file only.
	Quiet bool
}

func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	// 1. Core Facades
	var sysLogger logger.ILogger
	if opts.Quiet {
		sysLogger = logger.NewFileLogger(cfg.App.LogFilePath)
	} else {
		sysLogger = logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	}
	m := metrics.New()
	c := &Container{Metrics: m, Logger: sysLogger}

	// 2. AI providers
	llmProvider, err := factory.NewLLMProvider(ctx, factory.Params{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  llmBaseURL(cfg),
		APIKey:   llmAPIKey(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	sysLogger.Info("BOOTSTRAP", "LLM provider ready", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	var embedder embedding.EmbeddingProvider
	needsEmbedder := cfg.Memory.Backend == "pgvector" || cfg.Retrieval.Backend == "qdrant"
	if needsEmbedder {
		embedder, err = embedding.NewProvider(ctx, cfg.Ai.EmbeddingProvider, cfg.Ai.EmbeddingModel, cfg.Ai.OllamaBaseURL, cfg.Ai.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init embedding provider: %w", err)
		}
	}

	// 3. Knowledge base + gateway
	kb, closeKB, err := newKnowledgeBase(cfg, embedder, llmProvider)
	if err != nil {
		return nil, err
	}
	if closeKB != nil {
		c.closers = append(c.closers, closeKB)
	}
	gateway := retrieval.NewGateway(kb, retrieval.Config{
		KnowledgeBaseID: cfg.Retrieval.KnowledgeBaseID,
		ModelID:         cfg.Retrieval.ModelID,
		MaxResults:      cfg.Retrieval.MaxResults,
		Timeout:         cfg.Retrieval.Timeout,
		MaxAttempts:     cfg.Retrieval.MaxAttempts,
		RetryInterval:   cfg.Retrieval.RetryInterval,
	}, sysLogger, m)

	// 4. Long-term memory
	memStore, err := newMemoryStore(cfg, opts.DB, embedder)
	if err != nil {
		return nil, err
	}
	memAdapter := memory.NewAdapter(memStore, sysLogger)

	// 5. Redis (shared sessions and websocket fan-out)
	var rdb *redis.Client
	if cfg.Session.Store == "redis" || opts.Realtime {
		rdb = connectRedis(ctx, cfg.App.RedisURL, sysLogger)
		if rdb != nil {
			c.closers = append(c.closers, func() { _ = rdb.Close() })
		}
	}

	sessionStore, err := newSessionStore(cfg, rdb, m, sysLogger)
	if err != nil {
		return nil, err
	}

	// 6. Event Bus
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	var forward events.Publisher
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "NATS unavailable, events stay in-process", map[string]interface{}{"error": err.Error()})
		} else {
			forward = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}
	publisherService := service.NewPublisherService(eventTopic, pubSub, forward)

	// 7. WebSocket Hub
	var notifier service.EventNotifier
	if opts.Realtime {
		c.WebSocketHub = websocket.NewHub(rdb, sysLogger)
		notifier = c.WebSocketHub
	}
	c.ConsumerService = service.NewConsumerService(pubSub, eventTopic, memAdapter, notifier, sysLogger)

	// 8. Conversation
	blobs, err := blob.NewLocalStore(cfg.Upload.Dir)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	extractOpts := extractor.DefaultOptions()
	extractOpts.MaxChars = cfg.Extraction.MaxChars
	extractOpts.MaxChunks = cfg.Extraction.MaxChunks
	extractOpts.Timeout = cfg.Extraction.Timeout

	c.ConversationService = service.NewConversationService(
		session.NewManager(sessionStore, memAdapter, sysLogger),
		state.NewManager(sysLogger),
		extractor.NewExtractor(llmProvider, sysLogger, extractOpts),
		query.NewBuilder(true),
		gateway,
		response.NewGenerator(llmProvider, sysLogger).WithTimeout(cfg.Generation.Timeout),
		recommendation.NewParser(),
		blobs,
		publisherService,
		m,
		sysLogger,
		service.ConversationLimits{MaxUploadBytes: cfg.Upload.MaxBytes},
	)

	// 9. Controllers
	// base64 frames are a third larger than the raw upload limit
	maxFrame := int64(cfg.Upload.MaxBytes)*4/3 + 64*1024
	c.ChatbotController = controller.NewChatbotController(c.ConversationService, c.WebSocketHub, maxFrame, sysLogger)

	return c, nil
}

// Start runs the background workers until ctx is done.
func (c *Container) Start(ctx context.Context) error {
	if c.WebSocketHub != nil {
		go c.WebSocketHub.Run(ctx)
	}
	return c.ConsumerService.Consume(ctx)
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}

// newKnowledgeBase also returns a closer for backends holding a connection.
func newKnowledgeBase(cfg *config.Config, embedder embedding.EmbeddingProvider, generator llm.LLMProvider) (retrieval.KnowledgeBase, func(), error) {
	switch cfg.Retrieval.Backend {
	case "qdrant":
		client, err := qdrantkb.Dial(qdrantkb.ConnConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, nil, err
		}
		return qdrantkb.NewClient(client, embedder, generator), func() { _ = client.Close() }, nil
	case "http", "":
		return httpkb.NewClient(cfg.Retrieval.Endpoint, cfg.Retrieval.APIKey, cfg.Retrieval.Region), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported knowledge base backend: %s", cfg.Retrieval.Backend)
	}
}

func newMemoryStore(cfg *config.Config, db *gorm.DB, embedder embedding.EmbeddingProvider) (memory.Store, error) {
	switch cfg.Memory.Backend {
	case "none", "":
		return memory.NoopStore{}, nil
	case "inmemory":
		return memory.NewInMemoryStore(), nil
	case "pgvector":
		if db == nil {
			return nil, errors.New("pgvector memory backend needs DB_CONNECTION_STRING")
		}
		return service.NewVectorMemoryStore(unitofwork.NewRepositoryFactory(db), embedder), nil
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Memory.Backend)
	}
}

func newSessionStore(cfg *config.Config, rdb *redis.Client, m *metrics.Metrics, log logger.ILogger) (store.SessionStore, error) {
	switch cfg.Session.Store {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis session store selected but Redis is unreachable")
		}
		return sessionredis.NewSessionRepository(rdb, cfg.Session.IdleTTL, cfg.Session.MaxEntries), nil
	case "memory", "":
		return sessionmemory.NewSessionRepository(cfg.Session.MaxEntries, cfg.Session.IdleTTL, func(s *store.Session, reason string) {
			m.ObserveSessionEviction(reason)
			log.Info("SESSION", "Session evicted", map[string]interface{}{
				"session_id": s.ID,
				"reason":     reason,
			})
		}), nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Session.Store)
	}
}

func connectRedis(ctx context.Context, url string, log logger.ILogger) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("BOOTSTRAP", "Failed to parse Redis URL, using it as an address", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("BOOTSTRAP", "Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func llmAPIKey(cfg *config.Config) string {
	switch cfg.Ai.LLMProvider {
	case "gemini":
		return cfg.Ai.GeminiAPIKey
	case "huggingface":
		return cfg.Ai.HuggingFaceToken
	}
	return ""
}

func llmBaseURL(cfg *config.Config) string {
	if cfg.Ai.LLMBaseURL != "" || cfg.Ai.LLMProvider != "ollama" {
		return cfg.Ai.LLMBaseURL
	}
	return cfg.Ai.OllamaBaseURL
}
