package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arbitration-rag/internal/bedrock"
	"arbitration-rag/internal/cache"
	"arbitration-rag/internal/chunker"
	"arbitration-rag/internal/config"
	"arbitration-rag/internal/corpus"
	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/embedding"
	titan "arbitration-rag/internal/embedding/bedrock"
	"arbitration-rag/internal/embedding/hash"
	lcembed "arbitration-rag/internal/embedding/langchain"
	"arbitration-rag/internal/embedding/openai"
	"arbitration-rag/internal/embedding/tfidf"
	claude "arbitration-rag/internal/generator/bedrock"
	"arbitration-rag/internal/generator/extractive"
	lcgen "arbitration-rag/internal/generator/langchain"
	"arbitration-rag/internal/retrieval"
	"arbitration-rag/internal/summarizer"
	"arbitration-rag/internal/vectorstore"
	"arbitration-rag/internal/vectorstore/chromem"
	"arbitration-rag/internal/vectorstore/memory"
	"arbitration-rag/internal/vectorstore/qdrant"
)

const systemPrompt = "You answer questions about international arbitration cases using only the numbered context passages. Cite passages by number. If the context is insufficient, say so."

type Dependencies struct {
	Service *retrieval.Service
	Logger  *zerolog.Logger

	closers []io.Closer
}

// Close releases network clients opened by Wire.
func (d *Dependencies) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Wire builds the retrieval service described by cfg. The service is
// returned uninitialized.
func Wire(ctx context.Context, cfg *config.AppConfig, logger *zerolog.Logger) (*Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	w := &wiring{cfg: cfg, logger: logger}
	deps := &Dependencies{Logger: logger}

	model, err := w.createEmbedder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	engine := embedding.NewEngine(model, logger)

	storeOpts := []memory.Option{memory.WithLogger(logger)}
	if idx := w.createIndex(); idx != nil {
		storeOpts = append(storeOpts, memory.WithIndex(idx))
	}
	store := memory.NewStore(engine, storeOpts...)

	gen, err := w.createGenerator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	var answerCache retrieval.AnswerCache
	if cfg.Cache.Enabled {
		client, err := cache.Connect(ctx, cfg.Cache.Addr, os.Getenv(cfg.Cache.PasswordEnv), cfg.Cache.DB, 3, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("answer cache disabled")
		} else {
			deps.closers = append(deps.closers, client)
			answerCache = newAnswerCache(client, cfg.Cache.TTLSecs, logger)
		}
	}

	sum := summarizer.NewFrequencySummarizer()
	deps.Service = retrieval.New(retrieval.Deps{
		Loader:     corpus.NewDirLoader(cfg.Corpus.Dir, logger),
		Chunker:    chunker.NewWindowChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap),
		Engine:     engine,
		Store:      store,
		Generator:  gen,
		Summarizer: sum,
		Cache:      answerCache,
	}, retrieval.Options{
		TopK:             cfg.Retrieval.TopK,
		MetadataTopK:     cfg.Retrieval.MetadataTopK,
		LexicalFallback:  cfg.Retrieval.LexicalFallback,
		SummarySentences: cfg.Summarizer.MaxSentences,
	}, logger)

	logger.Info().
		Str("embedder", model.Name()).
		Str("index", cfg.VectorStore.Index).
		Str("generator", cfg.Generator.Type).
		Bool("cache", answerCache != nil).
		Msg("components wired")
	return deps, nil
}

func newAnswerCache(client *redis.Client, ttlSecs int, logger *zerolog.Logger) *cache.AnswerCache {
	return cache.NewAnswerCache(client, time.Duration(ttlSecs)*time.Second, logger)
}

type wiring struct {
	cfg     *config.AppConfig
	logger  *zerolog.Logger
	bedrock map[string]*bedrock.Client
}

// bedrockClient shares one runtime client per region.
func (w *wiring) bedrockClient(ctx context.Context, bc *config.BedrockConfig) (*bedrock.Client, error) {
	region := bc.ResolveRegion()
	if c, ok := w.bedrock[region]; ok {
		return c, nil
	}
	c, err := bedrock.NewClient(ctx, region, w.logger)
	if err != nil {
		return nil, err
	}
	if w.bedrock == nil {
		w.bedrock = map[string]*bedrock.Client{}
	}
	w.bedrock[region] = c
	return c, nil
}

func (w *wiring) createEmbedder(ctx context.Context) (domain.Embedder, error) {
	ec := w.cfg.Embedder
	switch ec.Type {
	case "hash":
		return hash.NewEmbedder(ec.Dimension), nil
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if ec.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    ec.OpenAI.BaseURL,
			APIKeyEnv:  ec.OpenAI.APIKeyEnv,
			Model:      ec.OpenAI.Model,
			Timeout:    time.Duration(ec.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: ec.OpenAI.MaxRetries,
		}, w.logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "bedrock":
		if ec.Bedrock == nil {
			return nil, fmt.Errorf("bedrock embedder config missing")
		}
		client, err := w.bedrockClient(ctx, ec.Bedrock)
		if err != nil {
			return nil, err
		}
		return titan.NewEmbedder(client, ec.Bedrock.ModelID, ec.Dimension), nil
	case "langchain":
		if ec.Langchain == nil {
			return nil, fmt.Errorf("langchain embedder config missing")
		}
		emb, err := lcembed.New(lcembed.Options{
			Provider:  ec.Langchain.Provider,
			BaseURL:   ec.Langchain.BaseURL,
			Model:     ec.Langchain.Model,
			APIKeyEnv: ec.Langchain.APIKeyEnv,
			Dimension: ec.Dimension,
		})
		if err != nil {
			return nil, err
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", ec.Type)
	}
}

func (w *wiring) createIndex() vectorstore.Index {
	vc := w.cfg.VectorStore
	switch vc.Index {
	case "chromem":
		return chromem.NewIndex(vc.Collection)
	case "qdrant":
		if vc.Qdrant == nil {
			vc.Qdrant = &config.QdrantConfig{}
		}
		return qdrant.NewIndex(qdrant.Config{
			URL:        vc.Qdrant.URL,
			APIKey:     os.Getenv(vc.Qdrant.APIKeyEnv),
			Collection: vc.Collection,
			Timeout:    time.Duration(vc.Qdrant.TimeoutSecs) * time.Second,
		})
	default:
		return nil
	}
}

func (w *wiring) createGenerator(ctx context.Context) (domain.TextGenerator, error) {
	gc := w.cfg.Generator
	switch gc.Type {
	case "extractive":
		return extractive.New(summarizer.NewFrequencySummarizer(), w.cfg.Summarizer.MaxSentences), nil
	case "bedrock":
		if gc.Bedrock == nil {
			return nil, fmt.Errorf("bedrock generator config missing")
		}
		client, err := w.bedrockClient(ctx, gc.Bedrock)
		if err != nil {
			return nil, err
		}
		return claude.New(client, claude.Options{
			ModelID:     gc.Bedrock.ModelID,
			MaxTokens:   gc.MaxTokens,
			Temperature: gc.Temperature,
			System:      systemPrompt,
		}), nil
	case "langchain":
		if gc.Langchain == nil {
			return nil, fmt.Errorf("langchain generator config missing")
		}
		gen, err := lcgen.New(lcgen.Options{
			Provider:    gc.Langchain.Provider,
			BaseURL:     gc.Langchain.BaseURL,
			Model:       gc.Langchain.Model,
			APIKeyEnv:   gc.Langchain.APIKeyEnv,
			MaxTokens:   gc.MaxTokens,
			Temperature: gc.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", gc.Type)
	}
}
